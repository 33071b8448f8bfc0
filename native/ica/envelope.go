package ica

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Action enumerates the verbs a correlation memo may carry.
type Action string

const (
	ActionDeposit   Action = "deposit"
	ActionWithdraw  Action = "withdraw"
	ActionMoveFunds Action = "move_funds"
)

// MemoDelimiter separates the envelope tokens.
const MemoDelimiter = "/"

// envelopeArity is the fixed token count of every verb:
// action, subject, denom, amount, destination.
var envelopeArity = map[Action]int{
	ActionDeposit:   5,
	ActionWithdraw:  5,
	ActionMoveFunds: 5,
}

// Valid reports whether the action belongs to the memo vocabulary.
func (a Action) Valid() bool {
	_, ok := envelopeArity[a]
	return ok
}

// CommandEnvelope is the intent carried across the asynchronous boundary in
// the packet memo.
type CommandEnvelope struct {
	Action      Action
	Subject     string
	Denom       string
	Amount      *uint256.Int
	Destination string
}

// Memo renders the envelope in wire form.
func (e CommandEnvelope) Memo() (string, error) {
	return EncodeEnvelope(e.Action, e.Subject, e.Denom, e.Amount, e.Destination)
}

// EncodeEnvelope produces "<action>/<subject>/<denom>/<amount>/<destination>".
// Anything it accepts decodes back to the same envelope.
func EncodeEnvelope(action Action, subject, denom string, amount *uint256.Int, destination string) (string, error) {
	if !action.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if amount == nil {
		return "", fmt.Errorf("%w: amount missing", ErrInvalidAmount)
	}
	if amount.BitLen() > maxUint128Bits {
		return "", fmt.Errorf("%w: exceeds 128 bits", ErrInvalidAmount)
	}
	tokens := []string{string(action), subject, denom, amount.Dec(), destination}
	for i, token := range tokens[1:] {
		if err := checkToken(token); err != nil {
			return "", fmt.Errorf("token %d: %w", i+1, err)
		}
	}
	return strings.Join(tokens, MemoDelimiter), nil
}

func checkToken(token string) error {
	if token == "" {
		return fmt.Errorf("%w: empty", ErrInvalidToken)
	}
	if strings.Contains(token, MemoDelimiter) {
		return fmt.Errorf("%w: %q contains %q", ErrInvalidToken, token, MemoDelimiter)
	}
	for i := 0; i < len(token); i++ {
		if token[i] < 0x21 || token[i] > 0x7e {
			return fmt.Errorf("%w: %q is not printable ascii", ErrInvalidToken, token)
		}
	}
	return nil
}

// RouteAction resolves the verb arm of a memo from the prefix of its first
// token. Sub-variants such as "deposit_v2" route to the deposit arm.
func RouteAction(firstToken string) (Action, bool) {
	for _, action := range []Action{ActionDeposit, ActionWithdraw, ActionMoveFunds} {
		if strings.HasPrefix(firstToken, string(action)) {
			return action, true
		}
	}
	return "", false
}

// DecodeEnvelope parses a memo. The token count must match the verb's arity
// exactly; nothing is truncated or defaulted.
func DecodeEnvelope(raw string) (CommandEnvelope, error) {
	tokens := strings.Split(raw, MemoDelimiter)
	action, ok := RouteAction(tokens[0])
	if !ok {
		return CommandEnvelope{}, fmt.Errorf("%w: %q", ErrUnknownMemo, raw)
	}
	if len(tokens) != envelopeArity[action] {
		return CommandEnvelope{}, fmt.Errorf("%w: %q has %d tokens, %s expects %d",
			ErrInvalidMemoFormat, raw, len(tokens), action, envelopeArity[action])
	}
	for _, token := range tokens[1:] {
		if token == "" {
			return CommandEnvelope{}, fmt.Errorf("%w: %q has an empty token", ErrInvalidMemoFormat, raw)
		}
	}
	amount, err := ParseAmount(tokens[3])
	if err != nil {
		return CommandEnvelope{}, err
	}
	return CommandEnvelope{
		Action:      action,
		Subject:     tokens[1],
		Denom:       tokens[2],
		Amount:      amount,
		Destination: tokens[4],
	}, nil
}
