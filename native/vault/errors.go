package vault

import (
	"errors"
	"fmt"

	"icavault/native/ica"
)

var (
	ErrUnauthorized          = errors.New("vault: unauthorized")
	ErrDestinationNotFound   = errors.New("vault: outpost not found for destination")
	ErrUnknownMemo           = errors.New("vault: ica memo is unknown")
	ErrInvalidMemoFormat     = errors.New("vault: memo format is unknown")
	ErrIcaQuery              = errors.New("vault: ica query error")
	ErrIcaAcknowledgement    = errors.New("vault: ica acknowledgement error")
	ErrInvalidAmount         = errors.New("vault: failed parsing amount")
	ErrNoCreditAccount       = errors.New("vault: no credit account found")
	ErrInvalidAddress        = errors.New("vault: invalid address")
	ErrDuplicateOutpost      = errors.New("vault: duplicate outpost")
	ErrInvalidOutpost        = errors.New("vault: invalid outpost")
	ErrPayment               = errors.New("vault: invalid payment")
	ErrNotSupported          = errors.New("vault: operation not supported")
	ErrAccountingOverflow    = errors.New("vault: accounting overflow")
	ErrInsufficientPoolValue = errors.New("vault: insufficient pool value")
	ErrNotInstantiated       = errors.New("vault: contract not instantiated")
	ErrAlreadyInstantiated   = errors.New("vault: contract already instantiated")
	ErrInvalidMessage        = errors.New("vault: invalid message")
	ErrCodeNotFound          = errors.New("vault: controller code not found")
	ErrDecodePacket          = errors.New("vault: failed to decode packet data")
)

// codecError translates a codec failure into the vault's error set so callers
// only ever match vault sentinels.
func codecError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ica.ErrUnknownMemo), errors.Is(err, ica.ErrUnknownAction):
		return fmt.Errorf("%w: %v", ErrUnknownMemo, err)
	case errors.Is(err, ica.ErrInvalidAmount):
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	case errors.Is(err, ica.ErrInvalidMemoFormat), errors.Is(err, ica.ErrInvalidToken):
		return fmt.Errorf("%w: %v", ErrInvalidMemoFormat, err)
	case errors.Is(err, ica.ErrDecodePacket):
		return fmt.Errorf("%w: %v", ErrDecodePacket, err)
	case errors.Is(err, ica.ErrDecodeQueryResult), errors.Is(err, ica.ErrEmptyQueryResult):
		return fmt.Errorf("%w: %v", ErrIcaQuery, err)
	case errors.Is(err, ica.ErrAmbiguousUnionType):
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	default:
		return err
	}
}
