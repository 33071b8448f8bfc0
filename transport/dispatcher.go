// Package transport hands committed vault messages to whatever delivers them
// to the host chain.
package transport

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"lukechampine.com/blake3"

	"icavault/native/ica"
)

// ErrEmptyMessage is returned for a message with no populated variant.
var ErrEmptyMessage = errors.New("transport: empty message")

// Dispatcher accepts outbound messages after the command that produced them
// has been committed.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg ica.WasmMsg) error
}

// Encode renders msg in its wire JSON form.
func Encode(msg ica.WasmMsg) ([]byte, error) {
	if msg.Execute == nil && msg.Instantiate2 == nil {
		return nil, ErrEmptyMessage
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("transport: encode %s: %w", msg.Kind(), err)
	}
	return payload, nil
}

// Digest is the hex BLAKE3 digest of an encoded payload. The broadcaster uses
// it to check the payload it received.
func Digest(payload []byte) string {
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Memory records dispatched messages in order. It is used by tests and by the
// daemon when no outbox is configured.
type Memory struct {
	mu   sync.Mutex
	msgs []ica.WasmMsg
}

// NewMemory returns an empty in-memory dispatcher.
func NewMemory() *Memory {
	return &Memory{}
}

// Dispatch appends msg.
func (m *Memory) Dispatch(ctx context.Context, msg ica.WasmMsg) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.Execute == nil && msg.Instantiate2 == nil {
		return ErrEmptyMessage
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	return nil
}

// Messages returns a copy of everything dispatched so far.
func (m *Memory) Messages() []ica.WasmMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ica.WasmMsg, len(m.msgs))
	copy(out, m.msgs)
	return out
}
