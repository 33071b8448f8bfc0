package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Signer authenticates payloads towards the broadcaster.
type Signer interface {
	Sign(payload []byte) (string, error)
	Address() string
}

const (
	SignatureHeader = "X-Relay-Signature"
	SignerHeader    = "X-Relay-Address"
)

// RelayConfig controls delivery of outbox rows to the host chain broadcaster.
type RelayConfig struct {
	Endpoint    string
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	// Signer is optional. When set every request carries a signature over
	// the payload.
	Signer Signer
}

// Relay drains the outbox by POSTing each payload to the broadcaster.
type Relay struct {
	outbox *Outbox
	client *http.Client
	cfg    RelayConfig
	logger *slog.Logger
}

// NewRelay builds a relay. A nil client uses a client with a 10s timeout.
func NewRelay(outbox *Outbox, client *http.Client, cfg RelayConfig, logger *slog.Logger) *Relay {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{outbox: outbox, client: client, cfg: cfg, logger: logger.With("component", "relay")}
}

// Run flushes the outbox every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("relay flush failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Flush delivers one batch of pending messages in order and returns how many
// were delivered. Delivery stops at the first failure, so a message is never
// overtaken by a later one while it is still being retried. Once a message
// has failed MaxAttempts times it is parked as FAILED and the messages behind
// it are delivered on the next flush; parked rows need an operator.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	rows, err := r.outbox.Pending(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, row := range rows {
		if err := r.deliver(ctx, row); err != nil {
			if markErr := r.outbox.MarkAttempt(ctx, row.ID, err, r.cfg.MaxAttempts); markErr != nil {
				return delivered, markErr
			}
			return delivered, fmt.Errorf("transport: deliver %s: %w", row.ID, err)
		}
		if err := r.outbox.MarkDelivered(ctx, row.ID); err != nil {
			return delivered, err
		}
		delivered++
		r.logger.Debug("message delivered",
			slog.String("id", row.ID.String()),
			slog.String("kind", row.Kind),
			slog.String("digest", row.Digest))
	}
	return delivered, nil
}

func (r *Relay) deliver(ctx context.Context, row OutboxMessage) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(row.Payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", row.ID.String())
	req.Header.Set("X-Payload-Digest", row.Digest)
	if r.cfg.Signer != nil {
		sig, err := r.cfg.Signer.Sign(row.Payload)
		if err != nil {
			return err
		}
		req.Header.Set(SignatureHeader, sig)
		req.Header.Set(SignerHeader, r.cfg.Signer.Address())
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("broadcaster returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}
