package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"icavault/crypto"
	"icavault/native/ica"
)

func newTestOutbox(t *testing.T) *Outbox {
	t.Helper()
	db, err := OpenDB("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	if err != nil {
		t.Fatalf("open outbox: %v", err)
	}
	return NewOutbox(db)
}

func closeChannel(t *testing.T, controller string) ica.WasmMsg {
	t.Helper()
	msg, err := ica.NewCloseChannelMsg(controller)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return msg
}

func TestOutboxEnqueueAndDeliver(t *testing.T) {
	ctx := context.Background()
	outbox := newTestOutbox(t)
	first, err := outbox.Enqueue(ctx, closeChannel(t, "ctrlA"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := outbox.Dispatch(ctx, closeChannel(t, "ctrlB")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if first.Kind != "execute" || first.Target != "ctrlA" || first.State != StatePending {
		t.Fatalf("unexpected row %+v", first)
	}
	if first.Digest != Digest(first.Payload) || len(first.Digest) != 64 {
		t.Fatalf("digest mismatch %s", first.Digest)
	}

	pending, err := outbox.Pending(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	if err := outbox.MarkDelivered(ctx, first.ID); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if err := outbox.MarkDelivered(ctx, first.ID); err == nil {
		t.Fatalf("delivering twice must fail")
	}
	pending, err = outbox.Pending(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Target != "ctrlB" {
		t.Fatalf("expected ctrlB left, got %+v", pending)
	}
}

func TestOutboxRejectsEmptyMessage(t *testing.T) {
	outbox := newTestOutbox(t)
	if err := outbox.Dispatch(context.Background(), ica.WasmMsg{}); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := OpenDB("mysql", ""); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("expected ErrUnknownDriver, got %v", err)
	}
}

func TestRelayDeliversInOrder(t *testing.T) {
	ctx := context.Background()
	outbox := newTestOutbox(t)
	for _, controller := range []string{"ctrlA", "ctrlB"} {
		if err := outbox.Dispatch(ctx, closeChannel(t, controller)); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}

	var mu sync.Mutex
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Header.Get("X-Payload-Digest") != Digest(body) {
			http.Error(w, "digest mismatch", http.StatusBadRequest)
			return
		}
		if err := crypto.VerifyRelaySignature(body, r.Header.Get(SignatureHeader), r.Header.Get(SignerHeader)); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		mu.Lock()
		bodies = append(bodies, string(body))
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	key, err := crypto.GenerateRelayKey()
	if err != nil {
		t.Fatalf("relay key: %v", err)
	}
	relay := NewRelay(outbox, server.Client(), RelayConfig{Endpoint: server.URL, Signer: key}, nil)
	delivered, err := relay.Flush(ctx)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if delivered != 2 || len(bodies) != 2 {
		t.Fatalf("expected 2 deliveries, got %d (%d bodies)", delivered, len(bodies))
	}
	pending, err := outbox.Pending(ctx, 10)
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected drained outbox, got %d %v", len(pending), err)
	}
}

func TestRelayParksFailingMessages(t *testing.T) {
	ctx := context.Background()
	outbox := newTestOutbox(t)
	base := time.Now()
	tick := 0
	outbox.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	if err := outbox.Dispatch(ctx, closeChannel(t, "ctrlA")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := outbox.Dispatch(ctx, closeChannel(t, "ctrlB")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	var healthy atomic.Bool
	var mu sync.Mutex
	var delivered []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			http.Error(w, "chain halted", http.StatusServiceUnavailable)
			return
		}
		mu.Lock()
		delivered = append(delivered, r.Header.Get("X-Payload-Digest"))
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	relay := NewRelay(outbox, server.Client(), RelayConfig{Endpoint: server.URL, MaxAttempts: 2}, nil)
	for i := 0; i < 2; i++ {
		if n, err := relay.Flush(ctx); err == nil || n != 0 {
			t.Fatalf("attempt %d: expected failure before any delivery, got %d %v", i, n, err)
		}
	}
	pending, err := outbox.Pending(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Target != "ctrlB" {
		t.Fatalf("expected only the second message pending, got %+v", pending)
	}
	var row OutboxMessage
	if err := outbox.db.First(&row, "target = ?", "ctrlA").Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if row.State != StateFailed || row.Attempts != 2 || row.LastError == "" {
		t.Fatalf("unexpected parked row %+v", row)
	}

	// a parked head no longer holds back the rows behind it
	healthy.Store(true)
	if n, err := relay.Flush(ctx); err != nil || n != 1 {
		t.Fatalf("expected the second message delivered, got %d %v", n, err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 || delivered[0] != pending[0].Digest {
		t.Fatalf("unexpected deliveries %v", delivered)
	}
}

func TestMemoryDispatcher(t *testing.T) {
	mem := NewMemory()
	if err := mem.Dispatch(context.Background(), closeChannel(t, "ctrlA")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := mem.Dispatch(ctx, closeChannel(t, "ctrlB")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if msgs := mem.Messages(); len(msgs) != 1 || msgs[0].Target() != "ctrlA" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}

func TestExportParquet(t *testing.T) {
	ctx := context.Background()
	outbox := newTestOutbox(t)
	row, err := outbox.Enqueue(ctx, closeChannel(t, "ctrlA"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := outbox.MarkDelivered(ctx, row.ID); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if err := outbox.Dispatch(ctx, closeChannel(t, "ctrlB")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	path := filepath.Join(t.TempDir(), "outbox.parquet")
	n, err := outbox.ExportParquet(ctx, path, time.Time{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 exported rows, got %d", n)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if len(data) < 8 || string(data[:4]) != "PAR1" || string(data[len(data)-4:]) != "PAR1" {
		t.Fatalf("export is not a parquet file")
	}

	n, err = outbox.ExportParquet(ctx, path, time.Now().Add(time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("future window: %d %v", n, err)
	}
}
