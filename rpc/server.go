// Package rpc exposes the vault over HTTP. Commands and queries are JSON;
// messages produced by a committed command are handed to the transport.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"icavault/native/ica"
	"icavault/native/vault"
	"icavault/observability"
	"icavault/observability/logging"
	telemetry "icavault/observability/otel"
	"icavault/transport"
)

const maxBodyBytes = 1 << 20

// Config captures what the server needs besides the contract.
type Config struct {
	ContractAddress string
	RateLimit       RateLimit
	Auth            AuthConfig
	Logger          *slog.Logger
	Now             func() time.Time
}

// Server routes HTTP requests to a vault contract.
type Server struct {
	contract   *vault.Contract
	dispatcher transport.Dispatcher
	cfg        Config
	logger     *slog.Logger
	limiter    *rateLimiter
	auth       *authenticator
	events     *eventHub
	height     atomic.Uint64
	router     http.Handler
}

// BlockInfo pins the block a command executes in. Omitted fields fall back
// to the server clock and an internal height counter.
type BlockInfo struct {
	Height uint64    `json:"height"`
	Time   time.Time `json:"time"`
}

// ExecuteRequest is the body of POST /execute.
type ExecuteRequest struct {
	Sender string           `json:"sender"`
	Funds  ica.Coins        `json:"funds"`
	Block  *BlockInfo       `json:"block,omitempty"`
	Msg    vault.ExecuteMsg `json:"msg"`
}

// InstantiateRequest is the body of POST /instantiate.
type InstantiateRequest struct {
	Sender string               `json:"sender"`
	Funds  ica.Coins            `json:"funds"`
	Block  *BlockInfo           `json:"block,omitempty"`
	Msg    vault.InstantiateMsg `json:"msg"`
}

type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// NewServer builds the router. A nil dispatcher drops outbound messages into
// memory.
func NewServer(contract *vault.Contract, dispatcher transport.Dispatcher, cfg Config) *Server {
	if dispatcher == nil {
		dispatcher = transport.NewMemory()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		contract:   contract,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger.With("component", "rpc"),
		limiter:    newRateLimiter(cfg.RateLimit),
		auth:       newAuthenticator(cfg.Auth),
		events:     newEventHub(),
	}
	switch {
	case cfg.Auth.Enabled():
	case cfg.Auth.AllowUnauthenticated:
		s.logger.Warn("command routes accept unauthenticated senders")
	default:
		s.logger.Warn("command routes disabled until bearer authentication is configured")
	}
	s.router = s.routes()
	return s
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(withRequestID)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/events", s.handleEvents)

	r.Group(func(cmd chi.Router) {
		cmd.Use(s.limiter.middleware("command"))
		cmd.Use(s.auth.middleware)
		cmd.Method(http.MethodPost, "/instantiate", observe("instantiate", http.HandlerFunc(s.handleInstantiate)))
		cmd.Method(http.MethodPost, "/execute", observe("execute", http.HandlerFunc(s.handleExecute)))
	})
	r.Route("/query", func(q chi.Router) {
		q.Use(s.limiter.middleware("query"))
		q.Method(http.MethodGet, "/config", observe("query_config", http.HandlerFunc(s.handleQuery(func(*http.Request) vault.QueryMsg {
			return vault.QueryMsg{Config: &struct{}{}}
		}))))
		q.Method(http.MethodGet, "/state", observe("query_state", http.HandlerFunc(s.handleQuery(func(*http.Request) vault.QueryMsg {
			return vault.QueryMsg{State: &struct{}{}}
		}))))
		q.Method(http.MethodGet, "/receipts/{address}", observe("query_receipts", http.HandlerFunc(s.handleQuery(func(r *http.Request) vault.QueryMsg {
			return vault.QueryMsg{Receipts: &vault.ReceiptsQuery{Address: chi.URLParam(r, "address")}}
		}))))
	})
	return r
}

func (s *Server) env(block *BlockInfo) vault.Env {
	env := vault.Env{ContractAddress: s.cfg.ContractAddress}
	if block != nil && block.Height > 0 {
		env.BlockHeight = block.Height
		for {
			current := s.height.Load()
			if current >= block.Height || s.height.CompareAndSwap(current, block.Height) {
				break
			}
		}
	} else {
		env.BlockHeight = s.height.Add(1)
	}
	if block != nil && !block.Time.IsZero() {
		env.BlockTime = block.Time.UTC()
	} else {
		env.BlockTime = s.cfg.Now().UTC()
	}
	return env
}

func (s *Server) handleInstantiate(w http.ResponseWriter, r *http.Request) {
	var req InstantiateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !authorizeSender(r.Context(), req.Sender) {
		writeError(w, r, http.StatusForbidden, "sender does not match token subject")
		return
	}
	_, span := telemetry.Tracer().Start(r.Context(), "vault.instantiate")
	defer span.End()
	env := s.env(req.Block)
	resp, err := s.contract.Instantiate(env, vault.MessageInfo{Sender: req.Sender, Funds: req.Funds}, req.Msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.writeVaultError(w, r, err)
		return
	}
	s.respond(w, r, env, "instantiate", resp)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !authorizeSender(r.Context(), req.Sender) {
		writeError(w, r, http.StatusForbidden, "sender does not match token subject")
		return
	}
	kind, err := req.Msg.Kind()
	if err != nil {
		s.writeVaultError(w, r, err)
		return
	}
	_, span := telemetry.Tracer().Start(r.Context(), "vault.execute")
	span.SetAttributes(attribute.String("vault.kind", kind))
	defer span.End()
	env := s.env(req.Block)
	resp, err := s.contract.Execute(env, vault.MessageInfo{Sender: req.Sender, Funds: req.Funds}, req.Msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.writeVaultError(w, r, err)
		return
	}
	s.respond(w, r, env, kind, resp)
}

// respond publishes the committed command, dispatches its messages in order
// and writes the response. A dispatch failure is reported after the command
// has been committed; the messages already handed off stay handed off.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, env vault.Env, kind string, resp *vault.Response) {
	s.events.publish(Event{
		Height:     env.BlockHeight,
		Kind:       kind,
		RequestID:  RequestID(r.Context()),
		Messages:   len(resp.Messages),
		Attributes: resp.Attributes,
	})
	dispatched, err := s.dispatch(r.Context(), resp.Messages)
	if err != nil {
		s.logger.Error("dispatch failed after commit",
			slog.String("kind", kind),
			slog.String("request_id", RequestID(r.Context())),
			slog.Int("dispatched", dispatched),
			slog.Int("messages", len(resp.Messages)),
			slog.String("error", err.Error()))
		writeError(w, r, http.StatusBadGateway, fmt.Sprintf("command committed but dispatch failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) dispatch(ctx context.Context, msgs []ica.WasmMsg) (int, error) {
	for i, msg := range msgs {
		err := s.dispatcher.Dispatch(ctx, msg)
		observability.Vault().RecordDispatch(msg.Kind(), err)
		if err != nil {
			return i, err
		}
	}
	return len(msgs), nil
}

func (s *Server) handleQuery(build func(*http.Request) vault.QueryMsg) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := s.contract.Query(build(r))
		if err != nil {
			s.writeVaultError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(raw)
	}
}

func (s *Server) writeVaultError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("vault failure",
			slog.String("request_id", RequestID(r.Context())),
			slog.String("error", err.Error()))
	} else {
		s.logger.Debug("vault rejected request",
			slog.String("request_id", RequestID(r.Context())),
			logging.MaskField("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	writeError(w, r, status, err.Error())
}

// StatusFor maps vault errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, vault.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, vault.ErrDestinationNotFound), errors.Is(err, vault.ErrCodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, vault.ErrNotInstantiated), errors.Is(err, vault.ErrAlreadyInstantiated):
		return http.StatusConflict
	case errors.Is(err, vault.ErrNotSupported):
		return http.StatusNotImplemented
	case errors.Is(err, vault.ErrInvalidMessage), errors.Is(err, vault.ErrInvalidAddress),
		errors.Is(err, vault.ErrInvalidAmount), errors.Is(err, vault.ErrPayment),
		errors.Is(err, vault.ErrInvalidMemoFormat), errors.Is(err, vault.ErrDecodePacket):
		return http.StatusBadRequest
	case errors.Is(err, vault.ErrAccountingOverflow):
		return http.StatusInternalServerError
	case strings.HasPrefix(err.Error(), "vault:"):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, errorBody{Error: message, RequestID: RequestID(r.Context())})
}
