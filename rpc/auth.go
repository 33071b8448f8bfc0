package rpc

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// AuthConfig enables bearer token authentication on command routes. The
// token subject must equal the sender named in the request body. Without a
// secret the command routes answer 503 unless AllowUnauthenticated is set, in
// which case any asserted sender is trusted.
type AuthConfig struct {
	HMACSecret           string
	Issuer               string
	Audience             string
	ClockSkew            time.Duration
	AllowUnauthenticated bool
}

// Enabled reports whether a secret is configured.
func (c AuthConfig) Enabled() bool {
	return strings.TrimSpace(c.HMACSecret) != ""
}

const subjectKey contextKey = "subject"

var errNoSubject = errors.New("token has no subject")

type authenticator struct {
	cfg    AuthConfig
	secret []byte
}

func newAuthenticator(cfg AuthConfig) *authenticator {
	if !cfg.Enabled() {
		return &authenticator{cfg: cfg}
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &authenticator{cfg: cfg, secret: []byte(strings.TrimSpace(cfg.HMACSecret))}
}

func (a *authenticator) middleware(next http.Handler) http.Handler {
	if len(a.secret) == 0 {
		if a.cfg.AllowUnauthenticated {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, r, http.StatusServiceUnavailable, "command routes disabled: bearer authentication is not configured")
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearer(r.Header.Get("Authorization"))
		if raw == "" {
			writeError(w, r, http.StatusUnauthorized, "missing bearer token")
			return
		}
		subject, err := a.subject(raw)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey, subject)))
	})
}

func (a *authenticator) subject(raw string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	claims := jwt.RegisteredClaims{}
	if _, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...); err != nil {
		return "", err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errNoSubject
	}
	return claims.Subject, nil
}

// authorizeSender rejects a body sender that differs from the authenticated
// subject. Without authentication every sender is accepted.
func authorizeSender(ctx context.Context, sender string) bool {
	subject, ok := ctx.Value(subjectKey).(string)
	return !ok || subject == sender
}

func extractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
