package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type actorKeyType struct{}

var actorKey actorKeyType

// ActorID returns the authenticated actor id stored on the request
// context, or "" when the request was unauthenticated.
func ActorID(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey).(string); ok {
		return v
	}
	return ""
}

type AuthConfig struct {
	// JWTSecret signs and verifies bearer tokens (HS256). When empty,
	// authentication is disabled and every request runs as "anonymous".
	JWTSecret string
	// AllowLegacyActorHeader accepts X-Actor-Id in place of a bearer
	// token. Kept for older automation clients; logs a warning per use.
	AllowLegacyActorHeader bool
	Logger                 *log.Logger
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func parseActor(secret, token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	return sub, nil
}

func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	healthPath := basePath + "/health"
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == healthPath || !strings.HasPrefix(r.URL.Path, basePath) {
				next.ServeHTTP(w, r)
				return
			}
			if cfg.JWTSecret == "" {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, "anonymous")))
				return
			}
			if token := bearerToken(r); token != "" {
				actor, err := parseActor(cfg.JWTSecret, token)
				if err != nil {
					respondStatusError(w, http.StatusUnauthorized, "invalid bearer token")
					return
				}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
				return
			}
			if cfg.AllowLegacyActorHeader {
				if actor := strings.TrimSpace(r.Header.Get("X-Actor-Id")); actor != "" {
					logger.Printf("warn: legacy X-Actor-Id auth used by %q, migrate to bearer tokens", actor)
					next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
					return
				}
			}
			respondStatusError(w, http.StatusUnauthorized, "missing bearer token")
		})
	}
}

func respondStatusError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}
