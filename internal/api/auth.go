package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"sync"

	"reserva/internal/config"
	"reserva/internal/domain"
	"reserva/internal/models"
	"reserva/internal/repository"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Permissions checked per endpoint. A key with "*" passes every check.
const (
	PermWriteReservations = "write:reservations"
	PermWriteGrants       = "write:grants"
	PermReadEvents        = "read:events"
	PermReadCalendar      = "read:calendar"
)

type actorContextKey struct{}

// ActorFromContext returns the actor attached by the auth middleware, or the
// system actor if the request bypassed auth.
func ActorFromContext(ctx context.Context) models.Actor {
	if actor, ok := ctx.Value(actorContextKey{}).(models.Actor); ok {
		return actor
	}
	return models.SystemActor
}

// HTTPAuth validates the API key pair, enforces per-client rate limits and
// resolves the optional operator token into the acting operator. The resolved
// actor is attached to the request context so every mutation is attributable.
type HTTPAuth struct {
	auth      config.APIAuthConfig
	rateLimit config.APIRateLimitConfig
	sessions  domain.SessionRepository
	limiters  sync.Map
	logger    zerolog.Logger
}

func NewHTTPAuth(cfg config.APIConfig, sessions domain.SessionRepository, logger *zerolog.Logger) *HTTPAuth {
	var authLogger zerolog.Logger
	if logger != nil {
		authLogger = logger.With().Str("component", "http-auth").Logger()
	}
	return &HTTPAuth{
		auth:      cfg.Auth,
		rateLimit: cfg.RateLimit,
		sessions:  sessions,
		logger:    authLogger,
	}
}

// Middleware guards a handler with key auth, a permission check and rate
// limiting.
func (a *HTTPAuth) Middleware(permission string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.auth.Enabled {
			ctx := context.WithValue(r.Context(), actorContextKey{}, models.Actor{Name: "anonymous", Role: "api"})
			next(w, r.WithContext(ctx))
			return
		}

		client := a.lookupClient(r.Header.Get(a.auth.HeaderAPIKey), r.Header.Get(a.auth.HeaderExtra))
		if client == nil {
			a.logger.Warn().Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Msg("rejected request with invalid api key")
			writeError(w, http.StatusUnauthorized, "invalid api credentials")
			return
		}

		if !clientHasPermission(client, permission) {
			writeError(w, http.StatusForbidden, "insufficient permissions")
			return
		}

		if !a.limiterFor(client.Name).Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		actor := models.Actor{Name: client.Name, Role: "api"}
		if token := r.Header.Get(a.auth.HeaderOperatorToken); token != "" && a.sessions != nil {
			session, err := a.sessions.GetSession(r.Context(), token)
			switch {
			case err == nil:
				actor = session.Actor
			case errors.Is(err, repository.ErrSessionNotFound):
				writeError(w, http.StatusUnauthorized, "invalid operator token")
				return
			default:
				// Session store outage keeps the API usable; mutations fall
				// back to key-level attribution.
				a.logger.Warn().Err(err).Msg("session lookup failed, attributing to api key")
			}
		}

		ctx := context.WithValue(r.Context(), actorContextKey{}, actor)
		next(w, r.WithContext(ctx))
	}
}

func (a *HTTPAuth) lookupClient(key, extra string) *config.APIClientKey {
	if key == "" {
		return nil
	}
	for i := range a.auth.APIKeys {
		candidate := &a.auth.APIKeys[i]
		keyMatch := subtle.ConstantTimeCompare([]byte(candidate.Key), []byte(key)) == 1
		extraMatch := candidate.Extra == "" || subtle.ConstantTimeCompare([]byte(candidate.Extra), []byte(extra)) == 1
		if keyMatch && extraMatch {
			return candidate
		}
	}
	return nil
}

func clientHasPermission(client *config.APIClientKey, permission string) bool {
	for _, p := range client.Permissions {
		if p == "*" || p == permission {
			return true
		}
	}
	return false
}

func (a *HTTPAuth) limiterFor(clientName string) *rate.Limiter {
	if limiter, ok := a.limiters.Load(clientName); ok {
		return limiter.(*rate.Limiter)
	}

	rps := a.rateLimit.RPS
	if rps <= 0 {
		rps = 10
	}
	burst := a.rateLimit.Burst
	if burst <= 0 {
		burst = 20
	}

	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	actual, _ := a.limiters.LoadOrStore(clientName, limiter)
	return actual.(*rate.Limiter)
}
