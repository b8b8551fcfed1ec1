package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"window-gateway/middleware/ratelimit/application"
	"window-gateway/middleware/ratelimit/domain"
)

type KeyFunc func(r *http.Request) string

// Admitter é o que o middleware precisa do limiter.
// *application.WindowLimiter implementa.
type Admitter interface {
	Admit(ctx context.Context, identity string) (domain.Decision, error)
}

type Options struct {
	// Limiter tem precedência; se nil, um WindowLimiter é montado com
	// Store/Policy/Namespace.
	Limiter   Admitter
	Store     domain.CounterStore
	Policy    domain.Policy
	Namespace string

	Stats               domain.StatsStore
	Logger              *slog.Logger
	KeyFn               KeyFunc
	KeyHeader           string
	TrustXForwardedFor  bool
	RejectStatus        int
	AddRateLimitHeaders bool
}

// DefaultKeyFunc identifica o cliente por header configurado, depois (se
// confiável) X-Forwarded-For / X-Real-IP, e por fim o host de RemoteAddr.
// Retorna "" quando nada identifica o cliente.
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
			if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
				return ip
			}
		}

		addr := strings.TrimSpace(r.RemoteAddr)
		if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
			return host
		}
		return addr
	}
}

func Middleware(opts Options) (func(next http.Handler) http.Handler, error) {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	limiter := opts.Limiter
	if limiter == nil {
		wl, err := application.NewWindowLimiter(opts.Store, opts.Policy,
			application.WithNamespace(opts.Namespace),
			application.WithLogger(opts.Logger),
		)
		if err != nil {
			return nil, err
		}
		limiter = wl
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// mesma identidade no contador, no header e nas estatísticas
			key := strings.TrimSpace(opts.KeyFn(r))

			dec, err := limiter.Admit(r.Context(), key)
			if err != nil {
				// identidade inválida é bug de configuração, não throttling.
				if errors.Is(err, domain.ErrInvalidIdentity) {
					opts.Logger.Error("rate limit identity missing",
						"method", r.Method,
						"path", r.URL.Path,
						"remote_addr", r.RemoteAddr,
					)
				} else {
					opts.Logger.Error("rate limit failed", "error", err)
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			if opts.Stats != nil {
				ev := domain.StatsEvent{
					Key:      domain.Key(key),
					Allowed:  dec.Allowed,
					Degraded: dec.Degraded,
					Method:   r.Method,
					Path:     r.URL.Path,
					At:       time.Now(),
				}
				if err := opts.Stats.Record(r.Context(), ev); err != nil {
					opts.Logger.Debug("rate limit stats not recorded", "error", err)
				}
			}

			if opts.AddRateLimitHeaders {
				writeRateLimitHeaders(w.Header(), key, dec)
			}

			if !dec.Allowed {
				writeTooManyRequests(w, opts.RejectStatus, dec.RetryAfterSeconds())
				return
			}

			next.ServeHTTP(w, r)
		})
	}, nil
}

func writeRateLimitHeaders(h http.Header, key string, dec domain.Decision) {
	h.Set("X-RateLimit-Key", key)
	h.Set("X-RateLimit-Limit", formatInt(dec.Limit))
	if !dec.Degraded {
		h.Set("X-RateLimit-Remaining", formatInt(dec.Remaining))
	}
}

func writeTooManyRequests(w http.ResponseWriter, status, retryAfter int) {
	msg := "Too many requests, you hit the rate limiter"
	if retryAfter > 0 {
		w.Header().Set("Retry-After", formatInt(retryAfter))
		msg += ", kindly try after " + formatInt(retryAfter) + " seconds"
	}
	http.Error(w, msg, status)
}
