package httpx

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
	"github.com/ariefcatur/go-storefront-orders/internal/auth"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"golang.org/x/text/language"
)

const (
	LangEnglish   = "en"
	LangNorwegian = "no"
)

// Index 0 is English; every other entry is a Norwegian variant.
var langMatcher = language.NewMatcher([]language.Tag{
	language.English,
	language.Norwegian,
	language.MustParse("nb"),
	language.MustParse("nn"),
})

type langKey struct{}

// Lang resolves the response language from ?lang= or Accept-Language.
func Lang(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lang := negotiate(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), langKey{}, lang)))
	})
}

// LangFrom returns the negotiated language, English when none was set.
func LangFrom(ctx context.Context) string {
	if l, ok := ctx.Value(langKey{}).(string); ok {
		return l
	}
	return LangEnglish
}

func negotiate(query, accept string) string {
	var tags []language.Tag
	if query != "" {
		if t, err := language.Parse(query); err == nil {
			tags = append(tags, t)
		}
	}
	if len(tags) == 0 && accept != "" {
		tags, _, _ = language.ParseAcceptLanguage(accept)
	}
	if len(tags) == 0 {
		return LangEnglish
	}
	_, idx, conf := langMatcher.Match(tags...)
	if conf == language.No || idx == 0 {
		return LangEnglish
	}
	return LangNorwegian
}

// RateLimit counts requests per client address in bucket. When Redis is
// unreachable the request is let through.
func RateLimit(l *redisx.Limiter, bucket string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := l.Allow(r.Context(), bucket, clientAddr(r))
			if err != nil {
				loggerOr(logger).WarnContext(r.Context(), "rate limiter unavailable",
					slog.String("bucket", bucket), slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				writeError(w, r, logger, apperr.New(apperr.KindTooManyRequests, apperr.ReasonRateLimited, "too many requests, slow down"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RequireStaff authenticates the bearer token and puts the staff identity on
// the context. With roles set, the staff member must hold one of them.
func RequireStaff(v *auth.Verifier, logger *slog.Logger, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				writeError(w, r, logger, apperr.Unauthorized("bearer token required"))
				return
			}
			staff, err := v.Parse(strings.TrimSpace(raw))
			if err != nil {
				writeError(w, r, logger, apperr.Unauthorized("invalid or expired token").Wrap(err))
				return
			}
			if len(roles) > 0 && !staff.HasRole(roles...) {
				writeError(w, r, logger, apperr.Forbidden(apperr.ReasonForbidden, "insufficient role"))
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithStaff(r.Context(), staff)))
		})
	}
}

func staffFrom(r *http.Request) auth.Staff {
	s, _ := auth.StaffFrom(r.Context())
	return s
}
