package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"

	"github.com/AlexKimmel/ratemeter/internal/config"
)

// Anonymous is the subject assigned to requests without a key when
// anonymous access is allowed. All such requests share one bucket per route.
const Anonymous = "anon"

type ctxKey int

const keySubject ctxKey = 0

type credential struct {
	secret []byte
	id     string
}

// Store resolves API key secrets to subject IDs. The subject ID is what the
// rate limiter keys buckets on.
type Store struct {
	header    string
	anonymous bool
	creds     []credential
}

// NewStatic creates a store over a fixed set of keys.
// header: HTTP header to read the key from (defaults to "X-API-Key").
func NewStatic(header string, allowAnonymous bool, keys []config.APIKey) *Store {
	if header == "" {
		header = "X-API-Key"
	}
	s := &Store{header: header, anonymous: allowAnonymous}
	for _, k := range keys {
		if k.Secret != "" && k.ID != "" {
			s.creds = append(s.creds, credential{secret: []byte(k.Secret), id: k.ID})
		}
	}
	return s
}

// Resolve compares secret against every known key in constant time.
func (s *Store) Resolve(secret string) (string, bool) {
	b := []byte(secret)
	id, found := "", false
	for _, c := range s.creds {
		if subtle.ConstantTimeCompare(c.secret, b) == 1 {
			id, found = c.id, true
		}
	}
	return id, found
}

func WithSubject(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keySubject, id)
}

// SubjectFrom extracts the subject ID from ctx.
func SubjectFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(keySubject).(string)
	return id, ok && id != ""
}

// Middleware authenticates requests and stores the subject in the request
// context. Paths in skipPaths bypass it.
func (s *Store) Middleware(skipPaths map[string]struct{}) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skipPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			secret := strings.TrimSpace(r.Header.Get(s.header))
			if secret == "" {
				if s.anonymous {
					next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), Anonymous)))
					return
				}
				writeJSON(w, http.StatusUnauthorized, "missing_api_key", "Provide API key in "+s.header)
				return
			}
			id, ok := s.Resolve(secret)
			if !ok {
				hlog.FromRequest(r).Debug().Str("path", r.URL.Path).Msg("unknown api key")
				writeJSON(w, http.StatusUnauthorized, "invalid_api_key", "API key not recognized")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), id)))
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, errCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":{"code":"` + errCode + `","message":"` + msg + `"}}`))
}
