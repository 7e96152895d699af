package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AlexKimmel/ratemeter/internal/config"
)

func subjectEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := SubjectFrom(r.Context())
		_, _ = w.Write([]byte(id))
	})
}

func TestMiddleware(t *testing.T) {
	keys := []config.APIKey{{ID: "alice", Secret: "a-secret"}, {ID: "", Secret: "ignored"}}
	skip := map[string]struct{}{"/health": {}}

	tests := []struct {
		name      string
		anonymous bool
		path      string
		key       string
		code      int
		body      string
	}{
		{"valid key", false, "/x", "a-secret", http.StatusOK, "alice"},
		{"padded key", false, "/x", "  a-secret ", http.StatusOK, "alice"},
		{"unknown key", false, "/x", "nope", http.StatusUnauthorized, `"invalid_api_key"`},
		{"key without id", false, "/x", "ignored", http.StatusUnauthorized, `"invalid_api_key"`},
		{"missing key", false, "/x", "", http.StatusUnauthorized, `"missing_api_key"`},
		{"anonymous", true, "/x", "", http.StatusOK, Anonymous},
		{"skipped path", false, "/health", "", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewStatic("", tt.anonymous, keys).Middleware(skip)(subjectEcho())

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
}

func TestStore_Resolve(t *testing.T) {
	s := NewStatic("X-Key", false, []config.APIKey{{ID: "a", Secret: "one"}, {ID: "b", Secret: "two"}})

	id, ok := s.Resolve("two")
	assert.True(t, ok)
	assert.Equal(t, "b", id)

	_, ok = s.Resolve("tw")
	assert.False(t, ok)
}
