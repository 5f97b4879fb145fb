package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fieldsync/syncserver/internal/auth"
)

// mintTestToken mints a bearer token for the given uid/email/role, for use
// in handler tests that need an authenticated request.
func mintTestToken(t *testing.T, cfg auth.JWTCfg, uid, email, role string) string {
	t.Helper()
	tok, err := auth.Mint(cfg, uid, email, role)
	if err != nil {
		t.Fatalf("failed to mint test token: %v", err)
	}
	return tok
}

// doRequest performs an HTTP request against router with an optional JSON
// body and bearer token, and returns the recorded response.
func doRequest(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var bodyReader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(b)
	} else {
		bodyReader = bytes.NewReader([]byte{})
	}

	req := httptest.NewRequest(method, path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}
