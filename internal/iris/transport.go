package iris

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"irisctl/internal/credstore"
	"irisctl/internal/session"
)

// HeaderRequestID correlates a request with server logs.
const HeaderRequestID = "X-Request-ID"

// authTransport attaches the stored access credential to each request.
type authTransport struct {
	store credstore.Store
	base  http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := session.AccessTokenSource(req.Context(), t.store).Token()
	if err != nil {
		return nil, fmt.Errorf("loading access credential: %w", err)
	}

	req = req.Clone(req.Context())
	tok.SetAuthHeader(req)
	if keyID := session.KeyID(tok); keyID != "" {
		req.Header.Set(session.HeaderKeyID, keyID)
	}
	if req.Header.Get(HeaderRequestID) == "" {
		req.Header.Set(HeaderRequestID, uuid.NewString())
	}

	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
