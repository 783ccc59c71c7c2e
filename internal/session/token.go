package session

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"

	"irisctl/internal/credstore"
)

// extraKeyID is the oauth2.Token extra field holding the credential key id.
const extraKeyID = "key_id"

// ErrNoAccessToken is returned by the access TokenSource when nothing is stored.
var ErrNoAccessToken = errors.New("no access credential stored")

// KeyID returns the key id carried by a token loaded from the store.
func KeyID(tok *oauth2.Token) string {
	if tok == nil {
		return ""
	}
	id, _ := tok.Extra(extraKeyID).(string)
	return id
}

// loadCredential reads one token/key-id/expiry triple from the store.
func loadCredential(ctx context.Context, store credstore.Store, tokenKey, idKey, expiryKey string) (*oauth2.Token, error) {
	if err := store.Ready(ctx); err != nil {
		return nil, storeError("ready", tokenKey, err)
	}

	token, _, err := store.Get(ctx, tokenKey)
	if err != nil {
		return nil, storeError("read", tokenKey, err)
	}
	keyID, _, err := store.Get(ctx, idKey)
	if err != nil {
		return nil, storeError("read", idKey, err)
	}
	rawExpiry, _, err := store.Get(ctx, expiryKey)
	if err != nil {
		return nil, storeError("read", expiryKey, err)
	}

	tok := &oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}
	if expiry, ok := ParseExpiry(rawExpiry); ok {
		tok.Expiry = time.Unix(expiry, 0)
	}
	return tok.WithExtra(map[string]interface{}{extraKeyID: keyID}), nil
}

// storeTokenSource serves the stored access credential as an oauth2.Token.
type storeTokenSource struct {
	ctx   context.Context
	store credstore.Store
}

// AccessTokenSource returns an oauth2.TokenSource over the stored access
// credential. It never renews; callers run EnsureAccessToken first.
func AccessTokenSource(ctx context.Context, store credstore.Store) oauth2.TokenSource {
	return &storeTokenSource{ctx: ctx, store: store}
}

// Token implements oauth2.TokenSource.
func (s *storeTokenSource) Token() (*oauth2.Token, error) {
	tok, err := loadCredential(s.ctx, s.store, credstore.KeyAccessToken, credstore.KeyAccessKeyID, credstore.KeyAccessExpiry)
	if err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, ErrNoAccessToken
	}
	return tok, nil
}
