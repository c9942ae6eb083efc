package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// PKCECharset — алфавит verifier по RFC 7636 §4.1.
const PKCECharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

const (
	authorizeEndpoint = "https://x.com/i/oauth2/authorize"
	// StateTTL — срок жизни PKCE-состояния между редиректом и callback.
	StateTTL = 600 * time.Second
)

// Scopes — запрашиваемые разрешения X.
var Scopes = []string{"tweet.write", "offline.access"}

// ErrEntropyUnavailable возвращается, когда системный источник
// случайности недоступен.
var ErrEntropyUnavailable = errors.New("oauth: entropy source unavailable")

// BuildRandomString строит случайную строку длины length из алфавита PKCE.
func BuildRandomString(length int) (string, error) {
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	out := make([]byte, length)
	for i, b := range raw {
		out[i] = PKCECharset[int(b)%len(PKCECharset)]
	}
	return string(out), nil
}

// CreatePkceChallenge строит S256-челлендж: base64url(SHA-256(verifier))
// без выравнивания.
func CreatePkceChallenge(verifier string) string {
	digest := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(digest[:])
}

// AuthorizeURL собирает URL авторизации X с PKCE-параметрами.
func AuthorizeURL(clientID, redirectURI, state, challenge string) string {
	params := url.Values{
		"response_type":         {"code"},
		"client_id":             {clientID},
		"redirect_uri":          {redirectURI},
		"scope":                 {joinScopes()},
		"state":                 {state},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}
	return authorizeEndpoint + "?" + params.Encode()
}

func joinScopes() string {
	out := ""
	for i, s := range Scopes {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}
