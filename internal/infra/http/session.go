package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stoptrolling/internal/domain"
)

// Токен сессии: userID.expiresUnix.base64url(hmac-sha256(secret, userID.expiresUnix)).

type contextKey int

const userIDKey contextKey = iota

// ErrNoSession возвращается, когда в контексте нет аутентифицированного пользователя.
var ErrNoSession = domain.ErrNoSession

// IssueSessionToken подписывает токен сессии для пользователя.
func IssueSessionToken(secret, userID string, expires time.Time) string {
	payload := userID + "." + strconv.FormatInt(expires.Unix(), 10)
	return payload + "." + signPayload(secret, payload)
}

func signPayload(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func parseSessionToken(secret, token string, now time.Time) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", errors.New("malformed session token")
	}
	payload := parts[0] + "." + parts[1]
	expected := signPayload(secret, payload)
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return "", errors.New("invalid session signature")
	}
	expires, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid session expiry: %w", err)
	}
	if now.Unix() >= expires {
		return "", errors.New("session expired")
	}
	return parts[0], nil
}

// SessionMiddleware проверяет подпись токена сессии и кладёт id пользователя в контекст.
// Токен берётся из Authorization: Bearer либо из cookie st_session.
func SessionMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				if c, err := r.Cookie("st_session"); err == nil {
					token = c.Value
				}
			}
			if token == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			userID, err := parseSessionToken(secret, token, time.Now())
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// OptionalSessionMiddleware кладёт пользователя в контекст, если токен валиден,
// но не отклоняет анонимные запросы. Используется на OAuth-callback.
func OptionalSessionMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				if c, err := r.Cookie("st_session"); err == nil {
					token = c.Value
				}
			}
			if token != "" {
				if userID, err := parseSessionToken(secret, token, time.Now()); err == nil {
					r = r.WithContext(WithUserID(r.Context(), userID))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(h), "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// WithUserID кладёт id пользователя в контекст.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext возвращает id пользователя текущей сессии.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// ContextSessions реализует domain.SessionService поверх контекста запроса.
type ContextSessions struct{}

// CurrentUserID возвращает пользователя из контекста.
func (ContextSessions) CurrentUserID(ctx context.Context) (string, error) {
	id, ok := UserIDFromContext(ctx)
	if !ok {
		return "", ErrNoSession
	}
	return id, nil
}
