package xclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2025, 10, 21, 12, 0, 0, 0, time.UTC)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := New(Options{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURI:  "https://app.example/callback",
		BaseURL:      srv.URL,
		MediaURL:     srv.URL + "/1.1/media/upload.json",
		Now:          fixedNow,
	})
	return client, srv
}

func tokenHandler(t *testing.T, body map[string]any) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			t.Errorf("ожидали Basic-авторизацию")
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("не удалось разобрать форму: %v", err)
		}
		if _, ok := r.PostForm["client_id"]; ok {
			t.Errorf("client_id не должен передаваться в теле при Basic")
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}
}

func TestExchangeCodeUsesExpiresAtString(t *testing.T) {
	client, _ := newTestClient(t, tokenHandler(t, map[string]any{
		"access_token": "at",
		"expires_at":   "2025-10-21T14:00:00Z",
	}))
	rec, err := client.ExchangeCode(context.Background(), "code", "verifier")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	want := time.Date(2025, 10, 21, 14, 0, 0, 0, time.UTC)
	if !rec.ExpiresAt.Equal(want) {
		t.Fatalf("expires_at должен иметь приоритет, получили %v", rec.ExpiresAt)
	}
}

func TestExchangeCodeComputesExpiryFromNumber(t *testing.T) {
	client, _ := newTestClient(t, tokenHandler(t, map[string]any{
		"access_token": "at",
		"expires_in":   7200,
	}))
	rec, err := client.ExchangeCode(context.Background(), "code", "verifier")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !rec.ExpiresAt.Equal(fixedNow().Add(2 * time.Hour)) {
		t.Fatalf("ожидали now+expires_in, получили %v", rec.ExpiresAt)
	}
}

func TestExchangeCodeComputesExpiryFromString(t *testing.T) {
	client, _ := newTestClient(t, tokenHandler(t, map[string]any{
		"access_token": "at",
		"expires_in":   "3600",
	}))
	rec, err := client.ExchangeCode(context.Background(), "code", "verifier")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !rec.ExpiresAt.Equal(fixedNow().Add(time.Hour)) {
		t.Fatalf("строковый expires_in должен разбираться, получили %v", rec.ExpiresAt)
	}
}

func TestExchangeCodeMissingExpiry(t *testing.T) {
	client, _ := newTestClient(t, tokenHandler(t, map[string]any{
		"access_token": "at",
	}))
	if _, err := client.ExchangeCode(context.Background(), "code", "verifier"); !errors.Is(err, ErrMissingExpiry) {
		t.Fatalf("ожидали ErrMissingExpiry, получили %v", err)
	}
}

func TestRefreshCarriesOverRefreshToken(t *testing.T) {
	client, _ := newTestClient(t, tokenHandler(t, map[string]any{
		"access_token": "new-at",
		"expires_in":   7200,
	}))
	rec, err := client.Refresh(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if rec.RefreshToken != "old-refresh" {
		t.Fatalf("прежний refresh-токен должен переноситься, получили %q", rec.RefreshToken)
	}
	if rec.TokenType != "bearer" {
		t.Fatalf("тип токена по умолчанию — bearer, получили %q", rec.TokenType)
	}
}

func TestRefreshReturnsAPIError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	})
	_, err := client.Refresh(context.Background(), "bad")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("ожидали APIError со статусом 400, получили %v", err)
	}
}

func TestUploadMediaStripsDataURIPrefix(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("не удалось разобрать форму: %v", err)
		}
		if got := r.PostForm.Get("media_data"); got != "aGVsbG8=" {
			t.Errorf("data-URI префикс должен отрезаться, получили %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"media_id_string":"42"}`))
	})
	id, err := client.UploadMedia(context.Background(), "at", "data:image/png;base64,aGVsbG8=")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if id != "42" {
		t.Fatalf("ожидали media_id_string, получили %q", id)
	}
}

func TestPostUnwrapsData(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("не удалось разобрать тело: %v", err)
		}
		if payload["text"] != "привет" {
			t.Errorf("ожидали text в теле, получили %v", payload)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"id":"1"}}`))
	})
	raw, err := client.Post(context.Background(), "at", "привет")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if string(raw) != `{"id":"1"}` {
		t.Fatalf("ожидали содержимое data, получили %s", raw)
	}
}
