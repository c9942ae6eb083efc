package xclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stoptrolling/internal/domain"
	"stoptrolling/internal/infra/metrics"
)

const (
	defaultBaseURL  = "https://api.x.com"
	defaultMediaURL = "https://upload.twitter.com/1.1/media/upload.json"
)

// ErrMissingExpiry возвращается, когда ответ токен-эндпоинта не содержит
// ни expires_at, ни разборного expires_in.
var ErrMissingExpiry = domain.ErrMissingExpiry

// APIError — не-2xx ответ X API с сохранённым статусом и телом.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("xclient: status %d: %s", e.Status, e.Detail)
}

// Options — параметры клиента X API.
type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	BaseURL      string
	MediaURL     string
	Timeout      time.Duration
	Now          func() time.Time
}

// Client ходит в X API: обмен кода, обновление токенов, загрузка медиа, посты.
type Client struct {
	http         *http.Client
	clientID     string
	clientSecret string
	redirectURI  string
	baseURL      string
	mediaURL     string
	now          func() time.Time
}

// New создаёт клиента X API.
func New(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	mediaURL := opts.MediaURL
	if mediaURL == "" {
		mediaURL = defaultMediaURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		http:         &http.Client{Timeout: timeout},
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		redirectURI:  opts.RedirectURI,
		baseURL:      baseURL,
		mediaURL:     mediaURL,
		now:          now,
	}
}

func (c *Client) basicAuth() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(c.clientID+":"+c.clientSecret))
}

// tokenPayload — сырой ответ токен-эндпоинта. Поля истечения валидируются
// на границе: expires_at приходит строкой ISO, expires_in — числом или строкой.
type tokenPayload struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresAt    string          `json:"expires_at"`
	ExpiresIn    json.RawMessage `json:"expires_in"`
	Scope        string          `json:"scope"`
	TokenType    string          `json:"token_type"`
}

func parseExpiresIn(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return int64(asNumber), true
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if sec, err := strconv.ParseInt(strings.TrimSpace(asString), 10, 64); err == nil {
			return sec, true
		}
	}
	return 0, false
}

// computeExpiresAt приводит поля истечения к моменту времени:
// expires_at имеет приоритет, иначе now + expires_in.
func (c *Client) computeExpiresAt(p tokenPayload) (time.Time, error) {
	if p.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, p.ExpiresAt)
		if err == nil {
			return t, nil
		}
	}
	if sec, ok := parseExpiresIn(p.ExpiresIn); ok {
		return c.now().Add(time.Duration(sec) * time.Second), nil
	}
	return time.Time{}, ErrMissingExpiry
}

func (c *Client) tokenRequest(ctx context.Context, op string, form url.Values) (tokenPayload, error) {
	endpoint := c.baseURL + "/2/oauth2/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenPayload{}, fmt.Errorf("xclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", c.basicAuth())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("x", op, "oauth2_token", start, err)
		return tokenPayload{}, fmt.Errorf("xclient: %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveNetworkRequest("x", op, "oauth2_token", start, err)
		return tokenPayload{}, fmt.Errorf("xclient: %s: read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Detail: string(body)}
		metrics.ObserveNetworkRequest("x", op, "oauth2_token", start, apiErr)
		return tokenPayload{}, apiErr
	}
	metrics.ObserveNetworkRequest("x", op, "oauth2_token", start, nil)

	var payload tokenPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return tokenPayload{}, fmt.Errorf("xclient: %s: decode response: %w", op, err)
	}
	if payload.AccessToken == "" {
		return tokenPayload{}, fmt.Errorf("xclient: %s: response has no access token", op)
	}
	return payload, nil
}

func (c *Client) toRecord(p tokenPayload, fallbackRefresh string) (domain.TokenRecord, error) {
	expiresAt, err := c.computeExpiresAt(p)
	if err != nil {
		return domain.TokenRecord{}, err
	}
	refresh := p.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}
	tokenType := p.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}
	return domain.TokenRecord{
		AccessToken:  p.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
		Scope:        p.Scope,
		TokenType:    tokenType,
	}, nil
}

// ExchangeCode меняет авторизационный код на токены (PKCE, confidential client:
// client_id передаётся в Basic, в теле его нет).
func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier string) (domain.TokenRecord, error) {
	payload, err := c.tokenRequest(ctx, "exchange_code", url.Values{
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {c.redirectURI},
		"code":          {code},
		"code_verifier": {codeVerifier},
	})
	if err != nil {
		return domain.TokenRecord{}, err
	}
	return c.toRecord(payload, "")
}

// Refresh обновляет токены по refresh-токену. Если ответ не содержит новый
// refresh-токен, переносится прежний.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (domain.TokenRecord, error) {
	payload, err := c.tokenRequest(ctx, "refresh_token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	})
	if err != nil {
		return domain.TokenRecord{}, err
	}
	return c.toRecord(payload, refreshToken)
}

// UploadMedia загружает изображение (base64, допустим data-URI префикс)
// и возвращает media_id.
func (c *Client) UploadMedia(ctx context.Context, accessToken, imageData string) (string, error) {
	base64Data := imageData
	if i := strings.IndexByte(imageData, ','); i >= 0 {
		base64Data = imageData[i+1:]
	}
	if base64Data == "" {
		return "", fmt.Errorf("xclient: empty image payload")
	}

	form := url.Values{"media_data": {base64Data}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.mediaURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("xclient: build media request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("x", "media_upload", "media", start, err)
		return "", fmt.Errorf("xclient: media upload: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveNetworkRequest("x", "media_upload", "media", start, err)
		return "", fmt.Errorf("xclient: media upload: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Detail: string(body)}
		metrics.ObserveNetworkRequest("x", "media_upload", "media", start, apiErr)
		return "", apiErr
	}
	metrics.ObserveNetworkRequest("x", "media_upload", "media", start, nil)

	var media struct {
		MediaIDString string `json:"media_id_string"`
		MediaID       int64  `json:"media_id"`
	}
	if err := json.Unmarshal(body, &media); err != nil {
		return "", fmt.Errorf("xclient: media upload: decode response: %w", err)
	}
	switch {
	case media.MediaIDString != "":
		return media.MediaIDString, nil
	case media.MediaID != 0:
		return strconv.FormatInt(media.MediaID, 10), nil
	default:
		return "", &APIError{Status: http.StatusBadGateway, Detail: "media id missing in response"}
	}
}

// Post публикует твит с опциональными медиа и возвращает сырой ответ X.
func (c *Client) Post(ctx context.Context, accessToken, text string, mediaIDs ...string) (json.RawMessage, error) {
	payload := map[string]any{}
	if strings.TrimSpace(text) != "" {
		payload["text"] = strings.TrimSpace(text)
	}
	if len(mediaIDs) > 0 {
		payload["media"] = map[string]any{"media_ids": mediaIDs}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("xclient: marshal tweet: %w", err)
	}

	endpoint := c.baseURL + "/2/tweets"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("xclient: build tweet request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("x", "post_tweet", "tweets", start, err)
		return nil, fmt.Errorf("xclient: post tweet: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveNetworkRequest("x", "post_tweet", "tweets", start, err)
		return nil, fmt.Errorf("xclient: post tweet: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Detail: string(respBody)}
		metrics.ObserveNetworkRequest("x", "post_tweet", "tweets", start, apiErr)
		return nil, apiErr
	}
	metrics.ObserveNetworkRequest("x", "post_tweet", "tweets", start, nil)

	var wrapper struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &wrapper); err == nil && len(wrapper.Data) > 0 {
		return wrapper.Data, nil
	}
	return respBody, nil
}
