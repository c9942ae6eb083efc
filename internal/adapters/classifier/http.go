package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"stoptrolling/internal/domain"
	"stoptrolling/internal/infra/metrics"
)

// ErrTransport помечает транспортный сбой при обращении к сервису оценки.
// В отличие от внутренних сбоев провайдера, он НЕ деградирует в ok=true:
// вызывающая сторона обязана отменить цикл оценки.
var ErrTransport = errors.New("classifier: transport error")

// HTTPClient ходит в HTTP-сервис оценки записей.
type HTTPClient struct {
	http     *http.Client
	endpoint string
}

var _ domain.Classifier = (*HTTPClient)(nil)

// NewHTTPClient создаёт клиента сервиса оценки.
func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		http:     &http.Client{Timeout: timeout},
		endpoint: endpoint,
	}
}

type rateRequest struct {
	Log  string `json:"log"`
	Goal string `json:"goal,omitempty"`
}

// Rate отправляет запись на оценку. Любой не-2xx статус и любая сетевая
// ошибка возвращаются как ErrTransport.
func (c *HTTPClient) Rate(ctx context.Context, logText, goal string) (domain.Verdict, error) {
	body, err := json.Marshal(rateRequest{Log: logText, Goal: goal})
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("classifier: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("classifier: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("classifier", "rate_log", c.endpoint, start, err)
		return domain.Verdict{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveNetworkRequest("classifier", "rate_log", c.endpoint, start, err)
		return domain.Verdict{}, fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = fmt.Errorf("%w: status %d: %s", ErrTransport, resp.StatusCode, bytes.TrimSpace(respBody))
		metrics.ObserveNetworkRequest("classifier", "rate_log", c.endpoint, start, err)
		return domain.Verdict{}, err
	}
	metrics.ObserveNetworkRequest("classifier", "rate_log", c.endpoint, start, nil)

	var verdict domain.Verdict
	if err := json.Unmarshal(respBody, &verdict); err != nil {
		return domain.Verdict{}, fmt.Errorf("%w: decode response: %v", ErrTransport, err)
	}
	return verdict, nil
}
