package token

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"stoptrolling/internal/domain"
	"stoptrolling/internal/infra/metrics"
)

// RefreshSkew — запас до истечения, при котором токен уже считается протухшим.
const RefreshSkew = 60 * time.Second

var (
	// ErrNoTokens — у пользователя нет сохранённых токенов X.
	ErrNoTokens = errors.New("token: no x tokens")
	// ErrRefreshUnavailable — токен истёк, а refresh-токена нет.
	ErrRefreshUnavailable = errors.New("token: expired & no refresh token")
	// ErrRefreshFailed — провайдер отклонил обновление.
	ErrRefreshFailed = errors.New("token: refresh failed")
)

// Refresher обновляет токены по refresh-токену.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (domain.TokenRecord, error)
}

// NeedsRefresh сообщает, пора ли обновлять токен: истечение неизвестно
// либо до него осталось не больше RefreshSkew.
func NeedsRefresh(expiresAt, now time.Time) bool {
	if expiresAt.IsZero() {
		return true
	}
	return !expiresAt.Add(-RefreshSkew).After(now)
}

// Manager выдаёт свежий access-токен, при необходимости обновляя его
// и сохраняя результат.
type Manager struct {
	tokens    domain.TokenRepo
	refresher Refresher
	now       func() time.Time
	log       zerolog.Logger
}

// NewManager создаёт менеджер токенов.
func NewManager(tokens domain.TokenRepo, refresher Refresher, now func() time.Time, logger zerolog.Logger) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{tokens: tokens, refresher: refresher, now: now, log: logger}
}

// EnsureFresh возвращает актуальные токены пользователя, обновляя их при
// приближении истечения. Сбой сохранения обновлённых токенов логируется,
// но не фатален: свежий access-токен уже на руках.
func (m *Manager) EnsureFresh(ctx context.Context, userID string) (domain.TokenRecord, error) {
	rec, found, err := m.tokens.GetTokens(ctx, userID)
	if err != nil {
		return domain.TokenRecord{}, err
	}
	if !found || rec.AccessToken == "" {
		return domain.TokenRecord{}, ErrNoTokens
	}
	if !NeedsRefresh(rec.ExpiresAt, m.now()) {
		return rec, nil
	}
	return m.Refresh(ctx, userID, rec)
}

// Refresh принудительно обновляет токены и сохраняет их.
func (m *Manager) Refresh(ctx context.Context, userID string, rec domain.TokenRecord) (domain.TokenRecord, error) {
	if rec.RefreshToken == "" {
		metrics.IncTokenRefresh("unavailable")
		return domain.TokenRecord{}, ErrRefreshUnavailable
	}
	refreshed, err := m.refresher.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		metrics.IncTokenRefresh("failed")
		return domain.TokenRecord{}, errors.Join(ErrRefreshFailed, err)
	}
	metrics.IncTokenRefresh("ok")
	if err := m.tokens.UpsertTokens(ctx, userID, refreshed); err != nil {
		m.log.Error().Err(err).Str("user_id", userID).Msg("token: не удалось сохранить обновлённые токены")
	}
	return refreshed, nil
}
