package oauth

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"stoptrolling/internal/domain"
)

const pkceKeyPrefix = "stoptrolling:x:pkce:"

// Маркеры исхода callback: фронт показывает их пользователю после редиректа.
var (
	ErrUnexpectedState = errors.New("oauth: unexpected state")
	ErrExchangeFailed  = errors.New("oauth: code exchange failed")
	ErrLoginRequired   = errors.New("oauth: login required")
	ErrTokenStore      = errors.New("oauth: token store failed")
)

// CodeExchanger меняет авторизационный код на токены.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code, codeVerifier string) (domain.TokenRecord, error)
}

// Flow ведёт серверную часть OAuth-потока X: выдаёт URL авторизации
// с PKCE-состоянием и обрабатывает callback.
type Flow struct {
	kv       domain.KV
	exchange CodeExchanger
	tokens   domain.TokenRepo
	sessions domain.SessionService
	clientID string
	redirect string
	log      zerolog.Logger
}

// NewFlow создаёт OAuth-поток.
func NewFlow(kv domain.KV, exchange CodeExchanger, tokens domain.TokenRepo, sessions domain.SessionService, clientID, redirectURI string, logger zerolog.Logger) *Flow {
	return &Flow{
		kv:       kv,
		exchange: exchange,
		tokens:   tokens,
		sessions: sessions,
		clientID: clientID,
		redirect: redirectURI,
		log:      logger,
	}
}

// BeginResult — параметры начала авторизации: URL для редиректа и значения,
// которые хендлер дублирует в cookies (Max-Age = StateTTL).
type BeginResult struct {
	URL      string
	State    string
	Verifier string
}

// Begin генерирует verifier и state, сохраняет verifier под state в KV
// и строит URL авторизации.
func (f *Flow) Begin() (BeginResult, error) {
	verifier, err := BuildRandomString(64)
	if err != nil {
		return BeginResult{}, err
	}
	state, err := BuildRandomString(32)
	if err != nil {
		return BeginResult{}, err
	}
	if err := f.kv.Set(pkceKeyPrefix+state, []byte(verifier), StateTTL); err != nil {
		f.log.Warn().Err(err).Msg("oauth: не удалось сохранить PKCE-состояние в KV")
	}
	return BeginResult{
		URL:      AuthorizeURL(f.clientID, f.redirect, state, CreatePkceChallenge(verifier)),
		State:    state,
		Verifier: verifier,
	}, nil
}

// CallbackParams — вход callback: query-параметры X и одноразовые cookies.
type CallbackParams struct {
	Code           string
	State          string
	CookieState    string
	CookieVerifier string
}

// Callback проводит обратный редирект через цепочку проверок и возвращает
// путь для редиректа. Порядок фиксированный: отсутствие обоих параметров —
// тихий no-op; state и verifier читаются строго один раз; затем обмен кода,
// привязка к пользователю и сохранение токенов. Отсутствие срока действия
// в ответе обмена проверяется после привязки: без сессии исход —
// login_required.
func (f *Flow) Callback(ctx context.Context, p CallbackParams) (string, error) {
	if p.Code == "" || p.State == "" {
		return "/", nil
	}

	expectedState := p.CookieState
	verifier := p.CookieVerifier
	if stored, err := f.kv.GetDel(pkceKeyPrefix + p.State); err == nil && len(stored) > 0 {
		if verifier == "" {
			expectedState = p.State
			verifier = string(stored)
		}
	}
	if p.State != expectedState || verifier == "" {
		return "/?x=unexpected_state", ErrUnexpectedState
	}

	rec, exchangeErr := f.exchange.ExchangeCode(ctx, p.Code, verifier)
	if exchangeErr != nil && !errors.Is(exchangeErr, domain.ErrMissingExpiry) {
		f.log.Error().Err(exchangeErr).Msg("oauth: обмен кода не удался")
		return "/?x=oauth_error", errors.Join(ErrExchangeFailed, exchangeErr)
	}

	userID, err := f.sessions.CurrentUserID(ctx)
	if err != nil {
		return "/?x=login_required", ErrLoginRequired
	}

	if exchangeErr != nil {
		f.log.Error().Err(exchangeErr).Msg("oauth: в ответе обмена нет срока действия токена")
		return "/?x=oauth_error", errors.Join(ErrExchangeFailed, exchangeErr)
	}

	if err := f.tokens.UpsertTokens(ctx, userID, rec); err != nil {
		f.log.Error().Err(err).Str("user_id", userID).Msg("oauth: не удалось сохранить токены")
		return "/?x=token_store_failed", errors.Join(ErrTokenStore, err)
	}

	return "/", nil
}
