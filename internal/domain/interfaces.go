package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNoSession возвращается, когда запрос не привязан к аутентифицированному пользователю.
var ErrNoSession = errors.New("session: not authenticated")

// ErrMissingExpiry возвращается, когда ответ провайдера токенов не позволяет
// вычислить абсолютный момент истечения.
var ErrMissingExpiry = errors.New("token: response has no expiry")

// DayRepo управляет днями и часовыми строками в удалённом хранилище.
type DayRepo interface {
	// EnsureDay идемпотентно создаёт день на дату и возвращает существующую цель.
	EnsureDay(ctx context.Context, userID, date string) (DayRow, error)
	// FindDay возвращает день, если он существует.
	FindDay(ctx context.Context, userID, date string) (DayRow, bool, error)
	// LoadDayHours возвращает ровно 16 слотов в каноническом порядке,
	// дозаполняя отсутствующие часы пустыми слотами.
	LoadDayHours(ctx context.Context, dayID string) ([]HourSlot, error)
	UpsertGoal(ctx context.Context, dayID, goal string) error
	UpsertHour(ctx context.Context, dayID string, startHour int, body string) error
	// UpsertHourVerdict сохраняет текст вместе с вердиктом классификации.
	UpsertHourVerdict(ctx context.Context, dayID string, startHour int, body string, aligned bool) error
}

// TokenRepo хранит токены X по пользователю.
type TokenRepo interface {
	GetTokens(ctx context.Context, userID string) (TokenRecord, bool, error)
	// UpsertTokens заменяет запись целиком.
	UpsertTokens(ctx context.Context, userID string, rec TokenRecord) error
}

// UserRepo управляет пользователями.
type UserRepo interface {
	// ListWithTimezone возвращает пользователей с настроенным часовым поясом.
	ListWithTimezone(ctx context.Context) ([]User, error)
}

// Classifier оценивает часовую запись относительно цели дня.
// Внутренние сбои провайдера деградируют в безопасный вердикт ok=true,
// транспортная ошибка возвращается как error.
type Classifier interface {
	Rate(ctx context.Context, log, goal string) (Verdict, error)
}

// SessionService возвращает пользователя текущей сессии.
type SessionService interface {
	CurrentUserID(ctx context.Context) (string, error)
}

// KV — простое TTL-хранилище ключ-значение.
type KV interface {
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
	// GetDel читает значение и сразу удаляет ключ.
	GetDel(key string) ([]byte, error)
	Del(key string) error
	// Keys возвращает ключи по префиксу.
	Keys(prefix string) ([]string, error)
	// Once выполняет функцию, если ключ ещё не занят; возвращает,
	// была ли функция выполнена этим вызовом.
	Once(key string, ttl time.Duration, fn func() error) (bool, error)
}
