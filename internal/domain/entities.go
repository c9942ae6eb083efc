package domain

import "time"

// User описывает пользователя сервиса.
type User struct {
	ID        string
	Timezone  string
	CreatedAt time.Time
}

// HourSlot — один часовой слот дня.
// Aligned == nil означает, что слот ещё не оценивался.
type HourSlot struct {
	StartHour int    `json:"startHour"`
	Body      string `json:"body"`
	Aligned   *bool  `json:"aligned,omitempty"`
}

// DayRecord — запись одного календарного дня: цель и 16 часовых слотов.
type DayRecord struct {
	Goal  string     `json:"goal"`
	Hours []HourSlot `json:"hours"`
}

// DayRow — строка дня в удалённом хранилище.
type DayRow struct {
	ID   string
	Date string
	Goal string
}

// Verdict — результат классификации часовой записи.
type Verdict struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
}

// RatingStatus — эфемерный статус оценки слота. Отсутствие записи = idle.
type RatingStatus string

const (
	// RatingIdle — слот не оценивается.
	RatingIdle RatingStatus = "idle"
	// RatingPending — классификация в полёте.
	RatingPending RatingStatus = "pending"
	// RatingSettling — вердикт применён, открыто окно показа результата.
	RatingSettling RatingStatus = "settling"
)

// TokenRecord хранит токены интеграции с X для одного пользователя.
// Запись всегда заменяется целиком, частичных обновлений нет.
type TokenRecord struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
	TokenType    string
}

// DigestResult — итог обработки одного пользователя планировщиком.
type DigestResult struct {
	UserID string `json:"user_id"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// DigestReport — агрегированный отчёт одного запуска планировщика.
type DigestReport struct {
	RanFor  int            `json:"ran_for"`
	DryRun  bool           `json:"dry_run"`
	Results []DigestResult `json:"results"`
}
