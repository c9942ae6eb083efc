package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stoptrolling/internal/domain"
	"stoptrolling/internal/infra/metrics"
	"stoptrolling/internal/slot"
)

// ErrRemoteWrite помечает ошибку записи в удалённое хранилище.
var ErrRemoteWrite = errors.New("repo: remote write failed")

// ErrRemoteRead помечает ошибку чтения из удалённого хранилища.
var ErrRemoteRead = errors.New("repo: remote read failed")

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.DayRepo = (*Postgres)(nil)
var _ domain.TokenRepo = (*Postgres)(nil)
var _ domain.UserRepo = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// EnsureDay идемпотентно создаёт день. Уникальный индекс (user_id, date) —
// единственная защита от конкурентных созданий, прикладных блокировок нет.
func (p *Postgres) EnsureDay(ctx context.Context, userID, date string) (domain.DayRow, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		row  domain.DayRow
		goal sql.NullString
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO days (id, user_id, date)
VALUES ($1, $2, $3)
ON CONFLICT (user_id, date) DO UPDATE SET date = EXCLUDED.date
RETURNING id, goal
`, uuid.NewString(), userID, date).Scan(&row.ID, &goal)
	metrics.ObserveNetworkRequest("postgres", "days_ensure", "days", start, err)
	if err != nil {
		return domain.DayRow{}, fmt.Errorf("days ensure: %w", errors.Join(ErrRemoteWrite, err))
	}
	row.Date = date
	if goal.Valid {
		row.Goal = goal.String
	}
	return row, nil
}

// FindDay возвращает день, если он существует.
func (p *Postgres) FindDay(ctx context.Context, userID, date string) (domain.DayRow, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		row  domain.DayRow
		goal sql.NullString
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, goal FROM days WHERE user_id = $1 AND date = $2
`, userID, date).Scan(&row.ID, &goal)
	metrics.ObserveNetworkRequest("postgres", "days_find", "days", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DayRow{}, false, nil
	}
	if err != nil {
		return domain.DayRow{}, false, fmt.Errorf("days find: %w", errors.Join(ErrRemoteRead, err))
	}
	row.Date = date
	if goal.Valid {
		row.Goal = goal.String
	}
	return row, true, nil
}

// LoadDayHours возвращает ровно 16 слотов в каноническом порядке.
// Часы, отсутствующие в хранилище, дозаполняются пустыми слотами.
func (p *Postgres) LoadDayHours(ctx context.Context, dayID string) ([]domain.HourSlot, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT start_hour, body, aligned
FROM day_hours WHERE day_id = $1
ORDER BY start_hour
`, dayID)
	metrics.ObserveNetworkRequest("postgres", "day_hours_list", "day_hours", start, err)
	if err != nil {
		return nil, fmt.Errorf("day hours list: %w", errors.Join(ErrRemoteRead, err))
	}
	defer rows.Close()

	byHour := make(map[int]domain.HourSlot)
	for rows.Next() {
		var (
			startHour int
			body      sql.NullString
			aligned   sql.NullBool
		)
		if err := rows.Scan(&startHour, &body, &aligned); err != nil {
			return nil, fmt.Errorf("day hours scan: %w", errors.Join(ErrRemoteRead, err))
		}
		entry := domain.HourSlot{StartHour: startHour}
		if body.Valid {
			entry.Body = body.String
		}
		if aligned.Valid {
			v := aligned.Bool
			entry.Aligned = &v
		}
		byHour[startHour] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("day hours rows: %w", errors.Join(ErrRemoteRead, err))
	}

	return canonicalHours(byHour), nil
}

// canonicalHours раскладывает прочитанные строки по канонической сетке:
// всегда 16 слотов, отсутствующие часы дозаполняются пустыми, часы вне
// сетки отбрасываются.
func canonicalHours(byHour map[int]domain.HourSlot) []domain.HourSlot {
	out := slot.DefaultHours()
	for i := range out {
		if entry, ok := byHour[out[i].StartHour]; ok {
			out[i] = entry
		}
	}
	return out
}

// UpsertGoal сохраняет цель дня.
func (p *Postgres) UpsertGoal(ctx context.Context, dayID, goal string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE days SET goal = $2, updated_at = now() WHERE id = $1`, dayID, goal)
	metrics.ObserveNetworkRequest("postgres", "days_upsert_goal", "days", start, err)
	if err != nil {
		return fmt.Errorf("days upsert goal: %w", errors.Join(ErrRemoteWrite, err))
	}
	return nil
}

// UpsertHour сохраняет текст часового слота.
func (p *Postgres) UpsertHour(ctx context.Context, dayID string, startHour int, body string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO day_hours (day_id, start_hour, body)
VALUES ($1, $2, $3)
ON CONFLICT (day_id, start_hour) DO UPDATE SET body = EXCLUDED.body, updated_at = now()
`, dayID, startHour, body)
	metrics.ObserveNetworkRequest("postgres", "day_hours_upsert", "day_hours", start, err)
	if err != nil {
		return fmt.Errorf("day hours upsert: %w", errors.Join(ErrRemoteWrite, err))
	}
	return nil
}

// UpsertHourVerdict сохраняет текст вместе с вердиктом классификации.
func (p *Postgres) UpsertHourVerdict(ctx context.Context, dayID string, startHour int, body string, aligned bool) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO day_hours (day_id, start_hour, body, aligned)
VALUES ($1, $2, $3, $4)
ON CONFLICT (day_id, start_hour) DO UPDATE SET body = EXCLUDED.body, aligned = EXCLUDED.aligned, updated_at = now()
`, dayID, startHour, body, aligned)
	metrics.ObserveNetworkRequest("postgres", "day_hours_upsert_verdict", "day_hours", start, err)
	if err != nil {
		return fmt.Errorf("day hours verdict upsert: %w", errors.Join(ErrRemoteWrite, err))
	}
	return nil
}

// GetTokens возвращает токены X пользователя.
func (p *Postgres) GetTokens(ctx context.Context, userID string) (domain.TokenRecord, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		rec       domain.TokenRecord
		refresh   sql.NullString
		expiresAt sql.NullTime
		scope     sql.NullString
		tokenType sql.NullString
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT access_token, refresh_token, expires_at, scope, token_type
FROM x_tokens WHERE user_id = $1
`, userID).Scan(&rec.AccessToken, &refresh, &expiresAt, &scope, &tokenType)
	metrics.ObserveNetworkRequest("postgres", "x_tokens_get", "x_tokens", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TokenRecord{}, false, nil
	}
	if err != nil {
		return domain.TokenRecord{}, false, fmt.Errorf("x tokens get: %w", errors.Join(ErrRemoteRead, err))
	}
	if refresh.Valid {
		rec.RefreshToken = refresh.String
	}
	if expiresAt.Valid {
		rec.ExpiresAt = expiresAt.Time
	}
	if scope.Valid {
		rec.Scope = scope.String
	}
	rec.TokenType = "bearer"
	if tokenType.Valid && tokenType.String != "" {
		rec.TokenType = tokenType.String
	}
	return rec, true, nil
}

// UpsertTokens заменяет запись токенов целиком.
func (p *Postgres) UpsertTokens(ctx context.Context, userID string, rec domain.TokenRecord) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var refresh any
	if rec.RefreshToken != "" {
		refresh = rec.RefreshToken
	}
	var scope any
	if rec.Scope != "" {
		scope = rec.Scope
	}
	tokenType := rec.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO x_tokens (user_id, access_token, refresh_token, expires_at, scope, token_type, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (user_id) DO UPDATE
SET access_token = EXCLUDED.access_token,
    refresh_token = EXCLUDED.refresh_token,
    expires_at = EXCLUDED.expires_at,
    scope = EXCLUDED.scope,
    token_type = EXCLUDED.token_type,
    updated_at = now()
`, userID, rec.AccessToken, refresh, rec.ExpiresAt, scope, tokenType)
	metrics.ObserveNetworkRequest("postgres", "x_tokens_upsert", "x_tokens", start, err)
	if err != nil {
		return fmt.Errorf("x tokens upsert: %w", errors.Join(ErrRemoteWrite, err))
	}
	return nil
}

// ListWithTimezone возвращает пользователей с настроенным часовым поясом.
func (p *Postgres) ListWithTimezone(ctx context.Context) ([]domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT user_id, timezone, created_at FROM users WHERE timezone IS NOT NULL
`)
	metrics.ObserveNetworkRequest("postgres", "users_list_tz", "users", start, err)
	if err != nil {
		return nil, fmt.Errorf("users list: %w", errors.Join(ErrRemoteRead, err))
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Timezone, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("users scan: %w", errors.Join(ErrRemoteRead, err))
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
