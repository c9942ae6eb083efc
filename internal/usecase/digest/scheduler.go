package digest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stoptrolling/internal/domain"
	"stoptrolling/internal/infra/metrics"
	"stoptrolling/internal/slot"
	"stoptrolling/internal/usecase/token"
)

const (
	dedupeKeyPrefix = "stoptrolling:digest:"
	dedupeTTL       = 48 * time.Hour
)

// Poster публикует текстовый пост от имени пользователя.
type Poster interface {
	Post(ctx context.Context, accessToken, text string, mediaIDs ...string) (json.RawMessage, error)
}

// RunOptions — параметры одного запуска планировщика.
type RunOptions struct {
	// DryRun собирает итоги, но не публикует.
	DryRun bool
	// DateOverride задаёт дату вместо локального «вчера» и отключает
	// оконную проверку полуночи.
	DateOverride string
}

// Scheduler обходит пользователей с часовым поясом и публикует итог
// вчерашнего дня сразу после их локальной полуночи.
type Scheduler struct {
	users         domain.UserRepo
	days          domain.DayRepo
	tokens        *token.Manager
	kv            domain.KV
	queue         domain.PostQueue
	poster        Poster
	windowMinutes int
	now           func() time.Time
	log           zerolog.Logger
}

// NewScheduler создаёт планировщик дневных итогов.
func NewScheduler(
	users domain.UserRepo,
	days domain.DayRepo,
	tokens *token.Manager,
	kv domain.KV,
	queue domain.PostQueue,
	poster Poster,
	windowMinutes int,
	now func() time.Time,
	logger zerolog.Logger,
) *Scheduler {
	if windowMinutes <= 0 {
		windowMinutes = 15
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		users:         users,
		days:          days,
		tokens:        tokens,
		kv:            kv,
		queue:         queue,
		poster:        poster,
		windowMinutes: windowMinutes,
		now:           now,
		log:           logger,
	}
}

// Run обрабатывает всех пользователей независимо: сбой одного не прерывает
// остальных. Возвращаемый отчёт перечисляет исход по каждому.
func (s *Scheduler) Run(ctx context.Context, opts RunOptions) (domain.DigestReport, error) {
	metrics.DigestRunsTotal.Inc()
	users, err := s.users.ListWithTimezone(ctx)
	if err != nil {
		return domain.DigestReport{}, err
	}

	report := domain.DigestReport{
		RanFor:  len(users),
		DryRun:  opts.DryRun,
		Results: make([]domain.DigestResult, 0, len(users)),
	}
	for _, u := range users {
		report.Results = append(report.Results, s.runUser(ctx, u, opts))
	}
	return report, nil
}

func (s *Scheduler) runUser(ctx context.Context, u domain.User, opts RunOptions) (res domain.DigestResult) {
	res = domain.DigestResult{UserID: u.ID}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("user_id", u.ID).Interface("panic", r).Msg("digest: паника при обработке пользователя")
			res = domain.DigestResult{UserID: u.ID, OK: false, Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()

	tz := u.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		res.Reason = "bad timezone"
		return res
	}
	localNow := s.now().In(loc)

	targetDate := opts.DateOverride
	if targetDate == "" {
		// Окно публикации: первые windowMinutes минут после локальной полуночи.
		if localNow.Hour() != 0 || localNow.Minute() >= s.windowMinutes {
			res.Reason = "outside posting window"
			return res
		}
		targetDate = slot.DateKey(localNow.AddDate(0, 0, -1))
	}

	day, found, err := s.days.FindDay(ctx, u.ID, targetDate)
	if err != nil || !found {
		res.Reason = "no day for " + targetDate
		return res
	}
	hours, err := s.days.LoadDayHours(ctx, day.ID)
	if err != nil {
		res.Reason = "hours query failed"
		return res
	}
	d := Build(targetDate, hours)

	rec, err := s.tokens.EnsureFresh(ctx, u.ID)
	switch {
	case errors.Is(err, token.ErrNoTokens):
		res.Reason = "no x tokens"
		return res
	case errors.Is(err, token.ErrRefreshUnavailable):
		res.Reason = "expired & no refresh token"
		return res
	case errors.Is(err, token.ErrRefreshFailed):
		res.Reason = "refresh_failed"
		return res
	case err != nil:
		res.Reason = err.Error()
		return res
	}

	if opts.DryRun {
		res.OK = true
		res.Reason = "dry_run"
		return res
	}

	var postErr error
	executed, onceErr := s.kv.Once(dedupeKeyPrefix+u.ID+":"+targetDate, dedupeTTL, func() error {
		_, postErr = s.poster.Post(ctx, rec.AccessToken, d.Text)
		return postErr
	})
	if onceErr == nil && !executed {
		res.OK = true
		res.Reason = "already posted"
		return res
	}
	if postErr != nil {
		metrics.IncDigestPost("failed")
		s.enqueueRetry(ctx, u.ID, targetDate, d.Text)
		res.Reason = fmt.Sprintf("x post failed: %v", postErr)
		return res
	}
	if onceErr != nil {
		res.Reason = fmt.Sprintf("x post failed: %v", onceErr)
		return res
	}

	metrics.IncDigestPost("ok")
	res.OK = true
	return res
}

func (s *Scheduler) enqueueRetry(ctx context.Context, userID, date, text string) {
	if s.queue == nil {
		return
	}
	job := domain.PostJob{
		ID:          uuid.NewString(),
		UserID:      userID,
		Date:        date,
		Text:        text,
		Attempt:     1,
		RequestedAt: s.now(),
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Str("date", date).Msg("digest: не удалось поставить повтор в очередь")
	}
}
