package today

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"stoptrolling/internal/domain"
	"stoptrolling/internal/ledger"
	"stoptrolling/internal/slot"
)

// InitResult — итог инициализации дня: локальная запись всегда на месте,
// удалённая часть заполнена только для аутентифицированного пользователя.
type InitResult struct {
	UserID string
	Day    domain.DayRow
	Record domain.DayRecord
	Authed bool
}

// Service синхронизирует сегодняшний день между локальным леджером
// и удалённым хранилищем. Порядок фиксированный: сперва удалённая запись,
// затем локальный патч, чтобы леджер не обгонял хранилище.
type Service struct {
	ledger   *ledger.Store
	days     domain.DayRepo
	sessions domain.SessionService
	now      func() time.Time
	log      zerolog.Logger
}

// New создаёт сервис сегодняшнего дня.
func New(store *ledger.Store, days domain.DayRepo, sessions domain.SessionService, now func() time.Time, logger zerolog.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{ledger: store, days: days, sessions: sessions, now: now, log: logger}
}

// TodayKey возвращает ключ сегодняшней даты.
func (s *Service) TodayKey() string {
	return slot.DateKey(s.now())
}

// Init гарантирует локальный каркас дня и, при наличии сессии, подтягивает
// удалённое состояние: создаёт день, загружает 16 слотов и цель.
// Анонимный пользователь остаётся с локальным леджером, это не ошибка.
func (s *Service) Init(ctx context.Context) (InitResult, error) {
	todayKey := s.TodayKey()
	rec, err := s.ledger.Ensure(todayKey)
	if err != nil {
		return InitResult{}, err
	}

	userID, err := s.sessions.CurrentUserID(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNoSession) {
			s.log.Error().Err(err).Msg("today: не удалось определить пользователя сессии")
		}
		return InitResult{Record: rec}, nil
	}

	day, err := s.days.EnsureDay(ctx, userID, todayKey)
	if err != nil {
		return InitResult{}, err
	}
	hours, err := s.days.LoadDayHours(ctx, day.ID)
	if err != nil {
		return InitResult{}, err
	}
	if err := s.ledger.ReplaceHours(todayKey, hours); err != nil {
		return InitResult{}, err
	}
	if err := s.ledger.SetGoal(todayKey, day.Goal); err != nil {
		return InitResult{}, err
	}

	rec, _ = s.ledger.Get(todayKey)
	return InitResult{UserID: userID, Day: day, Record: rec, Authed: true}, nil
}

// SaveGoal сохраняет цель дня: сначала удалённо, затем локально.
func (s *Service) SaveGoal(ctx context.Context, dayID, goal string) error {
	if err := s.days.UpsertGoal(ctx, dayID, goal); err != nil {
		return err
	}
	return s.ledger.SetGoal(s.TodayKey(), goal)
}

// SaveHour сохраняет текст слота: сначала удалённо, затем локальный патч
// по индексу слота с данным startHour. Неизвестный час молча игнорируется
// локально, удалённая запись при этом уже сделана.
func (s *Service) SaveHour(ctx context.Context, dayID string, startHour int, body string) error {
	if err := s.days.UpsertHour(ctx, dayID, startHour, body); err != nil {
		return err
	}
	return s.patchLocalHour(startHour, ledger.HourPatch{Body: &body})
}

// PatchAligned помечает слот вердиктом локально.
func (s *Service) PatchAligned(startHour int, aligned bool) error {
	return s.patchLocalHour(startHour, ledger.HourPatch{Aligned: &aligned})
}

func (s *Service) patchLocalHour(startHour int, patch ledger.HourPatch) error {
	todayKey := s.TodayKey()
	rec, err := s.ledger.Ensure(todayKey)
	if err != nil {
		return err
	}
	for i, h := range rec.Hours {
		if h.StartHour == startHour {
			return s.ledger.PatchHour(todayKey, i, patch)
		}
	}
	return nil
}
