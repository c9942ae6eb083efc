package rating

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stoptrolling/internal/domain"
	"stoptrolling/internal/infra/metrics"
)

// SettleDuration — окно показа вердикта перед возвратом слота в idle.
const SettleDuration = 600 * time.Millisecond

// ErrEmptyLog возвращается на попытку оценить пустую запись.
var ErrEmptyLog = errors.New("rating: empty log")

// Service оценивает запись и сохраняет вердикт в удалённое хранилище.
type Service struct {
	classifier domain.Classifier
	days       domain.DayRepo
}

// NewService создаёт сервис оценки.
func NewService(classifier domain.Classifier, days domain.DayRepo) *Service {
	return &Service{classifier: classifier, days: days}
}

// RateAndPersist классифицирует запись и апсертит слот вместе с вердиктом.
func (s *Service) RateAndPersist(ctx context.Context, dayID string, startHour int, body, goal string) (bool, error) {
	if strings.TrimSpace(body) == "" {
		return false, ErrEmptyLog
	}
	verdict, err := s.classifier.Rate(ctx, body, goal)
	if err != nil {
		metrics.IncRating("transport_error")
		return false, err
	}
	if err := s.days.UpsertHourVerdict(ctx, dayID, startHour, body, verdict.OK); err != nil {
		metrics.IncRating("persist_error")
		return false, err
	}
	if verdict.OK {
		metrics.IncRating("aligned")
	} else {
		metrics.IncRating("misaligned")
	}
	return verdict.OK, nil
}

// alignedPatcher применяет вердикт к локальному леджеру.
type alignedPatcher interface {
	PatchAligned(startHour int, aligned bool) error
}

// Controller ведёт эфемерные статусы оценки по часам:
// idle → pending → settling → idle. Повторный запрос по тому же часу
// перевзводит таймер гашения (cancel-then-arm).
type Controller struct {
	svc     *Service
	patcher alignedPatcher
	settle  time.Duration
	log     zerolog.Logger

	mu       sync.Mutex
	statuses map[int]domain.RatingStatus
	timers   map[int]*time.Timer
}

// NewController создаёт контроллер статусов оценки.
func NewController(svc *Service, patcher alignedPatcher, settle time.Duration, logger zerolog.Logger) *Controller {
	if settle <= 0 {
		settle = SettleDuration
	}
	return &Controller{
		svc:      svc,
		patcher:  patcher,
		settle:   settle,
		log:      logger,
		statuses: make(map[int]domain.RatingStatus),
		timers:   make(map[int]*time.Timer),
	}
}

// RateAndPatch выполняет полный цикл оценки слота: pending на время
// классификации, вердикт в удалённое хранилище и локальный леджер,
// затем settling с автогашением. Ошибка немедленно возвращает слот в idle.
func (c *Controller) RateAndPatch(ctx context.Context, dayID string, startHour int, body, goal string) (bool, error) {
	c.setStatus(startHour, domain.RatingPending)
	started := time.Now()

	aligned, err := c.svc.RateAndPersist(ctx, dayID, startHour, body, goal)
	if err != nil {
		c.clearStatus(startHour)
		return false, err
	}

	if err := c.patcher.PatchAligned(startHour, aligned); err != nil {
		c.log.Warn().Err(err).Int("start_hour", startHour).Msg("rating: не удалось применить вердикт локально")
	}

	c.setStatus(startHour, domain.RatingSettling)
	c.armSettleTimer(startHour)
	metrics.RatingSettleSeconds.Observe(time.Since(started).Seconds())
	return aligned, nil
}

// Status возвращает статус слота; отсутствие записи означает idle.
func (c *Controller) Status(startHour int) domain.RatingStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.statuses[startHour]; ok {
		return st
	}
	return domain.RatingIdle
}

// StatusSnapshot возвращает копию всех не-idle статусов.
func (c *Controller) StatusSnapshot() map[int]domain.RatingStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]domain.RatingStatus, len(c.statuses))
	for h, st := range c.statuses {
		out[h] = st
	}
	return out
}

// Stop гасит все таймеры. Статусы не трогаются, вызывается при остановке сервиса.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for h, timer := range c.timers {
		timer.Stop()
		delete(c.timers, h)
	}
}

func (c *Controller) setStatus(startHour int, st domain.RatingStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[startHour] = st
}

func (c *Controller) clearStatus(startHour int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.statuses, startHour)
	if timer, ok := c.timers[startHour]; ok {
		timer.Stop()
		delete(c.timers, startHour)
	}
}

func (c *Controller) armSettleTimer(startHour int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timer, ok := c.timers[startHour]; ok {
		timer.Stop()
	}
	c.timers[startHour] = time.AfterFunc(c.settle, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.statuses, startHour)
		delete(c.timers, startHour)
	})
}
