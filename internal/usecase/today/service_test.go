package today

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"stoptrolling/internal/domain"
	"stoptrolling/internal/ledger"
	"stoptrolling/internal/slot"
)

type memKV struct {
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: make(map[string][]byte)} }

func (m *memKV) Set(key string, value []byte, _ time.Duration) error {
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memKV) Get(key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return v, nil
}

func (m *memKV) GetDel(key string) ([]byte, error) {
	v, err := m.Get(key)
	delete(m.data, key)
	return v, err
}

func (m *memKV) Del(key string) error {
	delete(m.data, key)
	return nil
}

func (m *memKV) Keys(prefix string) ([]string, error) {
	var out []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memKV) Once(_ string, _ time.Duration, fn func() error) (bool, error) {
	return true, fn()
}

type stubDays struct {
	day        domain.DayRow
	hours      []domain.HourSlot
	goalCalls  []string
	hourCalls  []int
	upsertErr  error
	ensureErr  error
	ensureDate string
}

func (s *stubDays) EnsureDay(_ context.Context, _, date string) (domain.DayRow, error) {
	s.ensureDate = date
	return s.day, s.ensureErr
}

func (s *stubDays) FindDay(context.Context, string, string) (domain.DayRow, bool, error) {
	return s.day, true, nil
}

func (s *stubDays) LoadDayHours(context.Context, string) ([]domain.HourSlot, error) {
	return s.hours, nil
}

func (s *stubDays) UpsertGoal(_ context.Context, _, goal string) error {
	s.goalCalls = append(s.goalCalls, goal)
	return s.upsertErr
}

func (s *stubDays) UpsertHour(_ context.Context, _ string, startHour int, _ string) error {
	s.hourCalls = append(s.hourCalls, startHour)
	return s.upsertErr
}

func (s *stubDays) UpsertHourVerdict(context.Context, string, int, string, bool) error {
	return nil
}

type stubSessions struct {
	userID string
}

func (s *stubSessions) CurrentUserID(context.Context) (string, error) {
	if s.userID == "" {
		return "", domain.ErrNoSession
	}
	return s.userID, nil
}

func fixedNow() time.Time {
	return time.Date(2025, 10, 21, 10, 30, 0, 0, time.UTC)
}

func newService(days *stubDays, sessions *stubSessions) (*Service, *ledger.Store) {
	store := ledger.New(newMemKV(), zerolog.Nop())
	return New(store, days, sessions, fixedNow, zerolog.Nop()), store
}

func TestInitAnonymousKeepsLocalSkeleton(t *testing.T) {
	svc, store := newService(&stubDays{}, &stubSessions{})
	res, err := svc.Init(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res.Authed {
		t.Fatalf("анонимный init не должен считаться аутентифицированным")
	}
	if len(res.Record.Hours) != slot.Count {
		t.Fatalf("локальный каркас обязан содержать %d слотов", slot.Count)
	}
	if _, ok := store.Get("2025-10-21"); !ok {
		t.Fatalf("сегодняшний день должен появиться в леджере")
	}
}

func TestInitAuthedSyncsRemoteState(t *testing.T) {
	aligned := true
	hours := slot.DefaultHours()
	hours[0].Body = "утренний спорт"
	hours[0].Aligned = &aligned
	days := &stubDays{
		day:   domain.DayRow{ID: "day-1", Date: "2025-10-21", Goal: "сдать отчёт"},
		hours: hours,
	}
	svc, store := newService(days, &stubSessions{userID: "user-1"})

	res, err := svc.Init(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !res.Authed || res.UserID != "user-1" {
		t.Fatalf("ожидали аутентифицированный init, получили %+v", res)
	}
	if days.ensureDate != "2025-10-21" {
		t.Fatalf("день должен создаваться на сегодняшнюю дату, получили %q", days.ensureDate)
	}
	rec, _ := store.Get("2025-10-21")
	if rec.Goal != "сдать отчёт" {
		t.Fatalf("цель должна прийти из удалённого хранилища, получили %q", rec.Goal)
	}
	if rec.Hours[0].Body != "утренний спорт" || rec.Hours[0].Aligned == nil {
		t.Fatalf("слоты должны замениться удалёнными, получили %+v", rec.Hours[0])
	}
}

func TestSaveGoalRemoteFirst(t *testing.T) {
	days := &stubDays{upsertErr: errors.New("postgres down")}
	svc, store := newService(days, &stubSessions{userID: "user-1"})
	if err := svc.SaveGoal(context.Background(), "day-1", "цель"); err == nil {
		t.Fatalf("ошибка удалённой записи должна всплывать")
	}
	if rec, ok := store.Get("2025-10-21"); ok && rec.Goal == "цель" {
		t.Fatalf("локальная цель не должна обгонять удалённое хранилище")
	}
}

func TestSaveHourPatchesBySlotIndex(t *testing.T) {
	days := &stubDays{}
	svc, store := newService(days, &stubSessions{userID: "user-1"})
	if err := svc.SaveHour(context.Background(), "day-1", 10, "писал код"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(days.hourCalls) != 1 || days.hourCalls[0] != 10 {
		t.Fatalf("ожидали удалённую запись часа 10, получили %v", days.hourCalls)
	}
	rec, _ := store.Get("2025-10-21")
	if rec.Hours[2].Body != "писал код" {
		t.Fatalf("слот с startHour=10 живёт под индексом 2, получили %+v", rec.Hours[2])
	}
}

func TestPatchAlignedUnknownHourIsNoop(t *testing.T) {
	svc, store := newService(&stubDays{}, &stubSessions{userID: "user-1"})
	if err := svc.PatchAligned(3, true); err != nil {
		t.Fatalf("неизвестный час не должен давать ошибку: %v", err)
	}
	rec, _ := store.Get("2025-10-21")
	for _, h := range rec.Hours {
		if h.Aligned != nil {
			t.Fatalf("ни один слот не должен быть помечен, получили %+v", h)
		}
	}
}
