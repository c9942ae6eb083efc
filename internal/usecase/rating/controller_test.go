package rating

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"stoptrolling/internal/domain"
)

type stubClassifier struct {
	verdict domain.Verdict
	err     error
}

func (s *stubClassifier) Rate(context.Context, string, string) (domain.Verdict, error) {
	return s.verdict, s.err
}

type stubDays struct {
	verdicts  []bool
	persistEr error
}

func (s *stubDays) EnsureDay(context.Context, string, string) (domain.DayRow, error) {
	return domain.DayRow{}, nil
}

func (s *stubDays) FindDay(context.Context, string, string) (domain.DayRow, bool, error) {
	return domain.DayRow{}, false, nil
}

func (s *stubDays) LoadDayHours(context.Context, string) ([]domain.HourSlot, error) {
	return nil, nil
}

func (s *stubDays) UpsertGoal(context.Context, string, string) error { return nil }

func (s *stubDays) UpsertHour(context.Context, string, int, string) error { return nil }

func (s *stubDays) UpsertHourVerdict(_ context.Context, _ string, _ int, _ string, aligned bool) error {
	if s.persistEr != nil {
		return s.persistEr
	}
	s.verdicts = append(s.verdicts, aligned)
	return nil
}

type stubPatcher struct {
	patched map[int]bool
}

func (s *stubPatcher) PatchAligned(startHour int, aligned bool) error {
	if s.patched == nil {
		s.patched = make(map[int]bool)
	}
	s.patched[startHour] = aligned
	return nil
}

func newController(classifier *stubClassifier, days *stubDays, settle time.Duration) (*Controller, *stubPatcher) {
	patcher := &stubPatcher{}
	ctrl := NewController(NewService(classifier, days), patcher, settle, zerolog.Nop())
	return ctrl, patcher
}

func TestRateAndPatchHappyPath(t *testing.T) {
	days := &stubDays{}
	ctrl, patcher := newController(&stubClassifier{verdict: domain.Verdict{OK: false, Reason: "прокрастинация"}}, days, time.Hour)

	aligned, err := ctrl.RateAndPatch(context.Background(), "day-1", 10, "листал ленту", "сдать отчёт")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if aligned {
		t.Fatalf("ожидали aligned=false")
	}
	if len(days.verdicts) != 1 || days.verdicts[0] != false {
		t.Fatalf("вердикт должен уйти в хранилище, получили %v", days.verdicts)
	}
	if got, ok := patcher.patched[10]; !ok || got {
		t.Fatalf("вердикт должен примениться локально, получили %v", patcher.patched)
	}
	if st := ctrl.Status(10); st != domain.RatingSettling {
		t.Fatalf("после вердикта слот должен быть settling, получили %q", st)
	}
	ctrl.Stop()
}

func TestSettleTimerReturnsSlotToIdle(t *testing.T) {
	ctrl, _ := newController(&stubClassifier{verdict: domain.Verdict{OK: true}}, &stubDays{}, 20*time.Millisecond)
	if _, err := ctrl.RateAndPatch(context.Background(), "day-1", 8, "спорт", ""); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for ctrl.Status(8) != domain.RatingIdle {
		if time.Now().After(deadline) {
			t.Fatalf("слот обязан вернуться в idle после окна settling")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRepeatedRequestRearmsTimer(t *testing.T) {
	ctrl, _ := newController(&stubClassifier{verdict: domain.Verdict{OK: true}}, &stubDays{}, 60*time.Millisecond)
	if _, err := ctrl.RateAndPatch(context.Background(), "day-1", 9, "писал код", ""); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if _, err := ctrl.RateAndPatch(context.Background(), "day-1", 9, "писал код ещё", ""); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	// Старый таймер перевзведён: спустя исходное окно слот всё ещё settling.
	time.Sleep(40 * time.Millisecond)
	if st := ctrl.Status(9); st != domain.RatingSettling {
		t.Fatalf("повторный запрос должен перевзводить таймер, получили %q", st)
	}
	ctrl.Stop()
}

func TestTransportErrorClearsStatus(t *testing.T) {
	wantErr := errors.New("connection refused")
	ctrl, patcher := newController(&stubClassifier{err: wantErr}, &stubDays{}, time.Hour)

	_, err := ctrl.RateAndPatch(context.Background(), "day-1", 11, "писал код", "")
	if !errors.Is(err, wantErr) {
		t.Fatalf("транспортная ошибка должна всплывать, получили %v", err)
	}
	if st := ctrl.Status(11); st != domain.RatingIdle {
		t.Fatalf("после ошибки слот обязан вернуться в idle, получили %q", st)
	}
	if len(patcher.patched) != 0 {
		t.Fatalf("локальный леджер не должен трогаться при ошибке")
	}
}

func TestPersistErrorClearsStatus(t *testing.T) {
	ctrl, _ := newController(&stubClassifier{verdict: domain.Verdict{OK: true}}, &stubDays{persistEr: errors.New("postgres down")}, time.Hour)
	if _, err := ctrl.RateAndPatch(context.Background(), "day-1", 12, "писал код", ""); err == nil {
		t.Fatalf("ошибка записи вердикта должна всплывать")
	}
	if st := ctrl.Status(12); st != domain.RatingIdle {
		t.Fatalf("после ошибки слот обязан вернуться в idle, получили %q", st)
	}
}

func TestEmptyLogRejected(t *testing.T) {
	ctrl, _ := newController(&stubClassifier{verdict: domain.Verdict{OK: true}}, &stubDays{}, time.Hour)
	if _, err := ctrl.RateAndPatch(context.Background(), "day-1", 13, "   ", ""); !errors.Is(err, ErrEmptyLog) {
		t.Fatalf("ожидали ErrEmptyLog, получили %v", err)
	}
	if st := ctrl.Status(13); st != domain.RatingIdle {
		t.Fatalf("отклонённая запись не должна оставлять статус, получили %q", st)
	}
}
