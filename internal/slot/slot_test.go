package slot

import (
	"testing"
	"time"
)

func TestDefaultHours(t *testing.T) {
	hours := DefaultHours()
	if len(hours) != Count {
		t.Fatalf("ожидали %d слотов, получили %d", Count, len(hours))
	}
	for i, h := range hours {
		want := (BaseHour + i) % 24
		if h.StartHour != want {
			t.Fatalf("слот %d: ожидали startHour=%d, получили %d", i, want, h.StartHour)
		}
		if h.Body != "" || h.Aligned != nil {
			t.Fatalf("слот %d должен быть пустым и неоценённым", i)
		}
	}
}

func TestIsDateKey(t *testing.T) {
	cases := []struct {
		date string
		ok   bool
	}{
		{"2025-10-21", true},
		{"2025-02-29", false},
		{"2025-13-01", false},
		{"2025-1-01", false},
		{"вчера", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsDateKey(tc.date); got != tc.ok {
			t.Fatalf("IsDateKey(%q): ожидали %v, получили %v", tc.date, tc.ok, got)
		}
	}
}

func TestEndHourOf(t *testing.T) {
	if EndHourOf(8) != 9 {
		t.Fatalf("слот 8 должен закрываться в 9")
	}
	if EndHourOf(23) != 24 {
		t.Fatalf("последний слот должен закрываться в 24")
	}
}

func TestRangeLabel(t *testing.T) {
	cases := map[int]string{
		8:  "8–9AM",
		11: "11AM–12PM",
		12: "12–1PM",
		23: "11PM–12AM",
	}
	for start, want := range cases {
		if got := RangeLabel(start); got != want {
			t.Fatalf("RangeLabel(%d): ожидали %q, получили %q", start, want, got)
		}
	}
}

func TestMinutesUntil(t *testing.T) {
	now := time.Date(2025, 10, 21, 10, 0, 30, 0, time.UTC)
	target := time.Date(2025, 10, 21, 10, 5, 0, 0, time.UTC)
	if got := MinutesUntil(target, now); got != 5 {
		t.Fatalf("ожидали 5 минут с округлением вверх, получили %d", got)
	}
	if got := MinutesUntil(now.Add(-time.Hour), now); got != 0 {
		t.Fatalf("прошедший момент должен давать 0, получили %d", got)
	}
}

func TestRangeLastSlot(t *testing.T) {
	start, end, err := Range("2025-10-21", 23, time.UTC)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if start.Hour() != 23 {
		t.Fatalf("ожидали начало в 23:00")
	}
	if end.Day() != 22 || end.Hour() != 0 {
		t.Fatalf("конец последнего слота должен попадать в полночь следующего дня, получили %v", end)
	}
}
