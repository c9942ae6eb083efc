package digest

import (
	"strings"
	"testing"

	"stoptrolling/internal/domain"
	"stoptrolling/internal/slot"
)

func boolPtr(v bool) *bool { return &v }

func hoursWith(good, bad int) []domain.HourSlot {
	hours := slot.DefaultHours()
	i := 0
	for ; i < good; i++ {
		hours[i].Aligned = boolPtr(true)
	}
	for ; i < good+bad; i++ {
		hours[i].Aligned = boolPtr(false)
	}
	return hours
}

func TestBuildScore(t *testing.T) {
	cases := []struct {
		good, bad int
		want      int
	}{
		{10, 2, 83},
		{0, 0, 0},
		{16, 0, 100},
		{0, 16, 84},
	}
	for _, tc := range cases {
		d := Build("2025-10-21", hoursWith(tc.good, tc.bad))
		if d.Score != tc.want {
			t.Fatalf("good=%d bad=%d: ожидали счёт %d, получили %d", tc.good, tc.bad, tc.want, d.Score)
		}
	}
}

func TestBuildLineHasSixteenGlyphs(t *testing.T) {
	d := Build("2025-10-21", hoursWith(3, 2))
	if got := len([]rune(d.Line)); got != slot.Count {
		t.Fatalf("строка должна содержать %d глифов, получили %d", slot.Count, got)
	}
	if !strings.HasPrefix(d.Line, "🟢🟢🟢🔴🔴⚪") {
		t.Fatalf("неожиданная строка глифов: %q", d.Line)
	}
}

func TestBuildFillsMissingHoursAsWhite(t *testing.T) {
	// Всего два часа в данных: сетка всё равно каноническая.
	hours := []domain.HourSlot{
		{StartHour: 10, Aligned: boolPtr(true)},
		{StartHour: 23, Aligned: boolPtr(false)},
	}
	d := Build("2025-10-21", hours)
	runes := []rune(d.Line)
	if len(runes) != slot.Count {
		t.Fatalf("ожидали %d точек, получили %d", slot.Count, len(runes))
	}
	if runes[0] != '⚪' || runes[2] != '🟢' || runes[15] != '🔴' {
		t.Fatalf("точки должны ложиться по каноническим индексам, получили %q", d.Line)
	}
	if d.Good != 1 || d.Bad != 1 {
		t.Fatalf("ожидали 1 зелёную и 1 красную, получили %d/%d", d.Good, d.Bad)
	}
}

func TestBuildText(t *testing.T) {
	d := Build("2025-10-21", hoursWith(10, 2))
	want := "2025-10-21 | Score: 83 | stoptrolling[dot]app\n" + d.Line
	if d.Text != want {
		t.Fatalf("неожиданный текст поста:\n%q\nожидали\n%q", d.Text, want)
	}
}
