package view

import (
	"fmt"
	"strings"
	"time"

	"stoptrolling/internal/domain"
	"stoptrolling/internal/slot"
)

// Чистые проекции состояния дня: никакого ввода-вывода, только запись и часы.

// Countdown — остаток до 08:00 в тихие часы.
type Countdown struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

// IsQuietHours сообщает, идут ли тихие часы (до 08:00 локального времени).
func IsQuietHours(now time.Time) bool {
	return now.Hour() < slot.BaseHour
}

// CurrentIndex возвращает индекс текущего слота. Индекса нет, когда запись
// пуста, ключ даты не совпадает с сегодняшним или час вне канонической сетки.
func CurrentIndex(rec domain.DayRecord, todayKey string, now time.Time) (int, bool) {
	if len(rec.Hours) == 0 {
		return 0, false
	}
	if slot.DateKey(now) != todayKey {
		return 0, false
	}
	index := now.Hour() - rec.Hours[0].StartHour
	if index < 0 || index >= slot.Count {
		return 0, false
	}
	return index, true
}

// CurrentEntry возвращает текущий слот, если он есть.
func CurrentEntry(rec domain.DayRecord, todayKey string, now time.Time) (domain.HourSlot, bool) {
	index, ok := CurrentIndex(rec, todayKey, now)
	if !ok {
		return domain.HourSlot{}, false
	}
	return rec.Hours[index], true
}

// HasCurrentLog сообщает, заполнен ли текущий слот непустым текстом.
func HasCurrentLog(rec domain.DayRecord, todayKey string, now time.Time) bool {
	entry, ok := CurrentEntry(rec, todayKey, now)
	return ok && strings.TrimSpace(entry.Body) != ""
}

// ShouldShowInput сообщает, нужно ли показывать поле ввода: не тихие часы,
// текущий слот существует и ещё не заполнен.
func ShouldShowInput(rec domain.DayRecord, todayKey string, now time.Time) bool {
	if IsQuietHours(now) {
		return false
	}
	_, ok := CurrentEntry(rec, todayKey, now)
	return ok && !HasCurrentLog(rec, todayKey, now)
}

// CountdownToMorning считает остаток до 08:00 с округлением минут вверх.
// Вне тихих часов остаток нулевой.
func CountdownToMorning(now time.Time) Countdown {
	if !IsQuietHours(now) {
		return Countdown{}
	}
	eightAM := time.Date(now.Year(), now.Month(), now.Day(), slot.BaseHour, 0, 0, 0, now.Location())
	total := slot.MinutesUntil(eightAM, now)
	return Countdown{Hours: total / 60, Minutes: total % 60}
}

// SlotLabel возвращает метку текущего слота для поля ввода; пустая строка,
// когда ввод не показывается.
func SlotLabel(rec domain.DayRecord, todayKey string, now time.Time) string {
	if !ShouldShowInput(rec, todayKey, now) {
		return ""
	}
	entry, _ := CurrentEntry(rec, todayKey, now)
	return slot.RangeLabel(entry.StartHour)
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func comeBackIn(minutes int) string {
	if minutes <= 0 {
		return "Almost time…"
	}
	if minutes == 1 {
		return "Come back in 1 minute..."
	}
	return fmt.Sprintf("Come back in %d minutes...", minutes)
}

// StatusText строит строку статуса под полем ввода: в тихие часы — обратный
// отсчёт до утра, иначе — положение текущего момента относительно слота.
func StatusText(rec domain.DayRecord, todayKey string, now time.Time) string {
	if IsQuietHours(now) {
		countdown := CountdownToMorning(now)
		var parts []string
		if countdown.Hours > 0 {
			parts = append(parts, plural(countdown.Hours, "hour"))
		}
		if countdown.Minutes > 0 {
			parts = append(parts, plural(countdown.Minutes, "minute"))
		}
		if len(parts) == 0 {
			return "Goodnight. Come back soon."
		}
		return "Goodnight. Come back in " + strings.Join(parts, " and ") + "."
	}

	entry, ok := CurrentEntry(rec, todayKey, now)
	if !ok {
		return ""
	}
	start, end, err := slot.Range(todayKey, entry.StartHour, now.Location())
	if err != nil {
		return ""
	}
	switch {
	case now.Before(start):
		return comeBackIn(slot.MinutesUntil(start, now))
	case !now.Before(end):
		return "This hour has passed"
	default:
		return comeBackIn(slot.MinutesUntil(end, now))
	}
}
