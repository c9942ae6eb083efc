package slot

import (
	"fmt"
	"math"
	"time"

	"stoptrolling/internal/domain"
)

const (
	// BaseHour — первый час канонической сетки (08:00).
	BaseHour = 8
	// Count — количество слотов в дне (08:00 → 24:00).
	Count = 16
)

const dateLayout = "2006-01-02"

// DateKey форматирует дату в ключ YYYY-MM-DD по локальному времени t.
func DateKey(t time.Time) string {
	return t.Format(dateLayout)
}

// IsDateKey проверяет, что строка — корректная календарная дата YYYY-MM-DD.
func IsDateKey(date string) bool {
	if len(date) != len(dateLayout) {
		return false
	}
	_, err := time.Parse(dateLayout, date)
	return err == nil
}

// ParseDateKey разбирает ключ даты.
func ParseDateKey(date string) (time.Time, error) {
	return time.Parse(dateLayout, date)
}

// DefaultHours строит каноническую сетку из 16 пустых слотов.
func DefaultHours() []domain.HourSlot {
	hours := make([]domain.HourSlot, Count)
	for i := range hours {
		hours[i] = domain.HourSlot{StartHour: (BaseHour + i) % 24}
	}
	return hours
}

// EndHourOf возвращает час конца слота; последний слот закрывается в 24.
func EndHourOf(startHour int) int {
	if startHour == 23 {
		return 24
	}
	return startHour + 1
}

// Range возвращает границы слота на указанную дату в заданном поясе.
func Range(date string, startHour int, loc *time.Location) (time.Time, time.Time, error) {
	day, err := ParseDateKey(date)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if loc == nil {
		loc = time.Local
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), startHour, 0, 0, 0, loc)
	end := time.Date(day.Year(), day.Month(), day.Day(), EndHourOf(startHour), 0, 0, 0, loc)
	return start, end, nil
}

// MinutesUntil считает минуты (>= 0) до указанного момента, с округлением вверх.
func MinutesUntil(target, now time.Time) int {
	minutes := int(math.Ceil(target.Sub(now).Minutes()))
	if minutes < 0 {
		return 0
	}
	return minutes
}

// FormatHour переводит 24-часовой час в 12-часовой с меридианом.
func FormatHour(h int) (int, string) {
	hour12 := (h+11)%12 + 1
	meridiem := "AM"
	if h >= 12 {
		meridiem = "PM"
	}
	return hour12, meridiem
}

// RangeLabel строит метку слота вида `8–9AM` или `11AM–12PM`.
func RangeLabel(startHour int) string {
	end := EndHourOf(startHour) % 24
	sH, sM := FormatHour(startHour)
	eH, eM := FormatHour(end)
	if sM == eM {
		return fmt.Sprintf("%d–%d%s", sH, eH, eM)
	}
	return fmt.Sprintf("%d%s–%d%s", sH, sM, eH, eM)
}
