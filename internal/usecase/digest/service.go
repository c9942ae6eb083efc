package digest

import (
	"fmt"
	"math"

	"stoptrolling/internal/domain"
	"stoptrolling/internal/slot"
)

// Digest — дневной итог: точки по канонической сетке, счёт и текст поста.
type Digest struct {
	Date  string
	Good  int
	Bad   int
	Score int
	Line  string
	Text  string
}

// Build строит итог дня из часовых слотов. Сетка всегда каноническая:
// 16 точек, неоценённые часы остаются белыми.
func Build(date string, hours []domain.HourSlot) Digest {
	byHour := make(map[int]*bool, len(hours))
	for _, h := range hours {
		byHour[h.StartHour] = h.Aligned
	}

	dots := make([]*bool, slot.Count)
	for i := range dots {
		dots[i] = byHour[(slot.BaseHour+i)%24]
	}

	var good, bad int
	line := ""
	for _, d := range dots {
		switch {
		case d == nil:
			line += "⚪"
		case *d:
			good++
			line += "🟢"
		default:
			bad++
			line += "🔴"
		}
	}

	raw := (float64(good+bad)/float64(slot.Count))*100 + float64(good) - float64(bad)
	score := int(math.Round(raw))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return Digest{
		Date:  date,
		Good:  good,
		Bad:   bad,
		Score: score,
		Line:  line,
		Text:  fmt.Sprintf("%s | Score: %d | stoptrolling[dot]app\n%s", date, score, line),
	}
}
