// Package timecodec разбирает даты напоминаний в форматах, которые отдают разные транспорты.
package timecodec

import (
	"strings"
	"time"
)

// CanonicalLayout формат даты в исходящих запросах.
const CanonicalLayout = "2006-01-02T15:04:05.000Z07:00"

// preciseLayout для дат с точностью меньше миллисекунды, чтобы не терять ее при форматировании.
const preciseLayout = "2006-01-02T15:04:05.000000000Z07:00"

type encoding struct {
	layout string
	// зона не указана, время считается UTC
	local bool
}

// порядок важен: побеждает первый успешный разбор
var encodings = []encoding{
	{layout: "2006-01-02T15:04:05.999999999Z07:00"},
	{layout: time.RFC3339},
	{layout: "2006-01-02T15:04:05.999999999", local: true},
	{layout: "2006-01-02T15:04:05", local: true},
	{layout: time.DateOnly, local: true},
}

// Parse разбирает дату. ok=false, если ни один формат не подошел.
func Parse(text string) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}
	for _, enc := range encodings {
		var (
			t   time.Time
			err error
		)
		if enc.local {
			t, err = time.ParseInLocation(enc.layout, text, time.UTC)
		} else {
			t, err = time.Parse(enc.layout, text)
		}
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParsePtr то же, что Parse, но возвращает nil вместо ok=false.
func ParsePtr(text string) *time.Time {
	t, ok := Parse(text)
	if !ok {
		return nil
	}
	return &t
}

// Format форматирует дату в канонический вид (UTC, миллисекунды).
// Если в дате есть доли миллисекунды, они сохраняются.
func Format(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond()%int(time.Millisecond) != 0 {
		return t.Format(preciseLayout)
	}
	return t.Format(CanonicalLayout)
}
