package intent

import (
	"fmt"
	"time"
)

var weekdaysRU = [...]string{
	time.Sunday:    "воскресенье",
	time.Monday:    "понедельник",
	time.Tuesday:   "вторник",
	time.Wednesday: "среда",
	time.Thursday:  "четверг",
	time.Friday:    "пятница",
	time.Saturday:  "суббота",
}

// Genitive month names, as used after a day number.
var monthsRU = [...]string{
	time.January:   "января",
	time.February:  "февраля",
	time.March:     "марта",
	time.April:     "апреля",
	time.May:       "мая",
	time.June:      "июня",
	time.July:      "июля",
	time.August:    "августа",
	time.September: "сентября",
	time.October:   "октября",
	time.November:  "ноября",
	time.December:  "декабря",
}

// FormatLongDate renders t as a long Russian date: "суббота, 17 октября 2026 г.".
func FormatLongDate(t time.Time) string {
	return fmt.Sprintf("%s, %d %s %d г.", weekdaysRU[t.Weekday()], t.Day(), monthsRU[t.Month()], t.Year())
}
