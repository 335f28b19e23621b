package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Weekday is a template column. Monday is the leading column, so the numeric
// value is also the day offset inside a template week.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [...]string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// AllWeekdays in template column order.
var AllWeekdays = []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

var weekdayAliases = map[string]Weekday{
	"monday": Monday, "mon": Monday, "lunes": Monday, "lun": Monday,
	"tuesday": Tuesday, "tue": Tuesday, "tues": Tuesday, "martes": Tuesday, "mar": Tuesday,
	"wednesday": Wednesday, "wed": Wednesday, "miercoles": Wednesday, "mie": Wednesday,
	"thursday": Thursday, "thu": Thursday, "thurs": Thursday, "jueves": Thursday, "jue": Thursday,
	"friday": Friday, "fri": Friday, "viernes": Friday, "vie": Friday,
	"saturday": Saturday, "sat": Saturday, "sabado": Saturday, "sab": Saturday,
	"sunday": Sunday, "sun": Sunday, "domingo": Sunday, "dom": Sunday,
}

func (d Weekday) Valid() bool {
	return d >= Monday && d <= Sunday
}

// Offset is the zero-based distance from the template's Monday column.
func (d Weekday) Offset() int {
	return int(d)
}

func (d Weekday) String() string {
	if !d.Valid() {
		return "weekday(" + strconv.Itoa(int(d)) + ")"
	}
	return weekdayNames[d]
}

// WeekdayOf maps a calendar date onto the Monday-first enumeration.
func WeekdayOf(t time.Time) Weekday {
	return Weekday((int(t.Weekday()) + 6) % 7)
}

// ParseWeekday normalizes a free-form day key: English or Spanish names, any
// casing, with or without accents, abbreviations, or ISO numbers 1 (Mon) - 7 (Sun).
func ParseWeekday(s string) (Weekday, error) {
	key := foldKey(s)
	if key == "" {
		return 0, fmt.Errorf("empty weekday")
	}
	if d, ok := weekdayAliases[key]; ok {
		return d, nil
	}
	if n, err := strconv.Atoi(key); err == nil && n >= 1 && n <= 7 {
		return Weekday(n - 1), nil
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

func foldKey(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

func (d Weekday) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Weekday) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		w := Weekday(n)
		if !w.Valid() {
			return fmt.Errorf("weekday out of range: %d", n)
		}
		*d = w
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	w, err := ParseWeekday(s)
	if err != nil {
		return err
	}
	*d = w
	return nil
}
