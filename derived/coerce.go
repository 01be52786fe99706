package derived

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Kind tags a coerced Value.
type Kind int

const (
	KindNull Kind = iota
	KindNumber
	KindDate
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	case KindText:
		return "text"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a raw form value or stored comparison string resolved to one of
// null, number, date instant or text. Text always holds the string form of
// the original value, untrimmed, for every kind but null.
type Value struct {
	Kind   Kind
	Number float64
	Time   time.Time
	Text   string
}

// Coerce resolves raw without a schema. Order matters: a trimmed, non-empty
// finite number wins, then a string containing '-' that parses as a date,
// then plain text. Coerce never panics.
func Coerce(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return Value{Kind: KindNull}
	case time.Time:
		return Value{Kind: KindDate, Time: v, Text: stringOf(v)}
	case string:
		return coerceText(v)
	}

	if f, err := cast.ToFloat64E(raw); err == nil && isFinite(f) {
		return Value{Kind: KindNumber, Number: f, Text: stringOf(raw)}
	}
	return coerceText(stringOf(raw))
}

func coerceText(s string) Value {
	if f, ok := parseNumber(s); ok {
		return Value{Kind: KindNumber, Number: f, Text: s}
	}
	if t, ok := parseDate(s); ok {
		return Value{Kind: KindDate, Time: t, Text: s}
	}
	return Value{Kind: KindText, Text: s}
}

// parseNumber accepts a trimmed, non-empty string holding a finite decimal
// number. Digit separators and hex floats are Go syntax only and stay text.
func parseNumber(s string) (float64, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || strings.ContainsAny(trimmed, "_xXpP") {
		return 0, false
	}
	f, err := cast.ToFloat64E(trimmed)
	if err != nil || !isFinite(f) {
		return 0, false
	}
	return f, true
}

// parseDate only considers strings containing '-', so a bare year stays numeric.
func parseDate(s string) (time.Time, bool) {
	if !strings.Contains(s, "-") {
		return time.Time{}, false
	}
	t, err := cast.StringToDate(strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func stringOf(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return v.Format(time.RFC3339Nano)
	}
	if s, err := cast.ToStringE(raw); err == nil {
		return s
	}
	return fmt.Sprint(raw)
}

// ordinal forces v to a number for ordering: dates become Unix milliseconds,
// blank text becomes 0, other text and null become NaN.
func (v Value) ordinal() float64 {
	switch v.Kind {
	case KindNumber:
		return v.Number
	case KindDate:
		return float64(v.Time.UnixMilli())
	case KindText:
		if v.blank() {
			return 0
		}
		return math.NaN()
	default:
		return math.NaN()
	}
}

// blank reports text that is empty or whitespace only.
func (v Value) blank() bool {
	return v.Kind == KindText && strings.TrimSpace(v.Text) == ""
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
