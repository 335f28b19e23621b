package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseWeekday(t *testing.T) {
	cases := map[string]Weekday{
		"monday":     Monday,
		"Lunes":      Monday,
		" LUNES ":    Monday,
		"Miércoles":  Wednesday,
		"miercoles":  Wednesday,
		"MIÉRCOLES":  Wednesday,
		"sábado":     Saturday,
		"Sabado":     Saturday,
		"domingo":    Sunday,
		"thu":        Thursday,
		"1":          Monday,
		"7":          Sunday,
		"Viernes":    Friday,
		"martes":     Tuesday,
		"jueves":     Thursday,
		"SUNDAY":     Sunday,
		"Wednesday":  Wednesday,
		"sáb":        Saturday,
	}
	for in, want := range cases {
		got, err := ParseWeekday(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
}

func TestParseWeekday_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "funday", "0", "8", "[]"} {
		_, err := ParseWeekday(in)
		require.Error(t, err, in)
	}
}

func TestWeekdayOf(t *testing.T) {
	// 2024-01-01 was a Monday.
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, want := range AllWeekdays {
		require.Equal(t, want, WeekdayOf(base.AddDate(0, 0, i)))
	}
}

func TestWeekday_JSON(t *testing.T) {
	b, err := json.Marshal(Wednesday)
	require.NoError(t, err)
	require.Equal(t, `"wednesday"`, string(b))

	var d Weekday
	require.NoError(t, json.Unmarshal([]byte(`"Miércoles"`), &d))
	require.Equal(t, Wednesday, d)
	require.NoError(t, json.Unmarshal([]byte(`4`), &d))
	require.Equal(t, Friday, d)
	require.Error(t, json.Unmarshal([]byte(`9`), &d))
}
