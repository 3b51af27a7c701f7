package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTime(t *testing.T) {
	want := time.Date(2025, 11, 12, 15, 0, 0, 0, time.UTC)
	cases := map[string]time.Time{
		"2025-11-12T15:00:00Z":      want,
		"2025-11-12T10:00:00-05:00": want,
		"2025-11-12 15:00:00":       want,
		"2025-11-12":                time.Date(2025, 11, 12, 0, 0, 0, 0, time.UTC),
		"11/12/2025 15:00":          want,
		"1762959600":                want,
		"1762959600000":             want,
		"":                          {},
		"next tuesday":              {},
	}
	for in, exp := range cases {
		assert.True(t, exp.Equal(parseTime(in)), in)
	}
}

func TestObjectAccessors(t *testing.T) {
	o := object{
		"name":   "  Jo  ",
		"count":  float64(3),
		"amount": "12.5",
		"flag":   true,
		"nested": map[string]any{"a": "x", "b": float64(2), "c": ""},
	}
	assert.Equal(t, "Jo", o.str("missing", "name"))
	assert.Equal(t, "3", o.str("count"))
	assert.Equal(t, "true", o.str("flag"))
	assert.Equal(t, 12.5, o.num("amount"))
	assert.Equal(t, 3.0, o.num("count"))
	assert.Equal(t, map[string]string{"a": "x", "b": "2"}, o.strMap("nested"))
	assert.Empty(t, o.obj("missing"))
}
