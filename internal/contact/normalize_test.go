package contact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "a@example.com", NormalizeEmail("  A@Example.COM "))
	assert.Equal(t, "", NormalizeEmail("   "))
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"(555) 123-4567", "15551234567"},
		{"+1 555 123 4567", "15551234567"},
		{"15551234567", "15551234567"},
		{"+44 20 7946 0958", "442079460958"},
		{"123-4567", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePhone(tt.in))
		})
	}
	assert.Equal(t, "5551234567", phoneKey("15551234567"))
	assert.Equal(t, "", phoneKey(""))
}

func TestFoldName(t *testing.T) {
	assert.Equal(t, "jose garcia", FoldName("  José   García "))
	assert.Equal(t, "zoe lindqvist", FoldName("Zoë Lindqvist"))
	assert.Equal(t, "", FoldName(""))
}

func TestSplitName(t *testing.T) {
	first, last := SplitName("Mary Ann van Dyke")
	assert.Equal(t, "Mary", first)
	assert.Equal(t, "Ann van Dyke", last)

	first, last = SplitName("Cher")
	assert.Equal(t, "Cher", first)
	assert.Empty(t, last)

	first, last = SplitName("  ")
	assert.Empty(t, first)
	assert.Empty(t, last)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\% pure\_name`, escapeLike("100% pure_name"))
}
