package tui

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 24))
	assert.Equal(t, "exact", truncate("exact", 5))
	assert.Equal(t, "abc", truncate("abcdef", 3))

	// multibyte titles truncate on rune boundaries
	assert.Equal(t, "日本語", truncate("日本語のタイトル", 3))
	got := truncate("Ärztliche Überweisung für Patienten", 24)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 24, utf8.RuneCountInString(got))
}
