package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatUSDSuffixes(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		want  string
	}{
		{"billions", 2_500_000_000, "$2.5B"},
		{"millions", 3_200_000, "$3.2M"},
		{"thousands", 1_500, "$1.5K"},
		{"plain", 420, "$420"},
		{"negative_millions", -1_000_000, "$-1.0M"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatUSD(tt.value))
		})
	}
}

func TestFormatDurationUnits(t *testing.T) {
	tests := []struct {
		name    string
		seconds int64
		want    string
	}{
		{"seconds", 45, "45s"},
		{"minutes", 125, "2m"},
		{"hours", 7200, "2h"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatDuration(tt.seconds))
		})
	}
}

func TestChunkMessageUnderLimitIsSingleChunk(t *testing.T) {
	chunks := chunkMessage("short message")
	assert.Equal(t, []string{"short message"}, chunks)
}

func TestChunkMessageOverLimitSplitsOnNewline(t *testing.T) {
	line := "BTCUSDT, ETHUSDT, SOLUSDT\n"
	var text string
	for len(text) < maxMessageChars+100 {
		text += line
	}

	chunks := chunkMessage(text)
	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks[:len(chunks)-1] {
		assert.LessOrEqual(t, len(c), maxMessageChars)
	}

	// Each boundary cut drops exactly the newline it split on; rejoining
	// with "\n" should reproduce the original text.
	rebuilt := chunks[0]
	for _, c := range chunks[1:] {
		rebuilt += "\n" + c
	}
	assert.Equal(t, text, rebuilt)
}

func TestFormatAlertMessageIncludesExpressionAndSymbols(t *testing.T) {
	msg := formatAlertMessage("price.above(100000) cooldown 60", []string{"BTCUSDT", "ETHUSDT"})
	assert.Contains(t, msg, "BTCUSDT, ETHUSDT")
	assert.Contains(t, msg, "price.above(100000) cooldown 60")
}
