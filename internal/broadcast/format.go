// Package broadcast fans composite-alert notifications out to
// subscribed users and streams the density map to external consumers.
package broadcast

import (
	"fmt"
	"strings"
)

// formatUSD renders value with K/M/B suffixes.
func formatUSD(value float64) string {
	abs := value
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 1_000_000_000:
		return fmt.Sprintf("$%.1fB", value/1_000_000_000)
	case abs >= 1_000_000:
		return fmt.Sprintf("$%.1fM", value/1_000_000)
	case abs >= 1_000:
		return fmt.Sprintf("$%.1fK", value/1_000)
	default:
		return fmt.Sprintf("$%.0f", value)
	}
}

// formatDuration renders seconds as Nh/Nm/Ns.
func formatDuration(seconds int64) string {
	switch {
	case seconds >= 3600:
		return fmt.Sprintf("%dh", seconds/3600)
	case seconds >= 60:
		return fmt.Sprintf("%dm", seconds/60)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// maxMessageChars is the assumed downstream platform size limit (chat
// messaging platforms commonly cap around 4096 characters); messages
// longer than this are chunked by chunkMessage.
const maxMessageChars = 4000

// formatAlertMessage renders the single notification text covering
// every survivor for one composite tick, mentioning all matched
// symbols and the original expression.
func formatAlertMessage(expression string, symbols []string) string {
	return fmt.Sprintf("[ALERT] %s\nCondition: %s", strings.Join(symbols, ", "), expression)
}

// chunkMessage splits text into pieces no longer than maxMessageChars,
// breaking on the last newline within the limit and dropping that
// newline. Where the limit holds no newline (a long single-line symbol
// list), the cut falls at exactly maxMessageChars and can split a
// symbol.
func chunkMessage(text string) []string {
	if len(text) <= maxMessageChars {
		return []string{text}
	}

	var chunks []string
	for len(text) > maxMessageChars {
		cut := strings.LastIndexByte(text[:maxMessageChars], '\n')
		if cut <= 0 {
			cut = maxMessageChars
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
		text = strings.TrimPrefix(text, "\n")
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}
