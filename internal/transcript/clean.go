package transcript

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/charmbracelet/x/ansi"
)

// Caps applied to extracted message text, in runes.
const (
	// MaxFullChars caps latest_message_full.
	MaxFullChars = 12000
	// MaxFallbackChars caps thinking/status fallback text.
	MaxFallbackChars = 8000
	// MaxGistChars caps the single-line latest_message projection.
	MaxGistChars = 420
)

var (
	blankRunsRe  = regexp.MustCompile(`\n{3,}`)
	ruleLineRe   = regexp.MustCompile(`^[-─═_\s>]+$`)
	htmlBreakRe  = regexp.MustCompile(`(?i)<br\s*/?>`)
	htmlBlockRe  = regexp.MustCompile(`(?i)</(p|div|li|h[1-6]|tr)>`)
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
)

// CleanText strips ANSI escapes and non-printable characters from message
// text, right-trims lines, and collapses runs of blank lines. Newlines and
// tabs survive; private-use glyphs and other control characters do not.
func CleanText(text string) string {
	if text == "" {
		return ""
	}

	out := ansi.Strip(text)

	var b strings.Builder
	b.Grow(len(out))
	for _, ch := range out {
		if unicode.Is(unicode.Co, ch) {
			continue
		}
		if unicode.Is(unicode.Cc, ch) && ch != '\n' && ch != '\t' {
			continue
		}
		b.WriteRune(ch)
	}

	lines := strings.Split(b.String(), "\n")
	for i, ln := range lines {
		lines[i] = strings.TrimRight(ln, " \t")
	}
	joined := strings.TrimSpace(strings.Join(lines, "\n"))
	return blankRunsRe.ReplaceAllString(joined, "\n\n")
}

// Gist projects multi-line message text onto a single line: whitespace
// collapsed, tail-truncated to MaxGistChars with a leading ellipsis.
func Gist(text string) string {
	if text == "" {
		return ""
	}
	compact := strings.Join(strings.Fields(text), " ")
	runes := []rune(compact)
	if len(runes) <= MaxGistChars {
		return compact
	}
	return "..." + string(runes[len(runes)-(MaxGistChars-3):])
}

// HTMLPreview wraps message text in the minimal HTML rendering used by
// statusbar clients.
func HTMLPreview(text string) string {
	if text == "" {
		return ""
	}
	return `<div class="pi-last-assistant"><pre>` + html.EscapeString(text) + `</pre></div>`
}

// HTMLToText converts telemetry-provided HTML previews back to plain text:
// break and block-closing tags become newlines, remaining tags are
// stripped, and entities are unescaped.
func HTMLToText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	text := htmlBreakRe.ReplaceAllString(raw, "\n")
	text = htmlBlockRe.ReplaceAllString(text, "\n")
	text = htmlTagRe.ReplaceAllString(text, "")
	return CleanText(html.UnescapeString(text))
}

// TruncateTail caps text at max runes, replacing the overflow with "...".
func TruncateTail(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max-3]) + "..."
}

// MergeChunks merges streaming assistant chunks in arrival order: exact
// duplicates are skipped, and a newer chunk that extends the previous one
// (cumulative streaming) replaces it.
func MergeChunks(chunks []string) string {
	var merged []string
	for _, chunk := range chunks {
		c := strings.TrimSpace(chunk)
		if c == "" {
			continue
		}
		if len(merged) > 0 && merged[len(merged)-1] == c {
			continue
		}
		if len(merged) > 0 && len(c) > len(merged[len(merged)-1]) && strings.HasPrefix(c, merged[len(merged)-1]) {
			merged[len(merged)-1] = c
			continue
		}
		merged = append(merged, c)
	}
	return StripNoiseLines(strings.TrimSpace(strings.Join(merged, "\n")))
}

// StripNoiseLines removes tool-invocation echoes and statusbar chatter
// from extracted text. Empirical; pinned by tests with real transcript
// samples.
func StripNoiseLines(text string) string {
	var lines []string
	for _, ln := range strings.Split(text, "\n") {
		low := strings.ToLower(strings.TrimSpace(ln))
		if low == "" {
			lines = append(lines, ln)
			continue
		}
		if strings.Contains(low, "/var/folders/") && strings.Contains(low, "screenshot") {
			continue
		}
		if strings.Contains(low, "daemon/pi-statusbar") || strings.Contains(low, "swift run pistatusbar") {
			continue
		}
		if hasAnyPrefix(low, "edit ", "write ", "read ", "bash ", "rg ", "find ", "python3 ") {
			continue
		}
		if strings.Contains(low, "processes:") && strings.Contains(low, "pi-statusbar-app") {
			continue
		}
		if strings.Contains(low, "visual latest") {
			continue
		}
		lines = append(lines, ln)
	}
	out := strings.TrimSpace(strings.Join(lines, "\n"))
	return blankRunsRe.ReplaceAllString(out, "\n\n")
}

// LooksLikeToolTrace reports whether extracted text is a tool-invocation
// echo rather than prose meant for the user.
func LooksLikeToolTrace(text string) bool {
	low := strings.ToLower(strings.TrimSpace(text))
	markers := []string{
		"edit ", "write ", "read ", "bash ", "rg ", "find ", "python3 ",
		"daemon/pi-statusbar", "swift build", "processes:", "stderr:", "stdout:",
		"recipient_name", "tool_uses", "json.tool", "command exited with code",
	}
	for _, m := range markers {
		if strings.Contains(low, m) {
			return true
		}
	}
	if hasAnyPrefix(low, "{", "[") && (strings.Contains(low, "recipient_name") || strings.Contains(low, "parameters")) {
		return true
	}
	return false
}

// LooksLikeThinkingOrStatus reports whether text is reasoning/status
// chatter; such lines are only used as a fallback when no real assistant
// prose is found.
func LooksLikeThinkingOrStatus(text string) bool {
	low := strings.ToLower(text)
	if strings.Contains(low, "thinking") || strings.Contains(low, "reasoning") {
		return true
	}
	if strings.Contains(low, "working...") || strings.Contains(low, "visual latest") {
		return true
	}
	if strings.Contains(low, "processes:") && strings.Contains(low, "pi-statusbar-app") {
		return true
	}
	if strings.Contains(low, "gpt-5") && strings.Contains(low, "think:") {
		return true
	}
	return false
}

// PreviewFromDump extracts a readable tail from a terminal screen dump:
// shell prompts, divider rules, and statusd noise are dropped, the last
// 220 surviving lines kept, and the result capped like any other message.
func PreviewFromDump(content string) string {
	if content == "" {
		return ""
	}

	var lines []string
	for _, raw := range strings.Split(content, "\n") {
		if ln := CleanText(raw); ln != "" {
			lines = append(lines, ln)
		}
	}
	if len(lines) == 0 {
		return ""
	}

	var selected []string
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		low := strings.ToLower(line)
		if hasAnyPrefix(low, "$", "%", "❯", "➜", "~", "pi>") {
			continue
		}
		if ruleLineRe.MatchString(line) {
			continue
		}
		if strings.Contains(low, "statusd") && strings.Contains(low, "blocked") {
			continue
		}
		selected = append(selected, line)
		if len(selected) >= 220 {
			break
		}
	}
	if len(selected) == 0 {
		return ""
	}

	for i, j := 0, len(selected)-1; i < j; i, j = i+1, j-1 {
		selected[i], selected[j] = selected[j], selected[i]
	}
	return TruncateTail(strings.TrimSpace(strings.Join(selected, "\n")), MaxFullChars)
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
