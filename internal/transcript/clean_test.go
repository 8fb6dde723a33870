package transcript

import (
	"strings"
	"testing"
)

func TestCleanTextStripsANSIAndControls(t *testing.T) {
	in := "\x1b[31mhello\x1b[0m\x00 world  \n\n\n\nnextline"
	got := CleanText(in)
	want := "hello world\n\nnextline"
	if got != want {
		t.Errorf("CleanText() = %q, want %q", got, want)
	}
}

func TestCleanTextKeepsNewlinesAndTabs(t *testing.T) {
	got := CleanText("a\tb\nc")
	if got != "a\tb\nc" {
		t.Errorf("CleanText() = %q, want %q", got, "a\tb\nc")
	}
}

func TestGistCollapsesWhitespace(t *testing.T) {
	got := Gist("one\n  two\tthree")
	if got != "one two three" {
		t.Errorf("Gist() = %q, want %q", got, "one two three")
	}
}

func TestGistTailTruncates(t *testing.T) {
	in := strings.Repeat("x", 500) + "END"
	got := Gist(in)
	if len([]rune(got)) != MaxGistChars {
		t.Fatalf("Gist() length = %d, want %d", len([]rune(got)), MaxGistChars)
	}
	if !strings.HasPrefix(got, "...") {
		t.Errorf("Gist() missing leading ellipsis: %q", got[:10])
	}
	if !strings.HasSuffix(got, "END") {
		t.Errorf("Gist() should keep the tail, got suffix %q", got[len(got)-10:])
	}
}

func TestTruncateTail(t *testing.T) {
	if got := TruncateTail("short", 100); got != "short" {
		t.Errorf("TruncateTail() = %q, want unchanged", got)
	}
	long := strings.Repeat("a", 200)
	got := TruncateTail(long, 100)
	if len([]rune(got)) != 100 {
		t.Errorf("TruncateTail() length = %d, want 100", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("TruncateTail() should end with ellipsis, got %q", got[90:])
	}
}

func TestHTMLPreviewEscapes(t *testing.T) {
	got := HTMLPreview("a < b")
	want := `<div class="pi-last-assistant"><pre>a &lt; b</pre></div>`
	if got != want {
		t.Errorf("HTMLPreview() = %q, want %q", got, want)
	}
	if HTMLPreview("") != "" {
		t.Error("HTMLPreview(\"\") should be empty")
	}
}

func TestHTMLToText(t *testing.T) {
	in := `<div>first line<br/>second &amp; third</div><p>new para</p>`
	got := HTMLToText(in)
	want := "first line\nsecond & third\nnew para"
	if got != want {
		t.Errorf("HTMLToText() = %q, want %q", got, want)
	}
}

func TestMergeChunks(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   string
	}{
		{"dedupe", []string{"same", "same", "other"}, "same\nother"},
		{"cumulative streaming", []string{"Hello", "Hello world", "Hello world!"}, "Hello world!"},
		{"blank chunks dropped", []string{"", "  ", "kept"}, "kept"},
		{"distinct kept in order", []string{"first", "second"}, "first\nsecond"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MergeChunks(tt.chunks); got != tt.want {
				t.Errorf("MergeChunks() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStripNoiseLines(t *testing.T) {
	in := strings.Join([]string{
		"real content",
		"Bash ls -la",
		"screenshot saved to /var/folders/ab/tmp.png",
		"swift run PiStatusbar",
		"more content",
	}, "\n")
	got := StripNoiseLines(in)
	want := "real content\nmore content"
	if got != want {
		t.Errorf("StripNoiseLines() = %q, want %q", got, want)
	}
}

func TestLooksLikeToolTrace(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Edit internal/scan/scan.go", true},
		{`{"recipient_name": "bash", "parameters": {}}`, true},
		{"command exited with code 1", true},
		{"I updated the scanner to merge telemetry rows.", false},
		{"stdout: done", true},
	}
	for _, tt := range tests {
		if got := LooksLikeToolTrace(tt.text); got != tt.want {
			t.Errorf("LooksLikeToolTrace(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestLooksLikeThinkingOrStatus(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Thinking about the next step", true},
		{"working... 14s", true},
		{"gpt-5 think: high", true},
		{"Here is the final answer.", false},
	}
	for _, tt := range tests {
		if got := LooksLikeThinkingOrStatus(tt.text); got != tt.want {
			t.Errorf("LooksLikeThinkingOrStatus(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestPreviewFromDump(t *testing.T) {
	dump := strings.Join([]string{
		"$ pi",
		"────────────",
		"agent output line one",
		"agent output line two",
		"❯ ",
		"",
	}, "\n")
	got := PreviewFromDump(dump)
	want := "agent output line one\nagent output line two"
	if got != want {
		t.Errorf("PreviewFromDump() = %q, want %q", got, want)
	}
}

func TestPreviewFromDumpEmpty(t *testing.T) {
	if got := PreviewFromDump(""); got != "" {
		t.Errorf("PreviewFromDump(\"\") = %q, want empty", got)
	}
	if got := PreviewFromDump("$ \n% \n"); got != "" {
		t.Errorf("PreviewFromDump(prompts only) = %q, want empty", got)
	}
}
