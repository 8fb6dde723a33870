package transcript

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSession(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	data := ""
	for _, ln := range lines {
		data += ln + "\n"
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLatestAssistantMessage(t *testing.T) {
	path := writeSession(t,
		`{"type":"message","message":{"role":"user","content":[{"type":"text","text":"do the thing"}]}}`,
		`{"type":"message","message":{"role":"assistant","content":[{"type":"text","text":"Done. The scanner now merges rows."}],"timestamp":1724500000000}}`,
	)

	p := NewParser()
	text, ts := p.LatestAssistantMessage(path)
	if text != "Done. The scanner now merges rows." {
		t.Errorf("text = %q", text)
	}
	if ts != 1724500000000 {
		t.Errorf("ts = %d, want 1724500000000", ts)
	}
}

func TestLatestAssistantMessageStopsAtUserTurn(t *testing.T) {
	path := writeSession(t,
		`{"message":{"role":"assistant","content":[{"type":"text","text":"older answer"}]},"type":"message"}`,
		`{"message":{"role":"user","content":[{"type":"text","text":"next question"}]},"type":"message"}`,
		`{"message":{"role":"assistant","content":[{"type":"text","text":"newest answer"}]},"type":"message"}`,
	)

	text, _ := NewParser().LatestAssistantMessage(path)
	if text != "newest answer" {
		t.Errorf("text = %q, want %q", text, "newest answer")
	}
}

func TestLatestAssistantMessageMergesStreamingChunks(t *testing.T) {
	path := writeSession(t,
		`{"message":{"role":"user","content":[{"type":"text","text":"go"}]},"type":"message"}`,
		`{"message":{"role":"assistant","content":[{"type":"text","text":"Partial"}]},"type":"message"}`,
		`{"message":{"role":"assistant","content":[{"type":"text","text":"Partial answer, complete."}]},"type":"message"}`,
	)

	text, _ := NewParser().LatestAssistantMessage(path)
	if text != "Partial answer, complete." {
		t.Errorf("text = %q, want cumulative chunk", text)
	}
}

func TestLatestAssistantMessageThinkingFallback(t *testing.T) {
	path := writeSession(t,
		`{"message":{"role":"assistant","content":[{"type":"text","text":"Thinking about the fix"}]},"type":"message"}`,
	)

	text, _ := NewParser().LatestAssistantMessage(path)
	if text != "Thinking about the fix" {
		t.Errorf("fallback text = %q", text)
	}
}

func TestLatestAssistantMessageSkipsToolBlocks(t *testing.T) {
	path := writeSession(t,
		`{"message":{"role":"user","content":[{"type":"text","text":"run it"}]},"type":"message"}`,
		`{"message":{"role":"assistant","content":[{"type":"tool_call","text":"bash ls"},{"type":"text","text":"Running the tests now."}]},"type":"message"}`,
	)

	text, _ := NewParser().LatestAssistantMessage(path)
	if text != "Running the tests now." {
		t.Errorf("text = %q", text)
	}
}

func TestLatestAssistantMessageMissingFile(t *testing.T) {
	text, ts := NewParser().LatestAssistantMessage(filepath.Join(t.TempDir(), "nope.jsonl"))
	if text != "" || ts != 0 {
		t.Errorf("got (%q, %d), want empty", text, ts)
	}
	if text, ts := NewParser().LatestAssistantMessage(""); text != "" || ts != 0 {
		t.Errorf("empty path: got (%q, %d)", text, ts)
	}
}

func TestLatestAssistantMessageCacheInvalidation(t *testing.T) {
	path := writeSession(t,
		`{"message":{"role":"assistant","content":[{"type":"text","text":"first"}]},"type":"message"}`,
	)
	p := NewParser()
	if text, _ := p.LatestAssistantMessage(path); text != "first" {
		t.Fatalf("text = %q", text)
	}

	// Rewrite with different size so the (mtime, size) key changes even on
	// coarse-grained filesystems.
	line := `{"message":{"role":"assistant","content":[{"type":"text","text":"second message"}]},"type":"message"}` + "\n"
	if err := os.WriteFile(path, []byte(line), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	if text, _ := p.LatestAssistantMessage(path); text != "second message" {
		t.Errorf("after rewrite text = %q, want %q", text, "second message")
	}
}

func TestExtractTimestampMS(t *testing.T) {
	tests := []struct {
		name string
		obj  map[string]any
		want int64
	}{
		{"millis", map[string]any{"timestamp": float64(1724500000123)}, 1724500000123},
		{"seconds scaled", map[string]any{"ts": float64(1724500000)}, 1724500000000},
		{"too small rejected", map[string]any{"ts": float64(42)}, 0},
		{"rfc3339", map[string]any{"createdAt": "2024-08-24T12:00:00Z"}, time.Date(2024, 8, 24, 12, 0, 0, 0, time.UTC).UnixMilli()},
		{"nested payload", map[string]any{"type": "message", "message": map[string]any{"role": "assistant", "updatedAt": float64(1724500000500)}}, 1724500000500},
		{"nested data", map[string]any{"data": map[string]any{"lastAssistantUpdatedAt": float64(1724500001000)}}, 1724500001000},
		{"none", map[string]any{"role": "assistant"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractTimestampMS(tt.obj); got != tt.want {
				t.Errorf("ExtractTimestampMS() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestExtractTextNestedShapes(t *testing.T) {
	obj := map[string]any{
		"type": "message",
		"message": map[string]any{
			"role": "assistant",
			"content": []any{
				map[string]any{"type": "thinking", "text": "hidden"},
				map[string]any{"type": "text", "text": "visible"},
				map[string]any{"type": "output_text", "text": "also visible"},
			},
		},
	}
	got := ExtractText(obj)
	want := "visible\nalso visible"
	if got != want {
		t.Errorf("ExtractText() = %q, want %q", got, want)
	}
}
