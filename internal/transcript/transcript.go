// Package transcript extracts the latest assistant message from pi session
// files (JSONL transcripts) and cleans agent text for display.
package transcript

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// tailBytes bounds how much of a session file is scanned; messages older
// than the trailing window are not worth showing anyway.
const tailBytes = 512 * 1024

const cacheSize = 256

type cachedMessage struct {
	mtimeNS int64
	size    int64
	text    string
	ts      int64
}

// Parser reads session files with a (path, mtime, size) keyed cache so
// repeated scans of an idle fleet cost one stat per agent.
type Parser struct {
	cache *lru.Cache[string, cachedMessage]
}

// NewParser returns a Parser with a bounded message cache.
func NewParser() *Parser {
	cache, _ := lru.New[string, cachedMessage](cacheSize) // only errs on size <= 0
	return &Parser{cache: cache}
}

// LatestAssistantMessage returns the newest assistant prose in the session
// file and its timestamp in millisecond epoch (0 when unknown). Scans the
// trailing tailBytes backward, collecting contiguous assistant chunks until
// a user turn; tool traces are skipped, and thinking/status lines are kept
// only as a fallback when no real prose is found. Missing or unreadable
// files yield ("", 0).
func (p *Parser) LatestAssistantMessage(path string) (string, int64) {
	if strings.TrimSpace(path) == "" {
		return "", 0
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", 0
	}

	key := path
	if c, ok := p.cache.Get(key); ok && c.mtimeNS == info.ModTime().UnixNano() && c.size == info.Size() {
		return c.text, c.ts
	}

	chunk, err := readTail(path, tailBytes)
	if err != nil {
		return "", 0
	}

	text, ts := scanTail(chunk)
	p.cache.Add(key, cachedMessage{
		mtimeNS: info.ModTime().UnixNano(),
		size:    info.Size(),
		text:    text,
		ts:      ts,
	})
	return text, ts
}

// scanTail walks transcript lines newest-first. Once assistant prose has
// been seen, an earlier user turn ends the walk; unparseable lines after
// that point end it too (a truncated leading line is expected in a tail
// read).
func scanTail(chunk string) (string, int64) {
	lines := strings.Split(chunk, "\n")

	var chunks []string
	var latestTS int64
	started := false
	fallbackText := ""
	var fallbackTS int64

	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}

		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			if started {
				break
			}
			continue
		}

		if !IsAssistantMessage(obj) {
			if started && IsUserMessage(obj) {
				break
			}
			continue
		}

		text := CleanText(ExtractText(obj))
		if text == "" {
			continue
		}

		if ts := ExtractTimestampMS(obj); latestTS == 0 && ts != 0 {
			latestTS = ts
		}

		if LooksLikeToolTrace(text) {
			continue
		}
		if LooksLikeThinkingOrStatus(text) {
			if fallbackText == "" {
				fallbackText = text
				fallbackTS = ExtractTimestampMS(obj)
			}
			continue
		}

		started = true
		chunks = append(chunks, text)
	}

	if len(chunks) > 0 {
		for i, j := 0, len(chunks)-1; i < j; i, j = i+1, j-1 {
			chunks[i], chunks[j] = chunks[j], chunks[i]
		}
		return TruncateTail(MergeChunks(chunks), MaxFullChars), latestTS
	}

	if fallbackText != "" {
		return TruncateTail(StripNoiseLines(fallbackText), MaxFallbackChars), fallbackTS
	}

	return "", 0
}

func readTail(path string, max int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return "", err
	}
	off := size - max
	if off < 0 {
		off = 0
	}
	if _, err := f.Seek(off, io.SeekStart); err != nil {
		return "", err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
