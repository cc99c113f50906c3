package session

import (
	"bufio"
	"encoding/json"
	"io/fs"
	"math"
	"os"
	"path/filepath"
)

// charsPerToken is an empirical ratio for approximate token accounting.
const charsPerToken = 3.7

// Estimator computes approximate token counts from agent transcripts.
// Transcripts live under a projects root, one directory per project, each
// session stored as <sessionID>.jsonl.
type Estimator struct {
	projectsRoot string
}

// NewEstimator creates an estimator over the given projects root.
func NewEstimator(projectsRoot string) *Estimator {
	return &Estimator{projectsRoot: projectsRoot}
}

// Estimate returns the approximate token count of the transcript for a
// session id. It never fails: a missing transcript counts as 0 tokens, and
// individual malformed records are skipped. Safe against a concurrent writer
// appending to the file.
func (e *Estimator) Estimate(sessionID string) int {
	path := e.findTranscript(sessionID)
	if path == "" {
		return 0
	}

	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	total := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec transcriptRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Message != nil {
			total += textLength(rec.Message.Content)
		}
		total += textLength(rec.ToolUseResult)
	}

	return int(math.Round(float64(total) / charsPerToken))
}

// findTranscript searches the projects root for <sessionID>.jsonl.
func (e *Estimator) findTranscript(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	want := sessionID + ".jsonl"
	var found string
	filepath.WalkDir(e.projectsRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && d.Name() == want {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

// transcriptRecord matches just the fields we need from a transcript line.
type transcriptRecord struct {
	Message       *transcriptMessage `json:"message"`
	ToolUseResult json.RawMessage    `json:"toolUseResult"`
}

type transcriptMessage struct {
	Content json.RawMessage `json:"content"`
}

// contentBlock is one element of a structured content array. Blocks may carry
// a text field, a nested content field, or both.
type contentBlock struct {
	Text    string          `json:"text"`
	Content json.RawMessage `json:"content"`
}

// textLength best-effort extracts the total character length of message text
// from a content value that is either a plain string or a block sequence.
func textLength(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return len(s)
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return 0
	}
	total := 0
	for _, b := range blocks {
		total += len(b.Text)
		total += textLength(b.Content)
	}
	return total
}
