package agent

import (
	"regexp"
	"strings"
)

// RateLimitDetector scans agent output for rate-limit signatures. Detection
// is heuristic and pattern based, so the patterns are pluggable rather than
// hard-coded in the executor's control flow.
type RateLimitDetector struct {
	patterns []namedPattern
}

type namedPattern struct {
	name string
	re   *regexp.Regexp
}

// Built-in rate-limit signatures, matched case-insensitively.
var builtinRateLimit = map[string]string{
	"usage_limit":   `usage limit reached`,
	"rate_limit":    `rate limit(ed)?`,
	"overloaded":    `overloaded_error`,
	"quota":         `quota exceeded`,
	"too_many_reqs": `too many requests`,
}

// NewRateLimitDetector creates a detector with the built-in signatures plus
// any extra patterns.
func NewRateLimitDetector(extra ...string) *RateLimitDetector {
	d := &RateLimitDetector{}
	for name, pattern := range builtinRateLimit {
		re, err := regexp.Compile(`(?i)` + pattern)
		if err != nil {
			continue
		}
		d.patterns = append(d.patterns, namedPattern{name: name, re: re})
	}
	for _, pattern := range extra {
		re, err := regexp.Compile(`(?i)` + pattern)
		if err != nil {
			continue
		}
		d.patterns = append(d.patterns, namedPattern{name: "custom", re: re})
	}
	return d
}

// Detect scans both output streams and returns the line containing the first
// match, so callers can surface the rate-limit message itself.
func (d *RateLimitDetector) Detect(stdout, stderr string) (string, bool) {
	for _, stream := range []string{stdout, stderr} {
		for _, np := range d.patterns {
			loc := np.re.FindStringIndex(stream)
			if loc == nil {
				continue
			}
			return surroundingLine(stream, loc[0]), true
		}
	}
	return "", false
}

func surroundingLine(s string, pos int) string {
	start := strings.LastIndexByte(s[:pos], '\n') + 1
	end := strings.IndexByte(s[pos:], '\n')
	if end < 0 {
		end = len(s)
	} else {
		end += pos
	}
	return strings.TrimSpace(s[start:end])
}
