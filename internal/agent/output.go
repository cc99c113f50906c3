package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// structuredOutput is the machine-parseable result requested from the agent
// on new-session invocations.
type structuredOutput struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Result    string `json:"result"`
	IsError   bool   `json:"is_error"`
}

// parseStructured extracts the newly issued session id and textual result
// from a new-session invocation's stdout.
func parseStructured(stdout string) (sessionID, result string, err error) {
	trimmed := strings.TrimSpace(stdout)
	// The agent may emit diagnostics before the JSON object.
	if idx := strings.Index(trimmed, "{"); idx > 0 {
		trimmed = trimmed[idx:]
	}

	var out structuredOutput
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return "", "", fmt.Errorf("parse structured output: %w", err)
	}
	if out.SessionID == "" {
		return "", "", fmt.Errorf("structured output missing session_id")
	}
	return out.SessionID, out.Result, nil
}
