package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// FormatForCLI formats an error for terminal output. The full chain is
// printed; hint and code come from the first RegError in it, if any.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", err))

	var re *RegError
	if !errors.As(err, &re) {
		return sb.String()
	}
	if re.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", re.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", re.Code))
	return sb.String()
}

// jsonError is the JSON representation of an error, used by the HTTP API.
type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	re, ok := err.(*RegError)
	if !ok {
		re = Wrap(ErrCodeInternal, err)
	}

	return json.Marshal(jsonError{
		Code:       re.Code,
		Message:    re.Message,
		Category:   string(re.Category),
		Details:    re.Details,
		Suggestion: re.Suggestion,
		Retryable:  re.Retryable,
	})
}

// LogAttrs flattens an error into slog key-value pairs.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}
	var re *RegError
	if !errors.As(err, &re) {
		return []any{"error", err.Error()}
	}
	attrs := []any{"error", re.Message, "error_code", re.Code, "category", string(re.Category)}
	for k, v := range re.Details {
		attrs = append(attrs, "detail_"+k, v)
	}
	return attrs
}
