package parsers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	errx "github.com/pro-search-agent/server/internal/core/error"
	logx "github.com/pro-search-agent/server/pkg/logger"
)

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 128 * 1024 // 128KB
	maxErrSnippet = 200        // limit error snippet size
)

// ParseStructured decodes the JSON object a model was asked to return into T.
// It tolerates markdown code fences and prose around the object.
func ParseStructured[T any](content string) (out *T, err error) {
	// panic safety
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "json_parser").Msgf("panic recovered: %v", r)
			err = errx.New(fmt.Errorf("json parser panic"), http.StatusInternalServerError, errx.SystemErrorMessage)
			out = nil
		}
	}()

	if len(content) > maxContentLen {
		logx.Warn().
			Str("component", "json_parser").
			Int("max_len", maxContentLen).
			Int("orig_len", len(content)).
			Msg("content exceeds size limit")
		return nil, fmt.Errorf("structured output too large: %d bytes", len(content))
	}
	if !utf8.ValidString(content) {
		return nil, fmt.Errorf("structured output invalid utf8")
	}

	raw, ok := extractObject(content)
	if !ok {
		return nil, fmt.Errorf("no json object in model output: %q", safeSnippet(content))
	}

	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decode structured output: %w (snippet %q)", err, safeSnippet(raw))
	}
	return &v, nil
}

// extractObject strips code fences and returns the outermost {...} span.
func extractObject(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			// drop the language tag line, e.g. ```json
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// --- helpers ---

func safeSnippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrSnippet {
		return s
	}
	return s[:maxErrSnippet]
}
