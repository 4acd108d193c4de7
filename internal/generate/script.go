package generate

import (
	"fmt"
	"regexp"
	"strings"
)

// Host speaker names as they appear in combined podcast scripts.
const (
	HostA = "Host A"
	HostB = "Host B"
)

// scriptLineRe matches one dialogue line, e.g. "[Host A]: Welcome back."
var scriptLineRe = regexp.MustCompile(`^\[(Host [AB])\]:\s*(.*)$`)

// ScriptLine is one spoken line of a podcast script.
type ScriptLine struct {
	Speaker string
	Text    string
}

// String renders the line back into script form.
func (l ScriptLine) String() string {
	return fmt.Sprintf("[%s]: %s", l.Speaker, l.Text)
}

// ParseScript extracts dialogue lines from a combined script. Blank lines are
// ignored; any other line that does not match the "[Host A]: ..." shape is
// dropped and counted so callers can log how much of the model output was
// unusable.
func ParseScript(script string) (lines []ScriptLine, dropped int) {
	for _, raw := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		m := scriptLineRe.FindStringSubmatch(trimmed)
		if m == nil || strings.TrimSpace(m[2]) == "" {
			dropped++
			continue
		}
		lines = append(lines, ScriptLine{Speaker: m[1], Text: strings.TrimSpace(m[2])})
	}
	return lines, dropped
}

// FormatScript renders lines back into the canonical script text stored on
// the episode.
func FormatScript(lines []ScriptLine) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = l.String()
	}
	return strings.Join(parts, "\n")
}
