package transcript

import "strings"

// Normalize cleans up a finalized page transcript: stray markdown code
// fence lines the model was told not to emit are dropped, trailing
// whitespace is trimmed per line, and runs of blank lines are collapsed to
// one. Applied after finalization only; streamed flushes are untouched.
func Normalize(text string) string {
	lines := strings.Split(text, "\n")
	result := make([]string, 0, len(lines))
	blankRun := 0

	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")

		if isFenceLine(trimmed) {
			continue
		}

		if strings.TrimSpace(trimmed) == "" {
			blankRun++
			if blankRun > 1 {
				continue
			}
			result = append(result, "")
			continue
		}

		blankRun = 0
		result = append(result, trimmed)
	}

	// Drop leading and trailing blank lines.
	for len(result) > 0 && result[0] == "" {
		result = result[1:]
	}
	for len(result) > 0 && result[len(result)-1] == "" {
		result = result[:len(result)-1]
	}

	return strings.Join(result, "\n")
}

// isFenceLine matches lines that are only a code fence, optionally with a
// language tag (e.g. "```" or "```markdown").
func isFenceLine(line string) bool {
	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, "```") {
		return false
	}
	rest := strings.TrimPrefix(s, "```")
	return !strings.ContainsAny(rest, " `")
}
