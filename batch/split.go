// Package batch splits a migration script into the batches the server's
// client-side batch separator (GO) delimits. This is deliberately not a SQL
// tokenizer: separator status requires the line to contain only GO and an
// optional repeat count, so no string/comment awareness is needed to avoid
// misfiring on embedded occurrences like GOTO or 'GO' literals.
package batch

import (
	"regexp"
	"strconv"
	"strings"
)

// Batch is one fragment of a script bounded by a GO line or the end of the
// script, to be sent to the server as a single command.
type Batch struct {
	// SQL is the batch text, with the terminating GO line excluded.
	SQL string
	// RepeatCount is the number of times this batch should be sent, taken
	// from "GO N"; it is 1 for a plain GO or for the trailing batch.
	RepeatCount int
	// StartLine is the 1-based index of the first non-empty line of the
	// batch, for diagnostics.
	StartLine int
}

// reGoLine matches a line that is, once trimmed, exactly GO with an optional
// repeat count: case-insensitive, line-anchored so that GOTO or SELECT 'GO'
// never match.
var reGoLine = regexp.MustCompile(`(?i)^\s*GO(?:\s+([0-9]+))?\s*$`)

// Split divides script into batches on GO-separator lines. A batch whose
// trimmed body is empty (runs of consecutive GO lines, or a script starting
// with GO) is discarded. Trailing content after the final GO forms one more
// batch with RepeatCount 1.
func Split(script string) []Batch {
	lines := strings.Split(script, "\n")
	var (
		batches []Batch
		current []string
		start   = 0 // 1-based line number of the first line of `current`
	)
	flush := func(repeat int) {
		body := strings.Join(current, "\n")
		if strings.TrimSpace(body) != "" {
			batches = append(batches, Batch{
				SQL:         body,
				RepeatCount: repeat,
				StartLine:   firstNonEmpty(current, start),
			})
		}
		current = nil
	}
	for i, line := range lines {
		lineNo := i + 1
		if len(current) == 0 {
			start = lineNo
		}
		if m := reGoLine.FindStringSubmatch(line); m != nil {
			repeat := 1
			if m[1] != "" {
				if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
					repeat = n
				}
			}
			flush(repeat)
			continue
		}
		current = append(current, line)
	}
	flush(1)
	return batches
}

// firstNonEmpty returns the line number, relative to base, of the first
// non-blank line in lines, or base if all lines are blank.
func firstNonEmpty(lines []string, base int) int {
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			return base + i
		}
	}
	return base
}
