package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ricave/ricave-translator/jobs"
	"github.com/ricave/ricave-translator/translate"
)

// Status is the result of one file operation.
type Status string

const (
	StatusSuccess Status = "Success"
	StatusFailed  Status = "Failed"
)

// debugIssueMessage replaces the error of files flagged in debug mode.
const debugIssueMessage = "Debug issues reported (see debug log)"

// Outcome is the result of processing one template file for one language.
type Outcome struct {
	// Language is the formal name of the target language.
	Language string
	// File is the template-relative path with forward slashes.
	File   string
	Status Status
	// Error is the root-cause message of a failure.
	Error string
}

// normalize makes a relative path comparable across platforms.
func normalize(path string) string {
	return strings.ToLower(strings.ReplaceAll(path, `\`, "/"))
}

// rootCause returns the message of the innermost error of err. Oracle
// errors are reported as a whole since their message is the useful part.
func rootCause(err error) string {
	for {
		if oe, ok := err.(*translate.Error); ok {
			return oe.Error()
		}
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

// markDebugIssues fails every outcome whose file has debug reasons.
func markDebugIssues(outcomes []Outcome, debug map[string][]string) []Outcome {
	for i, o := range outcomes {
		if _, ok := debug[normalize(o.File)]; ok {
			outcomes[i].Status = StatusFailed
			outcomes[i].Error = debugIssueMessage
		}
	}
	return outcomes
}

// saveDebugReport writes the per-file reasons of a debug-fix pass.
func (c *Coordinator) saveDebugReport(job *jobs.Job, debug map[string][]string) (string, error) {
	dir := c.opts.debugDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}

	first := ""
	if len(job.TargetLanguages) > 0 {
		first = job.TargetLanguages[0]
	}
	path := filepath.Join(dir, fmt.Sprintf("debug_fix_report_%s_%s.json", job.ID, first))

	data, err := json.MarshalIndent(debug, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling debug report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// ---------------------------------------------------------------------------
// Summaries
// ---------------------------------------------------------------------------

// Summary counts the outcomes of a pass or a job.
type Summary struct {
	Succeeded int
	Failed    int
	// Failures are sorted by language, then file.
	Failures []Outcome
}

// Total returns the number of processed files.
func (s Summary) Total() int { return s.Succeeded + s.Failed }

// Summarize tallies outcomes.
func Summarize(outcomes []Outcome) Summary {
	var s Summary
	for _, o := range outcomes {
		if o.Status == StatusFailed {
			s.Failed++
			s.Failures = append(s.Failures, o)
		} else {
			s.Succeeded++
		}
	}
	sort.Slice(s.Failures, func(i, j int) bool {
		a, b := s.Failures[i], s.Failures[j]
		if a.Language != b.Language {
			return a.Language < b.Language
		}
		return a.File < b.File
	})
	return s
}

// FailuresByLanguage groups the failures of s by language, keeping the
// language order of first appearance.
func (s Summary) FailuresByLanguage() ([]string, map[string][]Outcome) {
	var order []string
	groups := map[string][]Outcome{}
	for _, f := range s.Failures {
		if _, ok := groups[f.Language]; !ok {
			order = append(order, f.Language)
		}
		groups[f.Language] = append(groups[f.Language], f)
	}
	return order, groups
}
