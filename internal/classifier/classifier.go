// Package classifier extracts a human-readable message and error family
// from one line (or buffered block) of a bridge child's stdout/stderr,
// per spec.md §4.6.
//
// Grounded on the teacher's internal/mcp error taxonomy (MCPErrorCode) and
// its habit of keyword-matching log lines rather than parsing structured
// output, since bridge stderr is free-form text from processes this
// system does not control.
package classifier

import (
	"regexp"
	"strings"
)

// Family is one of the keyword-family classifications of spec.md §4.6.
type Family string

const (
	FamilyAuth       Family = "auth"
	FamilyConnection Family = "connection"
	FamilyResource   Family = "resource"
	FamilyDependency Family = "dependency"
	FamilyConfig     Family = "config"
	FamilyRuntime    Family = "runtime"
	FamilyHealth     Family = "health"
	FamilyUnknown    Family = "unknown"
)

// informationalPatterns matches known startup/progress noise that is
// never an error, regardless of what keywords it happens to contain.
var informationalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^INFO:`),
	regexp.MustCompile(`^Uvicorn running on`),
	regexp.MustCompile(`^Installed \d+ packages`),
	regexp.MustCompile(`^Downloading .*\(`),
}

// extractionPatterns are tried in order; the first capturing match wins.
// Each must have exactly one capture group holding the extracted message.
var extractionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`ERROR:\s*(.+)`),
	regexp.MustCompile(`Error:\s*(.+)`),
	regexp.MustCompile(`Exception:\s*(.+)`),
	regexp.MustCompile(`(Missing required.+)`),
	regexp.MustCompile(`(.*API key.+)`),
	regexp.MustCompile(`(Please enter your .+)`),
	regexp.MustCompile(`(Child exited:.+)`),
	regexp.MustCompile(`(Failed to .+)`),
	regexp.MustCompile(`(Unable to .+)`),
	regexp.MustCompile(`(Cannot .+)`),
}

var criticalKeywords = []string{
	"killed", "crashed", "terminated", "refused", "timeout", "unauthorized", "forbidden",
}

// familyKeywords lists each family's trigger substrings, in the
// evaluation order spec.md §4.6 requires.
var familyKeywords = []struct {
	family   Family
	keywords []string
}{
	{FamilyAuth, []string{"api key", "token", "password", "unauthorized", "forbidden", "401", "403"}},
	{FamilyConnection, []string{"connection", "network", "refused", "timeout", "socket", "mcperror"}},
	{FamilyResource, []string{"memory", "killed", "137", "sigkill", "oom"}},
	{FamilyDependency, []string{"package", "install", "module", "import"}},
	{FamilyConfig, []string{"missing", "required", "invalid"}},
}

// IsInformational reports whether line is known startup/progress noise.
func IsInformational(line string) bool {
	for _, p := range informationalPatterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

// ExtractMessage applies the prioritized extraction patterns, falling
// back to a critical-keyword scan. Returns "" if nothing matched.
func ExtractMessage(line string) string {
	for _, p := range extractionPatterns {
		if m := p.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	lower := containsFoldAny(line, criticalKeywords)
	if lower != "" {
		return line
	}
	return ""
}

// Classify assigns a Family to message by the first matching keyword
// family, in the fixed evaluation order, defaulting to runtime.
func Classify(message string) Family {
	for _, group := range familyKeywords {
		if containsFoldAny(message, group.keywords) != "" {
			return group.family
		}
	}
	return FamilyRuntime
}

// containsFoldAny returns the first of candidates that appears in s,
// case-insensitively, or "" if none do.
func containsFoldAny(s string, candidates []string) string {
	lower := strings.ToLower(s)
	for _, c := range candidates {
		if strings.Contains(lower, strings.ToLower(c)) {
			return c
		}
	}
	return ""
}

// overwritable reports whether an existing record of family previous may
// be replaced by a new record of family next (spec.md §4.6 recording
// policy): health and runtime are always overwritable; auth is
// overwritable only by another auth record; everything else is
// overwritable by anything more specific than runtime/health.
func Overwritable(previous, next Family) bool {
	if previous == FamilyHealth || previous == FamilyRuntime {
		return true
	}
	if previous == FamilyAuth {
		return next == FamilyAuth
	}
	return next != FamilyRuntime && next != FamilyHealth
}
