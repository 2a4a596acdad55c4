// Package kb implements the knowledge base: parsing curated KB text into
// entries, embedding them into an atomically swappable index, and retrieving
// the best-matching entry for a new incident.
package kb

import (
	"fmt"
	"regexp"
	"strings"
)

// Entry is one discrete knowledge base article.
type Entry struct {
	ID            string   // Identifier from the [KB_ID: ...] marker, verbatim
	UseCase       string   // One-line description of the problem this entry covers
	RequiredInfo  []string // Facts to collect from the user before issuing steps
	SolutionSteps string   // The resolution text handed to the user
	Content       string   // Full raw chunk text, marker line included
}

// kbIDPattern matches the entry-delimiter marker line.
var kbIDPattern = regexp.MustCompile(`\[KB_ID:\s*([A-Za-z0-9_-]+)\]`)

// Section headers recognized inside a chunk, matched case-insensitively.
var (
	useCasePattern  = regexp.MustCompile(`(?i)^\s*use\s+case\s*:\s*(.*)$`)
	requiredPattern = regexp.MustCompile(`(?i)^\s*required\s+information\s*:\s*$`)
	solutionPattern = regexp.MustCompile(`(?i)^\s*solution\s+steps\s*:\s*$`)
	bulletPattern   = regexp.MustCompile(`^\s*(?:[-*]|\d+[.)])\s+(.*)$`)
)

// Parse splits raw KB text into entries delimited by [KB_ID: ...] markers.
// Returns an error if the text contains zero well-formed entries or repeats
// an entry id, so callers never discard a previous index in favor of garbage.
func Parse(fullText string) ([]Entry, error) {
	if strings.TrimSpace(fullText) == "" {
		return nil, fmt.Errorf("knowledge base text is empty")
	}

	var entries []Entry
	var currentLines []string
	currentID := ""
	seen := make(map[string]bool)

	flush := func() {
		if currentID == "" {
			return
		}
		chunk := strings.Join(currentLines, "\n")
		if strings.TrimSpace(chunk) == "" {
			return
		}
		entries = append(entries, buildEntry(currentID, chunk))
	}

	for _, line := range strings.Split(fullText, "\n") {
		if m := kbIDPattern.FindStringSubmatch(line); m != nil {
			if seen[m[1]] {
				return nil, fmt.Errorf("knowledge base text contains duplicate entry id %q", m[1])
			}
			seen[m[1]] = true
			flush()
			currentID = m[1]
			currentLines = []string{line}
			continue
		}
		if currentID != "" {
			currentLines = append(currentLines, line)
		}
	}
	flush()

	if len(entries) == 0 {
		return nil, fmt.Errorf("knowledge base text contains no well-formed [KB_ID: ...] entries")
	}

	return entries, nil
}

// buildEntry extracts the structured sections from one chunk of KB text.
func buildEntry(id, chunk string) Entry {
	entry := Entry{
		ID:      id,
		Content: chunk,
	}

	const (
		sectionNone = iota
		sectionRequired
		sectionSolution
	)
	section := sectionNone
	var solutionLines []string

	for _, line := range strings.Split(chunk, "\n") {
		switch {
		case kbIDPattern.MatchString(line):
			section = sectionNone
		case useCasePattern.MatchString(line):
			entry.UseCase = strings.TrimSpace(useCasePattern.FindStringSubmatch(line)[1])
			section = sectionNone
		case requiredPattern.MatchString(line):
			section = sectionRequired
		case solutionPattern.MatchString(line):
			section = sectionSolution
		default:
			switch section {
			case sectionRequired:
				if m := bulletPattern.FindStringSubmatch(line); m != nil {
					entry.RequiredInfo = append(entry.RequiredInfo, strings.TrimSpace(m[1]))
				} else if strings.TrimSpace(line) != "" {
					// A non-bullet, non-blank line ends the section.
					section = sectionNone
				}
			case sectionSolution:
				solutionLines = append(solutionLines, line)
			}
		}
	}

	entry.SolutionSteps = strings.TrimSpace(strings.Join(solutionLines, "\n"))
	return entry
}
