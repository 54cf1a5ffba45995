package repositories

import (
	"context"
	"fmt"
)

// ResearchFact is one sourced finding returned by a ResearchSource.
type ResearchFact struct {
	Title   string
	Summary string
	Source  string
}

// String renders the fact as a single reference note line.
func (f ResearchFact) String() string {
	s := f.Title
	if f.Summary != "" {
		s += ": " + f.Summary
	}
	if f.Source != "" {
		s += fmt.Sprintf(" (Source: %s)", f.Source)
	}
	return s
}

// ResearchSource looks up published findings relevant to a question.
// An empty result with a nil error means nothing relevant was found.
type ResearchSource interface {
	Search(ctx context.Context, query string) ([]ResearchFact, error)
}
