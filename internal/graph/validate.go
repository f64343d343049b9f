package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDocument is returned when a document fails structural validation
var ErrInvalidDocument = errors.New("invalid graph document")

// Limits bounds document size. Zero means unlimited.
type Limits struct {
	MaxNodes int
	MaxEdges int
}

// ValidationError lists every problem found in a document
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidDocument, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidDocument }

// Validate checks node id uniqueness, edge endpoints, entity key collisions
// and size limits. It returns nil or a *ValidationError.
func Validate(d *Document, limits Limits) error {
	var problems []string

	seen := make(map[string]bool, len(d.nodes))
	for _, n := range d.nodes {
		if n.ID == "" {
			problems = append(problems, "node with empty id")
			continue
		}
		if seen[n.ID] {
			problems = append(problems, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		seen[n.ID] = true
	}

	keys := make(map[EntityID]bool, len(d.edges))
	for i, e := range d.edges {
		if !seen[e.Source] {
			problems = append(problems, fmt.Sprintf("edge source %q not found in nodes", e.Source))
		}
		if !seen[e.Target] {
			problems = append(problems, fmt.Sprintf("edge target %q not found in nodes", e.Target))
		}
		key := EdgeKey(e, i)
		if seen[string(key)] || keys[key] {
			problems = append(problems, fmt.Sprintf("edge key %q collides with another entity", key))
		}
		keys[key] = true
	}

	if limits.MaxNodes > 0 && len(d.nodes) > limits.MaxNodes {
		problems = append(problems, fmt.Sprintf("document has %d nodes, exceeds limit of %d", len(d.nodes), limits.MaxNodes))
	}
	if limits.MaxEdges > 0 && len(d.edges) > limits.MaxEdges {
		problems = append(problems, fmt.Sprintf("document has %d edges, exceeds limit of %d", len(d.edges), limits.MaxEdges))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
