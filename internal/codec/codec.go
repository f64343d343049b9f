// Package codec parses and serializes graph documents. Parsers record the
// sha256 of the raw bytes as the document fingerprint and keep attribute keys
// in source order.
package codec

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gkiler/visualization-for-preds/internal/graph"
)

// Codec converts between raw file bytes and documents
type Codec interface {
	Name() string
	Parse(raw []byte) (*graph.Document, error)
	Serialize(d *graph.Document) ([]byte, error)
	// ReservedAttributes lists names the format uses for structure; they
	// cannot carry annotations
	ReservedAttributes() []string
}

// ForPath picks a codec from the file extension
func ForPath(path string) (Codec, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".graphml", ".xml":
		return GraphML{}, nil
	case ".json":
		return JSON{}, nil
	default:
		return nil, fmt.Errorf("no codec for %q (want .graphml, .xml or .json)", path)
	}
}
