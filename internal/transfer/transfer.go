// Package transfer defines the portable export document and its JSON and
// YAML codecs.
package transfer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"robots-backend/internal/errs"
	"robots-backend/internal/model"
)

// Format selects the document codec.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Document is the export/import payload.
type Document struct {
	Robots []Entry `json:"robots" yaml:"robots"`
}

// Entry is one exported robot. Year is kept as a number so that a
// fractional year in a hand-edited file is caught on import rather than
// silently truncated by the decoder.
type Entry struct {
	ID        string          `json:"id,omitempty" yaml:"id,omitempty"`
	Name      string          `json:"name" yaml:"name"`
	Label     string          `json:"label" yaml:"label"`
	Year      float64         `json:"year" yaml:"year"`
	Type      model.RobotType `json:"type" yaml:"type"`
	CreatedAt time.Time       `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt" yaml:"updatedAt"`
	Archived  bool            `json:"archived" yaml:"archived"`
}

// FromRobot builds the exported form of r.
func FromRobot(r model.Robot) Entry {
	return Entry{
		ID:        r.ID,
		Name:      r.Name,
		Label:     r.Label,
		Year:      float64(r.Year),
		Type:      r.Type,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Archived:  r.Archived,
	}
}

// NewDocument exports robots in the given order.
func NewDocument(robots []model.Robot) Document {
	doc := Document{Robots: make([]Entry, 0, len(robots))}
	for _, r := range robots {
		doc.Robots = append(doc.Robots, FromRobot(r))
	}
	return doc
}

// ParseFormat accepts "json", "yaml" or "yml".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// FormatFromPath derives the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

// Ext is the file extension written for f.
func (f Format) Ext() string {
	return string(f)
}

// Encode writes doc to w.
func Encode(w io.Writer, doc Document, f Format) error {
	if doc.Robots == nil {
		doc.Robots = []Entry{}
	}
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported export format %q", f)
	}
}

// Decode reads a document from r. Malformed input is reported as a
// validation error.
func Decode(r io.Reader, f Format) (Document, error) {
	var doc Document
	var err error
	switch f {
	case FormatJSON:
		err = json.NewDecoder(r).Decode(&doc)
	case FormatYAML:
		err = yaml.NewDecoder(r).Decode(&doc)
	default:
		return Document{}, fmt.Errorf("unsupported export format %q", f)
	}
	if err != nil {
		return Document{}, errs.NewValidationError(errs.Violation{
			Field:   "document",
			Message: "malformed: " + err.Error(),
		})
	}
	return doc, nil
}

// WriteFile encodes doc into path using the format implied by its extension.
func WriteFile(path string, doc Document) error {
	f, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if err := Encode(out, doc, f); err != nil {
		out.Close()
		return fmt.Errorf("encode export: %w", err)
	}
	return out.Close()
}

// ReadFile decodes the document stored at path.
func ReadFile(path string) (Document, error) {
	f, err := FormatFromPath(path)
	if err != nil {
		return Document{}, err
	}
	in, err := os.Open(path)
	if err != nil {
		return Document{}, fmt.Errorf("open import file: %w", err)
	}
	defer in.Close()
	return Decode(in, f)
}
