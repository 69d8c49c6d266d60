package template

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// DocumentVersion is the current export format version.
const DocumentVersion = 1

// Document is the YAML form of an owner's template collection.
type Document struct {
	Version    int        `yaml:"version"`
	ExportedAt time.Time  `yaml:"exported_at"`
	Templates  []Template `yaml:"templates"`
}

// WriteDocument encodes templates as a versioned YAML document.
func WriteDocument(w io.Writer, templates []Template, now time.Time) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	doc := Document{Version: DocumentVersion, ExportedAt: now.UTC(), Templates: templates}
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding templates: %w", err)
	}
	return enc.Close()
}

// ReadDocument decodes a YAML export. Unknown fields are rejected.
func ReadDocument(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty template document")
		}
		return nil, fmt.Errorf("decoding templates: %w", err)
	}
	if doc.Version == 0 {
		doc.Version = DocumentVersion
	}
	if doc.Version > DocumentVersion {
		return nil, fmt.Errorf("unsupported template document version %d", doc.Version)
	}
	return &doc, nil
}

// Export writes every template of the owner, newest first, paging through
// the gateway.
func (s *Store) Export(ctx context.Context, w io.Writer) (int, error) {
	if s.isClosed() {
		return 0, ErrStoreClosed
	}
	var all []Template
	f := SearchFilters{OrderBy: SortByCreatedAt, Direction: SortDesc, Limit: 100}
	for {
		res, err := s.gw.List(ctx, s.owner, f)
		if err != nil {
			return 0, s.fail("export", err)
		}
		all = append(all, res.Templates...)
		f.Offset += len(res.Templates)
		if len(res.Templates) == 0 || f.Offset >= res.MatchCount {
			break
		}
	}
	if err := WriteDocument(w, all, s.now()); err != nil {
		return 0, err
	}
	return len(all), nil
}

// ImportIssue explains why one template of a document was not created.
type ImportIssue struct {
	Name string
	Err  error
}

// ImportReport summarizes an import.
type ImportReport struct {
	Created []Template
	Skipped []ImportIssue
}

// Import creates each template of doc through CreateTemplate, so the limit,
// validation and sanitizing rules apply as for interactive creates. Names
// that already exist are skipped; once the limit is reached the remaining
// templates are skipped as well. Only a closed store or a connection failure
// aborts the import.
func (s *Store) Import(ctx context.Context, doc *Document) (*ImportReport, error) {
	report := &ImportReport{}
	for i, t := range doc.Templates {
		created, err := s.CreateTemplate(ctx, CreateRequest{Name: t.Name, Structure: t.Structure, Notes: t.Notes})
		switch {
		case err == nil:
			report.Created = append(report.Created, *created)
		case errors.Is(err, ErrStoreClosed), errors.Is(err, ErrConnection),
			errors.Is(err, ErrAuthRequired), errors.Is(err, ErrAuthExpired):
			return report, err
		case errors.Is(err, ErrLimitExceeded):
			for _, rest := range doc.Templates[i:] {
				report.Skipped = append(report.Skipped, ImportIssue{Name: rest.Name, Err: err})
			}
			return report, nil
		default:
			report.Skipped = append(report.Skipped, ImportIssue{Name: t.Name, Err: err})
		}
	}
	return report, nil
}
