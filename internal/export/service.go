package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"catbook/api/internal/document"
	"catbook/api/internal/theory"

	"github.com/google/uuid"
)

// ContentStore loads the content a ref's head currently points at.
type ContentStore interface {
	HeadSnapshot(ctx context.Context, refID uuid.UUID) (json.RawMessage, error)
}

// ArtifactArchive keeps rendered artifacts for later retrieval.
type ArtifactArchive interface {
	Put(ctx context.Context, refID uuid.UUID, res *Result) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// Request names the ref to export and the output format.
type Request struct {
	RefID  uuid.UUID
	Format Format
}

// Service renders stored documents to export artifacts.
type Service struct {
	store    ContentStore
	theories *theory.Registry
	archive  ArtifactArchive // optional
}

func NewService(store ContentStore, theories *theory.Registry, archive *Archive) *Service {
	s := &Service{store: store, theories: theories}
	// A nil concrete pointer must stay a nil interface.
	if archive != nil {
		s.archive = archive
	}
	return s
}

// Export renders the ref's head content in the requested format. The
// artifact is also archived when an archive is configured; archiving
// failures are logged, not returned.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	raw, err := s.store.HeadSnapshot(ctx, req.RefID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	doc, err := document.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	data, err := BuildTemplateData(doc, s.theories)
	if err != nil {
		return nil, err
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render document: %w", err)
	}

	var res *Result
	switch req.Format {
	case FormatHTML:
		res = &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(data.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}
	case FormatPDF:
		res, err = exportPDF(ctx, html, data.Title)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, req.Format)
	}

	if s.archive != nil {
		if key, err := s.archive.Put(ctx, req.RefID, res); err != nil {
			log.Printf("export: archive %s: %v", req.RefID, err)
		} else {
			log.Printf("export: archived %s", key)
		}
	}
	return res, nil
}

// Archived fetches a previously archived artifact of the ref by its
// filename, without re-rendering anything.
func (s *Service) Archived(ctx context.Context, refID uuid.UUID, filename string) (*Result, error) {
	if s.archive == nil {
		return nil, fmt.Errorf("%w: no archive configured", ErrContentUnavailable)
	}
	data, err := s.archive.Get(ctx, fmt.Sprintf("%s/%s", refID, filename))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}
	return &Result{Data: data, Filename: filename, MimeType: mimeByFilename(filename)}, nil
}

func mimeByFilename(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".html"):
		return "text/html; charset=utf-8"
	case strings.HasSuffix(filename, ".pdf"):
		return "application/pdf"
	}
	return "application/octet-stream"
}
