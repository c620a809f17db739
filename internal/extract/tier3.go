package extract

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"

	"rsc.io/pdf"

	"github.com/paul828919/CONNECT-sub002/internal/models"
)

const maxAttachmentPages = 40

// AttachmentFetcher downloads an announcement attachment on the named
// source's politeness budget, subject to the same rules as page fetches.
type AttachmentFetcher interface {
	FetchBytes(ctx context.Context, sourceID, url string) ([]byte, error)
}

// DocConverter turns non-PDF office documents (HWP above all) into plain
// text. Backed by the external conversion service when one is configured.
type DocConverter interface {
	ToText(ctx context.Context, filename string, raw []byte) (string, error)
}

// AttachmentExtractor is the last tier: pull text out of the announcement's
// PDF attachment and re-run the deterministic rules over it, tagged TIER3.
// Announcements frequently bury the real eligibility table in a 공고문 PDF
// that the listing page only links to.
type AttachmentExtractor struct {
	fetcher   AttachmentFetcher
	converter DocConverter
}

func NewAttachmentExtractor(fetcher AttachmentFetcher) *AttachmentExtractor {
	return &AttachmentExtractor{fetcher: fetcher}
}

// WithConverter enables the non-PDF fallback.
func (e *AttachmentExtractor) WithConverter(c DocConverter) *AttachmentExtractor {
	e.converter = c
	return e
}

func (e *AttachmentExtractor) Name() string { return "tier3-attachment" }

func (e *AttachmentExtractor) Extract(ctx context.Context, program *models.FundingProgram, profile *models.EligibilityProfile, unresolved FieldSet) (FieldSet, error) {
	if len(unresolved) == 0 || program.AttachmentURL == "" {
		return nil, nil
	}
	raw, err := e.fetcher.FetchBytes(ctx, program.AgencyID, program.AttachmentURL)
	if err != nil {
		return nil, fmt.Errorf("fetching attachment %s: %w", program.AttachmentURL, err)
	}
	var text string
	if bytes.HasPrefix(raw, []byte("%PDF")) {
		text, err = pdfText(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing attachment PDF for %s: %w", program.ExternalID, err)
		}
	} else if e.converter != nil {
		// HWP and other office formats go through the external conversion
		// service rather than guessing at the binary layout here.
		text, err = e.converter.ToText(ctx, program.AttachmentURL, raw)
		if err != nil {
			return nil, fmt.Errorf("converting attachment for %s: %w", program.ExternalID, err)
		}
	} else {
		log.Printf("[extract] attachment for %s is not a PDF and no converter is configured, skipping tier 3", program.ExternalID)
		return nil, nil
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return ApplyRules(text, profile, unresolved, models.SourceTier3), nil
}

// pdfText extracts plain text from a PDF. The parser panics on malformed
// files, so the whole walk runs under recover.
func pdfText(raw []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parse panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	pages := reader.NumPage()
	if pages > maxAttachmentPages {
		pages = maxAttachmentPages
	}
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		var lastY float64
		for _, t := range page.Content().Text {
			if lastY != 0 && t.Y != lastY {
				sb.WriteByte('\n')
			}
			sb.WriteString(t.S)
			lastY = t.Y
		}
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}
