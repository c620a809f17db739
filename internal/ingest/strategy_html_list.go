package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLListStrategy ingests board-style announcement listings (bizinfo,
// K-Startup, regional technoparks) using configured CSS selectors, following
// pagination up to max_pages and optionally fetching each detail page.
type HTMLListStrategy struct{}

func (s *HTMLListStrategy) Run(ctx context.Context, config SourceConfig, p *Pipeline) (IngestionStats, error) {
	stats := IngestionStats{}

	if config.Selectors.Container == "" {
		return stats, fmt.Errorf("%w: selector 'container' is required for html_list", ErrStructuralParse)
	}

	maxPages := config.MaxPages
	if maxPages == 0 {
		maxPages = 1
	}

	currentURL := config.BaseURL
	visited := make(map[string]bool)

	for page := 1; page <= maxPages; page++ {
		canonPage := CanonicalizeURL(currentURL)
		if visited[canonPage] {
			log.Printf("[%s] pagination cycle detected at %s, stopping", config.ID, canonPage)
			break
		}
		visited[canonPage] = true

		log.Printf("[%s] fetching page %d: %s", config.ID, page, currentURL)
		doc, err := p.Fetcher.Fetch(ctx, config.ID, currentURL)
		if err != nil {
			return stats, fmt.Errorf("fetching list page %d: %w", page, err)
		}

		htmlDoc, err := goquery.NewDocumentFromReader(doc.Body)
		doc.Body.Close()
		if err != nil {
			return stats, fmt.Errorf("parsing list page %d: %w", page, err)
		}

		items := htmlDoc.Find(config.Selectors.Container)
		if items.Length() == 0 {
			// an empty final page is normal; an empty first page means the
			// board markup moved out from under the selectors
			if page == 1 {
				if snapshot, err := htmlDoc.Html(); err == nil {
					log.Printf("[%s] markup snapshot for selector update: %s",
						config.ID, TruncateText(normalizeSpace(snapshot), 2000))
				}
				return stats, fmt.Errorf("%w: container %q matched nothing at %s",
					ErrStructuralParse, config.Selectors.Container, currentURL)
			}
			break
		}

		var itemErr error
		items.EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			raw, ok := s.extractListItem(config, currentURL, sel)
			if !ok {
				return true
			}
			stats.TotalFound++

			if config.Detail.Enabled {
				if err := s.enrichDetail(ctx, config, &raw, p); err != nil {
					log.Printf("[%s] detail fetch failed for %s: %v", config.ID, raw.SourceURL, err)
					if Classify(err) == ClassBlocked {
						itemErr = err
						return false
					}
				}
			}

			outcome, err := p.SaveAnnouncement(ctx, config, raw)
			if err != nil {
				log.Printf("[%s] failed to save %q: %v", config.ID, raw.Title, err)
				stats.Errors++
				return true
			}
			if outcome == ChangeUnchanged {
				stats.TotalUnchanged++
			} else {
				stats.TotalSaved++
			}
			return true
		})
		if itemErr != nil {
			return stats, itemErr
		}

		if config.Pagination.Next == "" {
			break
		}
		nextLink := htmlDoc.Find(config.Pagination.Next).AttrOr("href", "")
		if nextLink == "" {
			break
		}
		currentURL = resolveURL(currentURL, nextLink)
	}

	return stats, nil
}

func (s *HTMLListStrategy) extractListItem(config SourceConfig, pageURL string, sel *goquery.Selection) (RawAnnouncement, bool) {
	title := strings.TrimSpace(sel.Find(config.Selectors.Title).Text())

	linkAttr := config.Selectors.LinkAttr
	if linkAttr == "" {
		linkAttr = "href"
	}
	var link string
	if config.Selectors.Link == "" || config.Selectors.Link == "." {
		link = strings.TrimSpace(sel.AttrOr(linkAttr, ""))
	} else {
		link = strings.TrimSpace(sel.Find(config.Selectors.Link).AttrOr(linkAttr, ""))
	}
	if title == "" || link == "" {
		return RawAnnouncement{}, false
	}

	fullURL := resolveURL(pageURL, link)
	canonical := CanonicalizeURL(fullURL)

	externalID := ""
	if config.Selectors.ExternalID != "" {
		externalID = strings.TrimSpace(sel.Find(config.Selectors.ExternalID).Text())
	}
	if externalID == "" {
		// boards without a visible id get a stable one from the canonical URL
		hash := sha1.Sum([]byte(canonical))
		externalID = hex.EncodeToString(hash[:])
	}

	raw := RawAnnouncement{
		Title:      title,
		ExternalID: externalID,
		AgencyID:   config.AgencyID,
		SourceURL:  canonical,
		Extra:      make(map[string]string),
	}
	if config.Selectors.Date != "" {
		raw.AnnouncedRaw = strings.TrimSpace(sel.Find(config.Selectors.Date).Text())
	}
	return raw, true
}

// enrichDetail fetches the announcement's own page for the body text and the
// 공고문 attachment link.
func (s *HTMLListStrategy) enrichDetail(ctx context.Context, config SourceConfig, raw *RawAnnouncement, p *Pipeline) error {
	doc, err := p.Fetcher.Fetch(ctx, config.ID, raw.SourceURL)
	if err != nil {
		return err
	}
	defer doc.Body.Close()

	htmlDoc, err := goquery.NewDocumentFromReader(doc.Body)
	if err != nil {
		return err
	}

	if config.Detail.Body != "" {
		if body, err := htmlDoc.Find(config.Detail.Body).Html(); err == nil {
			raw.BodyHTML = strings.TrimSpace(body)
		}
	}
	if raw.BodyHTML == "" {
		if body, err := htmlDoc.Selection.Html(); err == nil {
			raw.BodyHTML = strings.TrimSpace(body)
		}
	}
	if config.Detail.Attachment != "" {
		if href := htmlDoc.Find(config.Detail.Attachment).First().AttrOr("href", ""); href != "" {
			raw.AttachmentURL = resolveURL(raw.SourceURL, href)
		}
	}
	if config.Detail.Deadline != "" {
		raw.DeadlineRaw = strings.TrimSpace(htmlDoc.Find(config.Detail.Deadline).Text())
	}
	return nil
}

func resolveURL(base, ref string) string {
	if strings.HasPrefix(ref, "http") {
		return ref
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
