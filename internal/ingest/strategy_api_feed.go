package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/url"
	"strconv"
	"time"
)

// APIFeedStrategy ingests sources that expose a JSON announcement feed
// (smtech, IRIS open APIs). Feed fields are authoritative: anything the API
// states directly is stamped with API provenance and no extraction tier may
// overwrite it.
type APIFeedStrategy struct{}

type feedEnvelope struct {
	Page       int        `json:"page"`
	TotalCount int        `json:"totalCount"`
	Items      []feedItem `json:"items"`
}

type feedItem struct {
	ID            string           `json:"pbancSn"`
	Title         string           `json:"pbancNm"`
	Body          string           `json:"pbancCn"`
	DetailURL     string           `json:"detailUrl"`
	AttachmentURL string           `json:"atchFileUrl"`
	AnnouncedISO  string           `json:"pbancDt"`  // YYYY-MM-DD
	DeadlineISO   string           `json:"rcptEndDt"` // YYYY-MM-DD
	Eligibility   *feedEligibility `json:"eligibility,omitempty"`
}

// feedEligibility carries the structured criteria some APIs publish next to
// the announcement text.
type feedEligibility struct {
	OrgTypes []string `json:"orgTypes,omitempty"`
	Regions  []string `json:"regions,omitempty"`
	TRLMin   *int     `json:"trlMin,omitempty"`
	TRLMax   *int     `json:"trlMax,omitempty"`
}

func (s *APIFeedStrategy) Run(ctx context.Context, config SourceConfig, p *Pipeline) (IngestionStats, error) {
	stats := IngestionStats{}

	maxPages := config.MaxPages
	if maxPages == 0 {
		maxPages = 1
	}

	for page := 1; page <= maxPages; page++ {
		pageURL, err := s.buildPageURL(config, page)
		if err != nil {
			return stats, err
		}

		doc, err := p.Fetcher.Fetch(ctx, config.ID, pageURL)
		if err != nil {
			return stats, fmt.Errorf("fetching feed page %d: %w", page, err)
		}

		envelope, err := decodeFeed(doc.Body)
		doc.Body.Close()
		if err != nil {
			return stats, fmt.Errorf("%w: decoding feed page %d: %v", ErrStructuralParse, page, err)
		}

		stats.TotalFound += len(envelope.Items)
		for _, item := range envelope.Items {
			raw := s.toRaw(config, item)
			outcome, err := p.SaveAnnouncement(ctx, config, raw)
			if err != nil {
				log.Printf("[%s] failed to save %q: %v", config.ID, raw.Title, err)
				stats.Errors++
				continue
			}
			if outcome == ChangeUnchanged {
				stats.TotalUnchanged++
			} else {
				stats.TotalSaved++
			}
		}

		if len(envelope.Items) == 0 || stats.TotalFound >= envelope.TotalCount {
			break
		}
	}
	return stats, nil
}

func (s *APIFeedStrategy) buildPageURL(config SourceConfig, page int) (string, error) {
	u, err := url.Parse(config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	q := u.Query()
	if config.APIKey != "" {
		q.Set("serviceKey", config.APIKey)
	}
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *APIFeedStrategy) toRaw(config SourceConfig, item feedItem) RawAnnouncement {
	raw := RawAnnouncement{
		Title:         item.Title,
		BodyHTML:      item.Body,
		ExternalID:    item.ID,
		AgencyID:      config.AgencyID,
		SourceURL:     item.DetailURL,
		AttachmentURL: item.AttachmentURL,
		AnnouncedRaw:  item.AnnouncedISO,
		DeadlineRaw:   item.DeadlineISO,
		Extra:         make(map[string]string),
	}
	if item.Eligibility != nil {
		if data, err := json.Marshal(item.Eligibility); err == nil {
			raw.Extra["api_eligibility"] = string(data)
		}
	}
	return raw
}

func decodeFeed(r io.Reader) (*feedEnvelope, error) {
	var envelope feedEnvelope
	if err := json.NewDecoder(r).Decode(&envelope); err != nil {
		return nil, err
	}
	return &envelope, nil
}

// parseFeedDate accepts the date shapes Korean open APIs actually emit.
func parseFeedDate(s string) (time.Time, bool) {
	for _, layout := range []string{"2006-01-02", "20060102", "2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, seoulLocation); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
