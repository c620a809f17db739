package ingest

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed config/sources.yaml
var sourcesYAML embed.FS

// Registry holds the configuration for all agency sources.
type Registry struct {
	Sources []SourceConfig `yaml:"sources"`
}

// FetchConfig defines politeness parameters for a source. Zero values fall
// back to the fetcher defaults.
type FetchConfig struct {
	TimeoutSeconds   int     `yaml:"timeout_seconds,omitempty"`    // default 30
	RequestsPerMin   float64 `yaml:"requests_per_minute,omitempty"` // default 12
	MinDelaySeconds  float64 `yaml:"min_delay_seconds,omitempty"`  // default 2
	JitterSeconds    float64 `yaml:"jitter_seconds,omitempty"`     // default 1
	SuspendAfter     int     `yaml:"suspend_after,omitempty"`      // consecutive blocks before cooldown, default 3
	CooldownMinutes  int     `yaml:"cooldown_minutes,omitempty"`   // default 60
	AcceptLanguage   string  `yaml:"accept_language,omitempty"`    // default "ko-KR,ko;q=0.9,en;q=0.5"
}

// SourceConfig defines a single agency announcement source.
type SourceConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	AgencyID string `yaml:"agency_id"`
	Strategy string `yaml:"strategy"` // "api_feed", "html_list"
	BaseURL  string `yaml:"base_url,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`
	MaxPages int    `yaml:"max_pages,omitempty"`

	Fetch FetchConfig `yaml:"fetch,omitempty"`

	// html_list strategy
	Selectors  SelectorConfig   `yaml:"selectors,omitempty"`
	Pagination PaginationConfig `yaml:"pagination,omitempty"`
	Detail     DetailConfig     `yaml:"detail,omitempty"`
}

type PaginationConfig struct {
	Next string `yaml:"next,omitempty"` // CSS selector for the next page link
}

type SelectorConfig struct {
	Container  string `yaml:"container,omitempty"` // list item wrapper
	Link       string `yaml:"link,omitempty"`
	LinkAttr   string `yaml:"link_attr,omitempty"` // default "href"
	Title      string `yaml:"title,omitempty"`
	ExternalID string `yaml:"external_id,omitempty"` // element or attr carrying the agency's own id
	Date       string `yaml:"date,omitempty"`
}

type DetailConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Body       string `yaml:"body,omitempty"`       // CSS selector for the announcement body
	Attachment string `yaml:"attachment,omitempty"` // CSS selector for the 공고문 attachment link
	Deadline   string `yaml:"deadline,omitempty"`
}

// LoadRegistry reads the embedded sources.yaml. The path parameter is a
// filesystem fallback for local development.
func LoadRegistry(path string) (*Registry, error) {
	data, err := sourcesYAML.ReadFile("config/sources.yaml")
	if err != nil {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}

	// Expand environment variables within the YAML content (e.g. ${SMTECH_API_KEY})
	expanded := os.ExpandEnv(string(data))

	var reg Registry
	if err := yaml.Unmarshal([]byte(expanded), &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Find returns the config for a source id.
func (r *Registry) Find(sourceID string) (*SourceConfig, error) {
	for i := range r.Sources {
		if r.Sources[i].ID == sourceID {
			return &r.Sources[i], nil
		}
	}
	return nil, fmt.Errorf("source id %q not found in registry", sourceID)
}
