package ingest

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

var htmlPolicy = bluemonday.UGCPolicy()

// HTMLToText converts HTML to plain text, collapsing whitespace.
func HTMLToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return normalizeSpace(html)
	}
	return normalizeSpace(doc.Text())
}

// SanitizeHTML strips scripts and unsafe tags before storage.
func SanitizeHTML(html string) string {
	return htmlPolicy.Sanitize(sanitizeUTF8(html))
}

// sanitizeUTF8 removes invalid byte sequences that break Postgres text columns.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}

// normalizeSpace collapses all whitespace runs to single spaces and trims.
// Titles and agency names pass through this before fingerprinting so cosmetic
// reformatting on the source page does not look like a content change.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// CanonicalizeURL lowercases the host, drops the fragment and strips tracking
// parameters so the same announcement reached via different links maps to one
// URL.
func CanonicalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for k := range q {
		if strings.HasPrefix(k, "utm_") {
			q.Del(k)
		}
	}
	for _, p := range []string{"fbclid", "gclid", "mc_cid", "mc_eid", "ref", "session", "jsessionid"} {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// TruncateText cuts a string to max length, appending ellipsis if truncated.
func TruncateText(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	cut := maxLen
	if maxLen > 3 {
		cut = maxLen - 3
	}
	// Back up to a rune boundary so Hangul never gets split mid-character.
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if maxLen > 3 {
		return text[:cut] + "..."
	}
	return text[:cut]
}
