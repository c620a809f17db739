package ingest

import "testing"

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		expected string
	}{
		{
			name:     "strips tags and collapses whitespace",
			html:     "<div><p>지원  대상:</p>\n\n<p>중소기업</p></div>",
			expected: "지원 대상: 중소기업",
		},
		{
			name:     "script content dropped by sanitizer",
			html:     `<p>공고문</p><script>alert("x")</script>`,
			expected: "공고문",
		},
		{
			name:     "plain text passes through",
			html:     "TRL 6~8 단계",
			expected: "TRL 6~8 단계",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HTMLToText(SanitizeHTML(tt.html))
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestTruncateTextKeepsValidUTF8(t *testing.T) {
	s := "한국산업기술기획평가원"
	got := TruncateText(s, 10)
	if len(got) > 10 {
		t.Fatalf("expected at most 10 bytes, got %d", len(got))
	}
	for _, r := range got {
		if r == '�' {
			t.Fatal("truncation split a multi-byte rune")
		}
	}
}
