package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"
)

// ConvertClient sends office documents to the document-conversion service
// and gets plain text back. Used for HWP attachments the PDF parser cannot
// read.
type ConvertClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewConvertClient(baseURL, token string) *ConvertClient {
	return &ConvertClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *ConvertClient) ToText(ctx context.Context, filename string, raw []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/convert/text", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Filename", path.Base(filename))
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("conversion service request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("conversion service returned %d", resp.StatusCode)
	}

	text, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("reading converted text: %w", err)
	}
	return string(text), nil
}
