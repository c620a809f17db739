package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/paul828919/CONNECT-sub002/internal/db"
	"github.com/paul828919/CONNECT-sub002/internal/models"
)

// OrgProfileClient reads organization profiles from the account service.
// Profiles are owned there; this service never writes them.
type OrgProfileClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewOrgProfileClient(baseURL, token string) *OrgProfileClient {
	return &OrgProfileClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *OrgProfileClient) GetOrganization(ctx context.Context, id uuid.UUID) (*models.OrganizationProfile, error) {
	var profile models.OrganizationProfile
	if err := c.getJSON(ctx, fmt.Sprintf("%s/internal/v1/orgs/%s", c.baseURL, id), &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (c *OrgProfileClient) ListOrganizationIDs(ctx context.Context) ([]uuid.UUID, error) {
	var resp struct {
		IDs []uuid.UUID `json:"ids"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/internal/v1/orgs/ids", &resp); err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

func (c *OrgProfileClient) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("profile service request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return db.ErrNotFound
	case resp.StatusCode >= 300:
		return fmt.Errorf("profile service returned %d for %s", resp.StatusCode, url)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding profile service response: %w", err)
	}
	return nil
}
