// trigger enqueues an ingestion run through the admin API. It mints its own
// short-lived token, so it needs the same JWT_SECRET as the server.
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/paul828919/CONNECT-sub002/internal/auth"
)

func main() {
	baseURL := flag.String("base-url", "http://localhost:8081", "API base URL")
	source := flag.String("source", "", "Source ID to ingest (empty means all sources)")
	flag.Parse()

	token, err := auth.GenerateServiceToken("ops-trigger", auth.ScopeAdmin, 5*time.Minute)
	if err != nil {
		fmt.Printf("Error minting token: %v\n", err)
		os.Exit(1)
	}

	url := *baseURL + "/api/v1/admin/ingest/all"
	if *source != "" {
		url = *baseURL + "/api/v1/admin/ingest/source/" + *source
	}

	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 15 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	fmt.Printf("Response Status: %s\n%s\n", resp.Status, body)
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
