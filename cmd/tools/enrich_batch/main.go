// enrich_batch backfills eligibility profiles for programs whose rule-based
// extraction left fields open, one agency at a time through the admin API.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/paul828919/CONNECT-sub002/internal/auth"
)

type enrichResponse struct {
	Message string `json:"message"`
	Stats   struct {
		ProgramsScanned int `json:"programs_scanned"`
		ProgramsFilled  int `json:"programs_filled"`
		FieldsResolved  int `json:"fields_resolved"`
	} `json:"stats"`
}

func main() {
	baseURL := flag.String("base-url", "http://localhost:8081", "API base URL")
	agenciesCSV := flag.String("agencies", "", "Comma-separated agency IDs (empty means all)")
	batchSize := flag.Int("batch-size", 200, "Programs per request")
	rateLimitMs := flag.Int("rate-limit-ms", 1000, "Delay between agency calls in milliseconds")
	timeoutSec := flag.Int("timeout-sec", 300, "HTTP timeout in seconds")
	flag.Parse()

	token, err := auth.GenerateServiceToken("ops-enrich", auth.ScopeAdmin, time.Hour)
	if err != nil {
		fmt.Printf("Error minting token: %v\n", err)
		os.Exit(1)
	}

	agencies := []string{""}
	if *agenciesCSV != "" {
		agencies = agencies[:0]
		for _, a := range strings.Split(*agenciesCSV, ",") {
			if a = strings.TrimSpace(a); a != "" {
				agencies = append(agencies, a)
			}
		}
	}

	client := &http.Client{Timeout: time.Duration(*timeoutSec) * time.Second}
	failed := 0
	for i, agency := range agencies {
		if i > 0 {
			time.Sleep(time.Duration(*rateLimitMs) * time.Millisecond)
		}

		params := url.Values{}
		params.Set("limit", strconv.Itoa(*batchSize))
		if agency != "" {
			params.Set("agency", agency)
		}
		endpoint := *baseURL + "/api/v1/admin/enrich?" + params.Encode()

		req, err := http.NewRequest(http.MethodPost, endpoint, nil)
		if err != nil {
			fmt.Printf("[%s] request error: %v\n", labelFor(agency), err)
			failed++
			continue
		}
		req.Header.Set("Authorization", "Bearer "+token)

		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			fmt.Printf("[%s] call failed: %v\n", labelFor(agency), err)
			failed++
			continue
		}

		var body enrichResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK || decodeErr != nil {
			fmt.Printf("[%s] status=%d decode=%v\n", labelFor(agency), resp.StatusCode, decodeErr)
			failed++
			continue
		}

		fmt.Printf("[%s] scanned=%d filled=%d fields=%d in %s\n",
			labelFor(agency),
			body.Stats.ProgramsScanned, body.Stats.ProgramsFilled,
			body.Stats.FieldsResolved,
			time.Since(start).Round(time.Second))
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func labelFor(agency string) string {
	if agency == "" {
		return "all"
	}
	return agency
}
