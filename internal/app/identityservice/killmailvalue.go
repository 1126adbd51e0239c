package identityservice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
)

const (
	zkillboardBaseURL = "https://zkillboard.com/api"
	imageServerURL    = "https://images.evetech.net"
)

// KillmailValue returns the total ISK value of a killmail as appraised
// by zKillboard. Unlike the identity lookups this is a hard operation:
// a value that cannot be fetched or parsed is returned as an error even
// after all retries, as a missing value would corrupt statistics.
func (s *IdentityService) KillmailValue(ctx context.Context, killmailID int64) (float64, error) {
	wrapErr := func(err error) error {
		return fmt.Errorf("killmail value %d: %w", killmailID, err)
	}
	url := fmt.Sprintf("%s/killID/%d/", zkillboardBaseURL, killmailID)
	var data []struct {
		KillmailID int64 `json:"killmail_id"`
		Zkb        struct {
			TotalValue float64 `json:"totalValue"`
		} `json:"zkb"`
	}
	p := s.retry
	if p.MaxAttempts < 5 {
		p.MaxAttempts = 5
	}
	err := s.withPolicy(ctx, p, "KillmailValue", func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return resp, fmt.Errorf("unexpected status %s", resp.Status)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp, err
		}
		if err := json.Unmarshal(body, &data); err != nil {
			return resp, err
		}
		if len(data) == 0 {
			return resp, fmt.Errorf("empty response")
		}
		return resp, nil
	})
	if err != nil {
		return 0, wrapErr(err)
	}
	return data[0].Zkb.TotalValue, nil
}

// SaveCorporationLogo downloads the logo of a corporation from the
// image server and writes it to path.
func (s *IdentityService) SaveCorporationLogo(ctx context.Context, corporationID int64, path string) error {
	wrapErr := func(err error) error {
		return fmt.Errorf("save corporation logo %d: %w", corporationID, err)
	}
	url := fmt.Sprintf("%s/corporations/%d/logo?size=256", imageServerURL, corporationID)
	var body []byte
	err := s.withRetry(ctx, "SaveCorporationLogo", func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return resp, fmt.Errorf("unexpected status %s", resp.Status)
		}
		body, err = io.ReadAll(resp.Body)
		return resp, err
	})
	if err != nil {
		return wrapErr(err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return wrapErr(err)
	}
	return nil
}
