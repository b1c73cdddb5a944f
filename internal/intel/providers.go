package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// reputation is the normalized outcome of one provider lookup, also
// the shape cached between lookups.
type reputation struct {
	Malicious  bool    `json:"malicious"`
	Confidence float64 `json:"confidence"` // [0,1]
	AbuseScore int     `json:"abuse_score,omitempty"`
	DomainAge  int     `json:"domain_age_days,omitempty"`
}

func (e *Enricher) getJSON(ctx context.Context, rawURL string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// lookupURL queries urlscan.io's search API for prior verdicts on the
// exact URL.
func (e *Enricher) lookupURL(ctx context.Context, target string) (reputation, error) {
	var payload struct {
		Results []struct {
			Verdicts struct {
				Overall struct {
					Score     int  `json:"score"`
					Malicious bool `json:"malicious"`
				} `json:"overall"`
			} `json:"verdicts"`
		} `json:"results"`
	}

	endpoint := fmt.Sprintf("%s/search/?q=page.url:%s&size=1",
		e.cfg.URLScanURL, url.QueryEscape(fmt.Sprintf("%q", target)))
	err := e.getJSON(ctx, endpoint, map[string]string{"API-Key": e.cfg.URLScanKey}, &payload)
	if err != nil {
		return reputation{}, err
	}
	if len(payload.Results) == 0 {
		return reputation{}, nil
	}
	verdict := payload.Results[0].Verdicts.Overall
	return reputation{
		Malicious:  verdict.Malicious,
		Confidence: float64(verdict.Score) / 100,
	}, nil
}

// lookupIP queries AbuseIPDB for the sender IP's abuse confidence.
func (e *Enricher) lookupIP(ctx context.Context, ip string) (reputation, error) {
	var payload struct {
		Data struct {
			AbuseConfidenceScore int `json:"abuseConfidenceScore"`
		} `json:"data"`
	}

	endpoint := fmt.Sprintf("%s/check?ipAddress=%s&maxAgeInDays=90",
		e.cfg.AbuseIPDBURL, url.QueryEscape(ip))
	err := e.getJSON(ctx, endpoint, map[string]string{"Key": e.cfg.AbuseIPDBKey}, &payload)
	if err != nil {
		return reputation{}, err
	}
	return reputation{AbuseScore: payload.Data.AbuseConfidenceScore}, nil
}

// lookupDomainAge queries the WHOIS API for the sender domain's
// creation date and reports its age in days.
func (e *Enricher) lookupDomainAge(ctx context.Context, domainName string) (reputation, error) {
	var payload struct {
		WhoisRecord struct {
			CreatedDate string `json:"createdDate"`
		} `json:"WhoisRecord"`
	}

	endpoint := fmt.Sprintf("%s?apiKey=%s&domainName=%s&outputFormat=JSON",
		e.cfg.WhoisURL, url.QueryEscape(e.cfg.WhoisKey), url.QueryEscape(domainName))
	err := e.getJSON(ctx, endpoint, nil, &payload)
	if err != nil {
		return reputation{}, err
	}
	if payload.WhoisRecord.CreatedDate == "" {
		return reputation{DomainAge: -1}, nil
	}
	created, err := parseWhoisDate(payload.WhoisRecord.CreatedDate)
	if err != nil {
		return reputation{DomainAge: -1}, nil
	}
	age := int(e.now().Sub(created).Hours() / 24)
	return reputation{DomainAge: age}, nil
}

// parseWhoisDate tolerates the handful of timestamp layouts WHOIS
// records use.
func parseWhoisDate(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05Z0700",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
