package ctgov

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/watchman/internal/fetcher"
)

// DefaultBaseURL is the ClinicalTrials.gov v2 API root.
const DefaultBaseURL = "https://clinicaltrials.gov/api/v2"

// Client reads study records from the registry.
type Client struct {
	f       fetcher.Fetcher
	baseURL string
}

// NewClient creates a registry client. An empty baseURL uses DefaultBaseURL.
func NewClient(f fetcher.Fetcher, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{f: f, baseURL: strings.TrimRight(baseURL, "/")}
}

// FetchStudy returns the current record for nctID, or nil when the registry
// does not know the trial.
func (c *Client) FetchStudy(ctx context.Context, nctID string) (Snapshot, error) {
	body, err := c.f.Get(ctx, c.baseURL+"/studies/"+nctID)
	if err != nil {
		if eris.Is(err, fetcher.ErrNotFound) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "ctgov: fetch %s", nctID)
	}
	return ParseSnapshot(body)
}
