// Package edgar reads a company's recent SEC filings from the EDGAR
// submissions API.
package edgar

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/watchman/internal/fetcher"
)

const (
	// DefaultBaseURL serves the per-company submissions JSON.
	DefaultBaseURL = "https://data.sec.gov"
	// ArchivesURL is the root of filing documents.
	ArchivesURL = "https://www.sec.gov/Archives/edgar/data"
	// FirstRunLimit is how many filings are reported for a ticker that has
	// never been polled.
	FirstRunLimit = 5
)

// Filing is one entry from a company's recent filings list.
type Filing struct {
	Form            string `json:"form"`
	FilingDate      string `json:"filing_date"`
	AccessionNumber string `json:"accession_number"`
	PrimaryDocument string `json:"primary_document,omitempty"`
	Description     string `json:"description,omitempty"`
	Items           string `json:"items,omitempty"`
	IsAmendment     bool   `json:"is_amendment"`
}

type submission struct {
	Name    string `json:"name"`
	Filings struct {
		Recent filingList `json:"recent"`
	} `json:"filings"`
}

type filingList struct {
	AccessionNumber []string `json:"accessionNumber"`
	FilingDate      []string `json:"filingDate"`
	Form            []string `json:"form"`
	PrimaryDoc      []string `json:"primaryDocument"`
	PrimaryDocDesc  []string `json:"primaryDocDescription"`
	Items           []string `json:"items"`
}

// Client reads filings through a Fetcher.
type Client struct {
	f       fetcher.Fetcher
	baseURL string
}

// NewClient creates an EDGAR client. An empty baseURL uses DefaultBaseURL.
func NewClient(f fetcher.Fetcher, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{f: f, baseURL: strings.TrimRight(baseURL, "/")}
}

// PadCIK left-pads a CIK with zeros to the ten digits EDGAR expects.
func PadCIK(cik string) string {
	cik = strings.TrimSpace(cik)
	if len(cik) >= 10 {
		return cik
	}
	return strings.Repeat("0", 10-len(cik)) + cik
}

// FetchFilings returns the company's recent filings, newest first.
func (c *Client) FetchFilings(ctx context.Context, cik string) ([]Filing, error) {
	url := fmt.Sprintf("%s/submissions/CIK%s.json", c.baseURL, PadCIK(cik))

	var sub submission
	found, err := c.f.GetJSON(ctx, url, &sub)
	if err != nil {
		return nil, eris.Wrapf(err, "edgar: fetch submissions for CIK %s", cik)
	}
	if !found {
		return nil, eris.Errorf("edgar: no submissions for CIK %s", cik)
	}

	recent := sub.Filings.Recent
	filings := make([]Filing, 0, len(recent.AccessionNumber))
	for i, acc := range recent.AccessionNumber {
		form := safeIndex(recent.Form, i)
		filings = append(filings, Filing{
			Form:            form,
			FilingDate:      safeIndex(recent.FilingDate, i),
			AccessionNumber: acc,
			PrimaryDocument: safeIndex(recent.PrimaryDoc, i),
			Description:     safeIndex(recent.PrimaryDocDesc, i),
			Items:           safeIndex(recent.Items, i),
			IsAmendment:     strings.Contains(form, "/A"),
		})
	}
	return filings, nil
}

// DetectNew returns the filings newer than lastAccession. With no cursor it
// returns the newest FirstRunLimit filings. If the cursor is not in the list
// every filing is treated as new.
func DetectNew(filings []Filing, lastAccession string) []Filing {
	if lastAccession == "" {
		return filings[:min(len(filings), FirstRunLimit)]
	}
	for i, f := range filings {
		if f.AccessionNumber == lastAccession {
			return filings[:i]
		}
	}
	return filings
}

// FilingURL builds the archive URL for a filing. Without a primary document
// it points at the filing folder.
func FilingURL(cik, accession, primaryDoc string) string {
	cikInt := strings.TrimLeft(strings.TrimSpace(cik), "0")
	if n, err := strconv.ParseInt(cik, 10, 64); err == nil {
		cikInt = strconv.FormatInt(n, 10)
	}
	folder := fmt.Sprintf("%s/%s/%s/", ArchivesURL, cikInt, strings.ReplaceAll(accession, "-", ""))
	return folder + primaryDoc
}

func safeIndex(s []string, i int) string {
	if i < len(s) {
		return s[i]
	}
	return ""
}
