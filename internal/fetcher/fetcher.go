// Package fetcher retrieves documents from the public sources a poll cycle
// reads: SEC EDGAR, ClinicalTrials.gov and company press-release feeds.
package fetcher

import (
	"context"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned (wrapped) when the source answers 404.
var ErrNotFound = eris.New("fetcher: not found")

// Fetcher defines the interface for reading remote documents.
type Fetcher interface {
	// Get fetches the URL and returns the full response body.
	Get(ctx context.Context, url string) ([]byte, error)

	// GetJSON fetches the URL and decodes the body into v. It reports false
	// with a nil error when the resource does not exist.
	GetJSON(ctx context.Context, url string, v any) (bool, error)
}
