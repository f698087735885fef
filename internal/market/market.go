// Package market supplies same-day price moves for watched tickers.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Provider returns the fractional daily move for a ticker on a date
// (YYYY-MM-DD), e.g. -0.15 for a 15% drop. A nil move means no data.
type Provider interface {
	DailyMove(ctx context.Context, ticker, date string) (*float64, error)
}

// FileProvider serves moves from a JSON document shaped
// {"2026-10-15": {"ABCD": -0.22}}. It is the default until a market data
// vendor is wired in.
type FileProvider struct {
	path string

	once  sync.Once
	moves map[string]map[string]float64
	err   error
}

// NewFileProvider creates a provider reading path on first use.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

func (p *FileProvider) load() {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		zap.L().Debug("market: stub file missing, no moves available", zap.String("path", p.path))
		p.moves = map[string]map[string]float64{}
		return
	}
	if err != nil {
		p.err = eris.Wrapf(err, "market: read %s", p.path)
		return
	}
	if err := json.Unmarshal(data, &p.moves); err != nil {
		p.err = eris.Wrapf(err, "market: decode %s", p.path)
	}
}

// DailyMove implements Provider.
func (p *FileProvider) DailyMove(_ context.Context, ticker, date string) (*float64, error) {
	p.once.Do(p.load)
	if p.err != nil {
		return nil, p.err
	}
	v, ok := p.moves[date][ticker]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

// Static is an in-memory Provider keyed by date then ticker.
type Static map[string]map[string]float64

// DailyMove implements Provider.
func (s Static) DailyMove(_ context.Context, ticker, date string) (*float64, error) {
	v, ok := s[date][ticker]
	if !ok {
		return nil, nil
	}
	return &v, nil
}
