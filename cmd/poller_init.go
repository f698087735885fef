package main

import (
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/watchman/internal/config"
	"github.com/sells-group/watchman/internal/ctgov"
	"github.com/sells-group/watchman/internal/edgar"
	"github.com/sells-group/watchman/internal/enrich"
	"github.com/sells-group/watchman/internal/feeds"
	"github.com/sells-group/watchman/internal/fetcher"
	"github.com/sells-group/watchman/internal/market"
	"github.com/sells-group/watchman/internal/model"
	"github.com/sells-group/watchman/internal/notify"
	"github.com/sells-group/watchman/internal/poll"
	"github.com/sells-group/watchman/internal/store"
	anthropicpkg "github.com/sells-group/watchman/pkg/anthropic"
)

// buildPoller wires sources, enrichment and notification channels from
// config around st.
func buildPoller(c *config.Config, st store.Store) *poll.Poller {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  c.Sources.UserAgent,
		Timeout:    time.Duration(c.Sources.TimeoutSec) * time.Second,
		MaxRetries: c.Sources.MaxRetries,
	})

	var feedSrc poll.FeedSource
	if c.Sources.Feeds.Enabled {
		feedSrc = feeds.NewReader(f)
	}

	var interpreter enrich.Interpreter
	if c.Enrich.Enabled && c.Anthropic.Key != "" {
		client := anthropicpkg.NewClient(c.Anthropic.Key, c.Anthropic.BaseURL)
		interpreter = enrich.NewClaudeInterpreter(client, c.Enrich.Model, nil)
	}

	gate := notify.NewGate(buildSenders(c.Notify), st, c.Notify.QuietThreshold)

	zap.L().Debug("poller configured",
		zap.String("market_provider", c.Sources.Market.Provider),
		zap.Bool("feeds", feedSrc != nil),
		zap.Bool("enrich", interpreter != nil),
	)

	return poll.New(st,
		edgar.NewClient(f, c.Sources.EDGAR.BaseURL),
		feedSrc,
		ctgov.NewClient(f, c.Sources.CTGov.BaseURL),
		buildMarket(c.Sources.Market),
		interpreter,
		gate,
		poll.Options{
			Concurrency: c.Poll.Concurrency,
			UserID:      c.Notify.UserID,
			EnrichBudget: enrich.Budget{
				MaxPerRun:          c.Enrich.MaxPerRun,
				MaxPerTickerPerDay: c.Enrich.MaxPerTickerPerDay,
			},
			QuietThreshold: c.Notify.QuietThreshold,
		},
	)
}

func buildMarket(c config.MarketConfig) market.Provider {
	if c.Provider == "stub" && c.StubPath != "" {
		return market.NewFileProvider(c.StubPath)
	}
	return market.Static{}
}

// buildSenders maps each configured channel to a sender. Channels left out
// fall back to logging inside the gate.
func buildSenders(c config.NotifyConfig) map[model.NotificationChannel]notify.Sender {
	senders := map[model.NotificationChannel]notify.Sender{}
	if c.EmailAPIKey != "" {
		senders[model.ChannelEmail] = notify.NewEmailSender(c.EmailAPIKey, c.EmailFrom, c.EmailEndpoint)
	}
	if c.PushWebhookURL != "" {
		senders[model.ChannelPush] = notify.NewWebhookSender(c.PushWebhookURL)
	}
	return senders
}
