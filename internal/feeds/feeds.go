// Package feeds reads company press-release feeds (RSS or Atom).
package feeds

import (
	"bytes"
	"context"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"
	"github.com/rotisserie/eris"

	"github.com/sells-group/watchman/internal/fetcher"
)

// MaxItems caps how many new items one poll reports per feed.
const MaxItems = 10

// maxExcerpt bounds the stored body excerpt.
const maxExcerpt = 1000

// Item is one feed entry.
type Item struct {
	GUID      string     `json:"guid"`
	Title     string     `json:"title"`
	Link      string     `json:"link"`
	Published *time.Time `json:"published,omitempty"`
	Excerpt   string     `json:"excerpt,omitempty"`
}

// Reader fetches and parses feeds.
type Reader struct {
	f      fetcher.Fetcher
	parser *gofeed.Parser
}

// NewReader creates a feed reader.
func NewReader(f fetcher.Fetcher) *Reader {
	return &Reader{f: f, parser: gofeed.NewParser()}
}

// FetchNew returns the items published after the one identified by lastGUID,
// newest first and capped at MaxItems.
func (r *Reader) FetchNew(ctx context.Context, feedURL, lastGUID string) ([]Item, error) {
	body, err := r.f.Get(ctx, feedURL)
	if err != nil {
		return nil, eris.Wrapf(err, "feeds: fetch %s", feedURL)
	}
	feed, err := r.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrapf(err, "feeds: parse %s", feedURL)
	}

	items := make([]Item, 0, len(feed.Items))
	for _, it := range feed.Items {
		if item, ok := parseItem(it); ok {
			items = append(items, item)
		}
	}
	sortNewestFirst(items)
	return NewSince(items, lastGUID), nil
}

// sortNewestFirst orders dated items newest first and puts undated items
// last, each group keeping feed order.
func sortNewestFirst(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].Published, items[j].Published
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}

// NewSince returns the items before lastGUID in a newest-first list, capped
// at MaxItems. An unknown cursor treats every item as new.
func NewSince(items []Item, lastGUID string) []Item {
	out := items
	if lastGUID != "" {
		for i, it := range items {
			if it.GUID == lastGUID {
				out = items[:i]
				break
			}
		}
	}
	return out[:min(len(out), MaxItems)]
}

func parseItem(it *gofeed.Item) (Item, bool) {
	title := strings.TrimSpace(it.Title)
	link := strings.TrimSpace(it.Link)
	guid := strings.TrimSpace(it.GUID)
	if guid == "" {
		guid = link
	}
	if title == "" || guid == "" {
		return Item{}, false
	}

	item := Item{GUID: guid, Title: title, Link: link}
	switch {
	case it.PublishedParsed != nil:
		item.Published = it.PublishedParsed
	case it.UpdatedParsed != nil:
		item.Published = it.UpdatedParsed
	}

	html := it.Content
	if html == "" {
		html = it.Description
	}
	item.Excerpt = excerpt(html, link)
	return item, true
}

// excerpt extracts readable text from an item's HTML body.
func excerpt(html, link string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	pageURL, _ := url.Parse(link)
	if !strings.Contains(html, "<") {
		return truncate(strings.Join(strings.Fields(html), " "))
	}
	article, err := readability.FromReader(strings.NewReader("<html><body>"+html+"</body></html>"), pageURL)
	if err != nil {
		return ""
	}
	return truncate(strings.Join(strings.Fields(article.TextContent), " "))
}

func truncate(s string) string {
	if len(s) <= maxExcerpt {
		return s
	}
	n := maxExcerpt
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	cut := s[:n]
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut + "…"
}
