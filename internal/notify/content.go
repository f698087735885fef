package notify

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/sells-group/watchman/internal/model"
)

const subjectPrefix = "Portfolio Watchman"

var md = goldmark.New()

// Content is a rendered notification.
type Content struct {
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html,omitempty"`
}

// BuildContent renders the escalation message for a daily state.
func BuildContent(ds model.DailyState, top *model.Detection) Content {
	subject := fmt.Sprintf("%s: %s", subjectPrefix, ds.State)
	text := ds.Summary
	markdown := "**" + ds.Summary + "**"

	if top != nil {
		subject += " — " + top.Ticker
		text += "\n\nTop item: " + top.Title
		markdown += "\n\nTop item: " + top.Title
		if top.URL != "" {
			text += "\nSource: " + top.URL
			markdown += "\n\nSource: <" + top.URL + ">"
		}
		if top.Explanation != "" {
			markdown += "\n\n`" + top.Explanation + "`"
		}
	}

	return Content{Subject: subject, Text: text, HTML: render(markdown)}
}

// BuildQuietLogContent renders the quiet-log digest message.
func BuildQuietLogContent(quietCount int, date string) Content {
	text := fmt.Sprintf("%d items were automatically suppressed or quarantined on %s. "+
		"Review the quiet log to ensure no important signals were missed.", quietCount, date)
	return Content{
		Subject: subjectPrefix + ": Quiet Log Alert",
		Text:    text,
		HTML:    render(text),
	}
}

func render(markdown string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return ""
	}
	return strings.TrimSpace(buf.String())
}
