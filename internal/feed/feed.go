// Package feed fetches and normalizes podcast RSS feeds.
package feed

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"watchpod/internal/services"
)

// Entry is one episode item from a feed, reduced to the fields the sync
// pipeline cares about.
type Entry struct {
	GUID            string
	Title           string
	Description     string
	AudioURL        string
	PubDate         *time.Time
	DurationSeconds int
	FileSize        int64
}

// Feed is a parsed podcast feed.
type Feed struct {
	Title       string
	Description string
	ImageURL    string
	Entries     []Entry
}

// Fetcher retrieves a feed by URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Feed, error)
}

// HTTPFetcher fetches feeds over HTTP with a bounded timeout per call.
type HTTPFetcher struct {
	parser  *gofeed.Parser
	timeout time.Duration
}

// NewHTTPFetcher constructs a fetcher. A zero timeout disables the bound.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: timeout}
	parser.UserAgent = "watchpod"
	return &HTTPFetcher{parser: parser, timeout: timeout}
}

// Fetch downloads and parses the feed at url.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Feed, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	parsed, err := f.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "feed", "fetch", "fetch feed "+url, err)
	}
	return normalize(parsed), nil
}

func normalize(parsed *gofeed.Feed) *Feed {
	result := &Feed{
		Title:       strings.TrimSpace(parsed.Title),
		Description: strings.TrimSpace(parsed.Description),
	}
	if parsed.Image != nil {
		result.ImageURL = parsed.Image.URL
	}
	if result.ImageURL == "" && parsed.ITunesExt != nil {
		result.ImageURL = parsed.ITunesExt.Image
	}

	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		audioURL := audioEnclosure(item)
		if audioURL == "" {
			continue
		}
		entry := Entry{
			GUID:        entryGUID(item, audioURL),
			Title:       strings.TrimSpace(item.Title),
			Description: strings.TrimSpace(item.Description),
			AudioURL:    audioURL,
			PubDate:     item.PublishedParsed,
		}
		if entry.PubDate == nil {
			entry.PubDate = item.UpdatedParsed
		}
		if item.ITunesExt != nil {
			entry.DurationSeconds = ParseDuration(item.ITunesExt.Duration)
		}
		entry.FileSize = enclosureLength(item, audioURL)
		result.Entries = append(result.Entries, entry)
	}
	return result
}

// audioEnclosure picks the first enclosure that looks like audio. Items
// without one are not downloadable and are skipped by the caller.
func audioEnclosure(item *gofeed.Item) string {
	for _, enclosure := range item.Enclosures {
		if enclosure == nil || enclosure.URL == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(enclosure.Type), "audio/") {
			return enclosure.URL
		}
	}
	// Some feeds omit the MIME type. Fall back to the first enclosure.
	for _, enclosure := range item.Enclosures {
		if enclosure != nil && enclosure.URL != "" {
			return enclosure.URL
		}
	}
	return ""
}

func enclosureLength(item *gofeed.Item, audioURL string) int64 {
	for _, enclosure := range item.Enclosures {
		if enclosure == nil || enclosure.URL != audioURL {
			continue
		}
		if length, err := strconv.ParseInt(enclosure.Length, 10, 64); err == nil && length > 0 {
			return length
		}
	}
	return 0
}

func entryGUID(item *gofeed.Item, audioURL string) string {
	if guid := strings.TrimSpace(item.GUID); guid != "" {
		return guid
	}
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	return audioURL
}

// ParseDuration converts an iTunes duration string into seconds. Accepts
// "HH:MM:SS", "MM:SS", or a plain seconds count. Returns zero for anything
// unparseable.
func ParseDuration(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}

	parts := strings.Split(raw, ":")
	if len(parts) > 3 {
		return 0
	}
	total := 0
	for _, part := range parts {
		value, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || value < 0 {
			return 0
		}
		total = total*60 + value
	}
	return total
}
