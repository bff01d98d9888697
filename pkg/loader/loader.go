// Package loader turns filings and news articles into documents ready for
// extraction.
package loader

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/relgraph/backend/internal/util"
	"github.com/relgraph/backend/pkg/common"
	"github.com/relgraph/backend/pkg/logger"
)

const (
	DefaultMaxDocumentChars = 100_000
	DefaultMaxSectionChars  = 50_000
)

var ErrEmptyFiling = errors.New("filing has no text")

// Filing describes one source text to load. Location is interpreted by the
// Fetcher: a URL, a file path or an object key.
type Filing struct {
	ID         string    `json:"id"`
	Location   string    `json:"location"`
	Ticker     string    `json:"ticker"`
	SourceType string    `json:"source_type"`
	Date       time.Time `json:"date"`
}

// Raw is fetched content before conversion to text.
type Raw struct {
	Body        []byte
	ContentType string
}

// Fetcher retrieves the raw bytes of a filing.
type Fetcher interface {
	Fetch(ctx context.Context, location string) (Raw, error)
}

type Loader struct {
	fetcher      Fetcher
	maxChars     int
	sectionChars int
}

type Option func(*Loader)

func WithMaxDocumentChars(n int) Option {
	return func(l *Loader) { l.maxChars = n }
}

func WithMaxSectionChars(n int) Option {
	return func(l *Loader) { l.sectionChars = n }
}

func New(f Fetcher, opts ...Option) *Loader {
	l := &Loader{
		fetcher:      f,
		maxChars:     DefaultMaxDocumentChars,
		sectionChars: DefaultMaxSectionChars,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load fetches a filing and converts it to a document. HTML is reduced to
// its readable text. For annual reports the business, risk factor and MD&A
// sections replace the full text when they can be located.
func (l *Loader) Load(ctx context.Context, f Filing) (common.Document, error) {
	raw, err := l.fetcher.Fetch(ctx, f.Location)
	if err != nil {
		return common.Document{}, fmt.Errorf("failed to fetch %s: %w", f.Location, err)
	}

	text := string(raw.Body)
	if isHTML(raw, f.Location) {
		text, err = HTMLToText(strings.NewReader(text), pageURL(f.Location))
		if err != nil {
			return common.Document{}, fmt.Errorf("failed to convert %s: %w", f.Location, err)
		}
	}
	text = util.CollapseWhitespace(util.SanitizePostgresText(text))

	if isAnnualReport(f.SourceType) {
		if sections := ExtractSections(text, l.sectionChars); len(sections) > 0 {
			text = JoinSections(sections)
		} else {
			logger.Debug("[Loader] No sections found, using full text", "filing", f.ID)
		}
	}
	text = util.TruncateRunes(text, l.maxChars)
	if strings.TrimSpace(text) == "" {
		return common.Document{}, fmt.Errorf("%s: %w", f.ID, ErrEmptyFiling)
	}

	return common.Document{
		ID:      f.ID,
		Content: text,
		Metadata: common.DocumentMetadata{
			Ticker:     common.NormalizeTicker(f.Ticker),
			Date:       f.Date,
			SourceType: f.SourceType,
		},
	}, nil
}

// LoadAll loads filings with at most concurrency fetches in flight. Failed
// filings are skipped and their errors joined into the returned error; the
// documents that loaded keep their input order.
func (l *Loader) LoadAll(ctx context.Context, filings []Filing, concurrency int) ([]common.Document, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	docs := make([]*common.Document, len(filings))
	errs := make([]error, len(filings))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, f := range filings {
		g.Go(func() error {
			doc, err := l.Load(gctx, f)
			if err != nil {
				logger.Warn("[Loader] Failed to load filing", "filing", f.ID, "err", err)
				errs[i] = err
				return nil
			}
			docs[i] = &doc
			return nil
		})
	}
	_ = g.Wait()

	out := make([]common.Document, 0, len(filings))
	for _, d := range docs {
		if d != nil {
			out = append(out, *d)
		}
	}
	return out, errors.Join(errs...)
}

func isAnnualReport(sourceType string) bool {
	return strings.EqualFold(strings.TrimSpace(sourceType), "10-K")
}

func isHTML(raw Raw, location string) bool {
	ct := raw.ContentType
	if ct == "" {
		ct = ContentTypeFor(location)
	}
	mediaType, _, _ := mime.ParseMediaType(ct)
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// ContentTypeFor guesses a content type from the extension of location.
func ContentTypeFor(location string) string {
	p := location
	if u, err := url.Parse(location); err == nil && u.Path != "" {
		p = u.Path
	}
	switch ext := strings.ToLower(path.Ext(p)); ext {
	case ".htm", ".html":
		return "text/html"
	case ".txt", "":
		return "text/plain"
	default:
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
		return "application/octet-stream"
	}
}

// Mux routes a location to the fetcher registered for its scheme. http
// and https fetchers receive the full URL, other schemes the part after
// "scheme://". Locations without a scheme use the "file" entry.
type Mux map[string]Fetcher

func (m Mux) Fetch(ctx context.Context, location string) (Raw, error) {
	scheme, rest, ok := strings.Cut(location, "://")
	if !ok {
		scheme, rest = "file", location
	}
	scheme = strings.ToLower(scheme)
	f, found := m[scheme]
	if !found {
		return Raw{}, fmt.Errorf("no fetcher for scheme %q", scheme)
	}
	if scheme == "http" || scheme == "https" {
		return f.Fetch(ctx, location)
	}
	return f.Fetch(ctx, rest)
}

func pageURL(location string) *url.URL {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" {
		return &url.URL{Scheme: "file", Path: location}
	}
	return u
}

// Cache memoizes fetched content and collapses concurrent fetches of the
// same key into one.
type Cache struct {
	mu    sync.RWMutex
	items map[string]Raw
	group singleflight.Group
}

func (c *Cache) Get(key string, load func() (Raw, error)) (Raw, error) {
	c.mu.RLock()
	if raw, ok := c.items[key]; ok {
		c.mu.RUnlock()
		return raw, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		if raw, ok := c.items[key]; ok {
			c.mu.RUnlock()
			return raw, nil
		}
		c.mu.RUnlock()

		raw, err := load()
		if err != nil {
			return Raw{}, err
		}
		c.mu.Lock()
		if c.items == nil {
			c.items = make(map[string]Raw)
		}
		c.items[key] = raw
		c.mu.Unlock()
		return raw, nil
	})
	return v.(Raw), err
}
