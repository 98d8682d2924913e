// Package portal provides access to the ANS open-data portal (dadosabertos.ans.gov.br),
// an Apache-style directory listing of public datasets.
package portal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ans_transparency/pkg/core/config"
	"ans_transparency/pkg/core/logging"
	"ans_transparency/pkg/core/metrics"
)

// ErrHTTPStatus marks a response other than 200 OK.
var ErrHTTPStatus = eris.New("portal: unexpected HTTP status")

// Link is an anchor found on a listing page.
type Link struct {
	Text string
	Href string
	URL  string // Href resolved against the page URL
}

// Name is the visible label of the link, falling back to the last path segment of Href.
func (l Link) Name() string {
	if t := strings.TrimSpace(l.Text); t != "" {
		return t
	}
	h := strings.TrimSuffix(l.Href, "/")
	if i := strings.LastIndex(h, "/"); i >= 0 {
		h = h[i+1:]
	}
	return h
}

// Client fetches portal pages and files. Every request has a fixed timeout and
// is never retried.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewClient creates a portal client from the portal settings.
func NewClient(cfg config.Portal, logger *zap.Logger, m *metrics.Metrics) *Client {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		userAgent:  cfg.UserAgent,
		logger:     logging.OrNop(logger),
		metrics:    metrics.OrDiscard(m),
	}
}

// Get downloads url and returns the body.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	body, err := c.get(ctx, url)
	if err != nil {
		c.metrics.PagesFetched.WithLabelValues("error").Inc()
		return nil, err
	}
	c.metrics.PagesFetched.WithLabelValues("ok").Inc()
	return body, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "portal: rate limit wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "portal: build request %s", url)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "portal: GET %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Wrap(ErrHTTPStatus, fmt.Sprintf("GET %s returned %d", url, resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "portal: read body %s", url)
	}
	return body, nil
}

// Links fetches a listing page and returns its anchors in document order.
func (c *Client) Links(ctx context.Context, pageURL string) ([]Link, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, eris.Wrapf(err, "portal: parse url %s", pageURL)
	}

	body, err := c.Get(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, eris.Wrapf(err, "portal: parse html %s", pageURL)
	}

	var links []Link
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "?") || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		links = append(links, Link{
			Text: strings.TrimSpace(s.Text()),
			Href: href,
			URL:  base.ResolveReference(ref).String(),
		})
	})
	return links, nil
}

// DirURL makes sure a directory URL ends with a slash so relative links resolve inside it.
func DirURL(u string) string {
	if strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}
