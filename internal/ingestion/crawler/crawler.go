package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/yungbote/botforge-backend/internal/ingestion/ingesterr"
	"github.com/yungbote/botforge-backend/internal/platform/logger"
)

const (
	DefaultUserAgent       = "Mozilla/5.0 (compatible; Botforge-Bot/1.0)"
	DefaultTimeout         = 30 * time.Second
	DefaultMaxPages        = 10
	DefaultMaxLinksPerPage = 50
	maxBodyBytes           = 10 << 20
	maxRedirects           = 10
)

var (
	stripSelectors   = "script, style, nav, header, footer, .navigation"
	contentSelectors = []string{"main", "article", ".content", "#content", ".main"}
)

type Config struct {
	HTTPClient      *http.Client
	UserAgent       string
	Timeout         time.Duration
	RPS             float64
	MaxLinksPerPage int
}

type Options struct {
	FollowSubpages bool
	MaxPages       int
	// OnPage is called after every successfully crawled page.
	OnPage func(Page)
}

type Page struct {
	URL          string
	PagesCrawled int
	// TotalPages estimates the crawl size: queued plus crawled, capped at MaxPages.
	TotalPages int
	MaxPages   int
}

type Result struct {
	Text         string
	PagesCrawled int
	CrawledURLs  []string
	FailedURLs   []string
}

type Crawler struct {
	log      *logger.Logger
	client   *http.Client
	limiter  *rate.Limiter
	ua       string
	timeout  time.Duration
	maxLinks int
}

func New(log *logger.Logger, cfg Config) *Crawler {
	if log == nil {
		log = logger.Nop()
	}
	c := &Crawler{
		log:      log.With("component", "WebCrawler"),
		client:   cfg.HTTPClient,
		ua:       strings.TrimSpace(cfg.UserAgent),
		timeout:  cfg.Timeout,
		maxLinks: cfg.MaxLinksPerPage,
	}
	if c.client == nil {
		c.client = &http.Client{}
	}
	// Copy so the caller's client keeps its own redirect policy.
	cl := *c.client
	cl.CheckRedirect = sameHostRedirect
	c.client = &cl
	if c.ua == "" {
		c.ua = DefaultUserAgent
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.maxLinks <= 0 {
		c.maxLinks = DefaultMaxLinksPerPage
	}
	if cfg.RPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}
	return c
}

// Crawl walks startURL breadth-first. At most MaxPages fetches are made; a page that
// fails to fetch or parse consumes its slot and is skipped. Only links on the start
// URL's hostname are followed.
func (c *Crawler) Crawl(ctx context.Context, startURL string, opts Options) (*Result, error) {
	root, err := parseRoot(startURL)
	if err != nil {
		return nil, ingesterr.Content(err)
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	if !opts.FollowSubpages {
		maxPages = 1
	}

	var (
		text    strings.Builder
		res     = &Result{}
		queue   = []string{root.String()}
		visited = map[string]bool{}
		fetched int
	)

	for len(queue) > 0 && fetched < maxPages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true
		fetched++

		pageText, links, final, err := c.fetchPage(ctx, current)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warn("failed to crawl page", "url", current, "error", err)
			res.FailedURLs = append(res.FailedURLs, current)
			continue
		}

		text.WriteString("\n\n--- Content from ")
		text.WriteString(current)
		text.WriteString(" ---\n\n")
		text.WriteString(pageText)
		res.PagesCrawled++
		res.CrawledURLs = append(res.CrawledURLs, current)
		visited[final] = true

		if opts.FollowSubpages {
			for _, link := range links {
				next, ok := resolveSameHost(root, final, link)
				if !ok || visited[next] {
					continue
				}
				queue = append(queue, next)
			}
		}

		if opts.OnPage != nil {
			total := len(queue) + res.PagesCrawled
			if total > maxPages {
				total = maxPages
			}
			opts.OnPage(Page{URL: current, PagesCrawled: res.PagesCrawled, TotalPages: total, MaxPages: maxPages})
		}
	}

	if res.PagesCrawled == 0 {
		return nil, ingesterr.Contentf("no pages could be crawled from %s", root.String())
	}
	res.Text = text.String()
	return res, nil
}

// fetchPage returns the page text, its raw links and the URL it was finally served
// from after redirects.
func (c *Crawler) fetchPage(ctx context.Context, pageURL string) (string, []string, string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", nil, "", err
		}
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", nil, "", err
	}
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", nil, "", fmt.Errorf("GET %s: status %d", pageURL, resp.StatusCode)
	}
	final := pageURL
	if resp.Request != nil && resp.Request.URL != nil {
		u := *resp.Request.URL
		u.Fragment = ""
		final = u.String()
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", nil, "", fmt.Errorf("parse %s: %w", pageURL, err)
	}
	text, links := ExtractPage(doc, c.maxLinks)
	return text, links, final, nil
}

// sameHostRedirect follows redirects only while they stay on the hostname of the
// original request.
func sameHostRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	origin := via[0].URL.Hostname()
	if !strings.EqualFold(req.URL.Hostname(), origin) {
		return fmt.Errorf("redirect from %s to another host %s refused", origin, req.URL.Hostname())
	}
	return nil
}

// ExtractPage strips boilerplate from doc and returns the largest main-content text
// block (falling back to body) along with up to maxLinks raw hrefs.
func ExtractPage(doc *goquery.Document, maxLinks int) (string, []string) {
	doc.Find(stripSelectors).Remove()

	best := ""
	for _, sel := range contentSelectors {
		t := collapseWhitespace(doc.Find(sel).Text())
		if len(t) > len(best) {
			best = t
		}
	}
	if best == "" {
		best = collapseWhitespace(doc.Find("body").Text())
	}

	links := make([]string, 0, 8)
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || skipHref(href) {
			return true
		}
		links = append(links, href)
		return len(links) < maxLinks
	})
	return best, links
}

func skipHref(href string) bool {
	lower := strings.ToLower(href)
	return strings.HasPrefix(lower, "#") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "tel:")
}

func parseRoot(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid website url %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return nil, fmt.Errorf("invalid website url %q", raw)
	}
	u.Fragment = ""
	return u, nil
}

// resolveSameHost resolves href against the page it appeared on and reports whether
// it stays on the crawl root's hostname.
func resolveSameHost(root *url.URL, pageURL, href string) (string, bool) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if !strings.EqualFold(u.Hostname(), root.Hostname()) {
		return "", false
	}
	u.Fragment = ""
	return u.String(), true
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
