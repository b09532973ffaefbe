package collaborators

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultFetchTimeout = 30 * time.Second
	maxArticleBytes     = 4 << 20
	maxArticleRunes     = 12000
)

var articleSelectors = []string{
	"article",
	"main",
	"[role='main']",
	".article-body",
	".post-content",
	".content",
	"#content",
}

// HTMLFetcher implements ArticleFetcher against plain HTTP pages.
type HTMLFetcher struct {
	client *http.Client
}

// NewHTMLFetcher builds a fetcher. A nil client gets a default with a 30s timeout.
func NewHTMLFetcher(client *http.Client) *HTMLFetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &HTMLFetcher{client: client}
}

// FetchArticle downloads the page and returns its main body text.
func (f *HTMLFetcher) FetchArticle(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("fetch article: invalid url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", fmt.Errorf("fetch article: new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch article: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch article: http %d", resp.StatusCode)
	}

	return ExtractArticleText(io.LimitReader(resp.Body, maxArticleBytes))
}

// ExtractArticleText parses HTML and returns the title and main content text.
func ExtractArticleText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	doc.Find("nav, footer, header, script, style, noscript, aside, form, .ad, .advertisement, .cookie-banner").Remove()

	title := strings.TrimSpace(doc.Find("meta[property='og:title']").AttrOr("content", ""))
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	var content *goquery.Selection
	for _, selector := range articleSelectors {
		if selection := doc.Find(selector); selection.Length() > 0 {
			content = selection.First()
			break
		}
	}
	if content == nil {
		content = doc.Find("body")
	}

	var paragraphs []string
	content.Find("p, h1, h2, h3, li").Each(func(_ int, s *goquery.Selection) {
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	if len(paragraphs) == 0 {
		if text := strings.Join(strings.Fields(content.Text()), " "); text != "" {
			paragraphs = append(paragraphs, text)
		}
	}
	if len(paragraphs) == 0 {
		return "", fmt.Errorf("parse html: no readable text")
	}

	body := strings.Join(paragraphs, "\n")
	if title != "" && !strings.HasPrefix(body, title) {
		body = title + "\n\n" + body
	}
	if runes := []rune(body); len(runes) > maxArticleRunes {
		body = string(runes[:maxArticleRunes])
	}
	return body, nil
}
