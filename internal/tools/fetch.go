package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/ShayCichocki/relay/internal/llm"
)

var blankLinesRe = regexp.MustCompile(`\n{3,}`)

// FetchPage downloads a page and returns its main content as markdown.
type FetchPage struct {
	Client    *http.Client
	MaxBytes  int64
	MaxChars  int
	UserAgent string
}

// NewFetchPage creates the fetch_page tool. Empty values get defaults.
func NewFetchPage(client *http.Client, maxChars int) *FetchPage {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if maxChars <= 0 {
		maxChars = 8000
	}
	return &FetchPage{Client: client, MaxBytes: 2 << 20, MaxChars: maxChars, UserAgent: DefaultUserAgent}
}

func (f *FetchPage) Name() string { return "fetch_page" }

func (f *FetchPage) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "fetch_page",
		Description: "Fetch a web page and return its main content as markdown. Use after web_search to read a result.",
		Parameters: map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Absolute http(s) URL to fetch",
			},
		},
		Required: []string{"url"},
	}
}

func (f *FetchPage) Invoke(ctx context.Context, args map[string]any) (string, error) {
	raw, ok := stringArg(args, "url")
	if !ok {
		return "", errors.New("missing argument \"url\"")
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("invalid url %q", raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: HTTP %d", u, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, f.MaxBytes))
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", u, err)
	}
	title := strings.TrimSpace(doc.Find("head title").Text())

	converter := md.NewConverter(u.Scheme+"://"+u.Host, true, nil)
	markdown, err := converter.ConvertString(mainContent(doc))
	if err != nil {
		return "", fmt.Errorf("convert %s: %w", u, err)
	}
	markdown = strings.TrimSpace(blankLinesRe.ReplaceAllString(markdown, "\n\n"))

	if title != "" {
		markdown = "# " + title + "\n\n" + markdown
	}
	if len(markdown) > f.MaxChars {
		markdown = markdown[:f.MaxChars] + "\n\n[content truncated]"
	}
	return markdown, nil
}

// mainContent strips page chrome and returns the HTML of the most specific
// content container found.
func mainContent(doc *goquery.Document) string {
	doc.Find("script, style, noscript, nav, header, footer, aside, form").Remove()
	for _, selector := range []string{"main", "article", "#content", ".content", "body"} {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		if html, err := sel.Html(); err == nil && strings.TrimSpace(html) != "" {
			return html
		}
	}
	html, _ := doc.Html()
	return html
}
