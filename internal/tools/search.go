package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ShayCichocki/relay/internal/llm"
	"github.com/ShayCichocki/relay/internal/version"
)

// DefaultSearchEndpoint is DuckDuckGo's HTML-only results page.
const DefaultSearchEndpoint = "https://html.duckduckgo.com/html/"

// DefaultUserAgent is sent with outbound tool requests.
var DefaultUserAgent = version.UserAgent()

// SearchResult is one hit from a web search.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// WebSearch queries a DuckDuckGo-compatible HTML endpoint.
type WebSearch struct {
	Endpoint   string
	Client     *http.Client
	MaxResults int
	UserAgent  string
}

// NewWebSearch creates the web_search tool. Empty values get defaults.
func NewWebSearch(endpoint string, client *http.Client, maxResults int) *WebSearch {
	if endpoint == "" {
		endpoint = DefaultSearchEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	return &WebSearch{Endpoint: endpoint, Client: client, MaxResults: maxResults, UserAgent: DefaultUserAgent}
}

func (s *WebSearch) Name() string { return "web_search" }

func (s *WebSearch) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        "web_search",
		Description: "Search the web for current facts. Returns titles, URLs and snippets of the top results.",
		Parameters: map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query",
			},
			"max_results": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results (default 5)",
			},
		},
		Required: []string{"query"},
	}
}

func (s *WebSearch) Invoke(ctx context.Context, args map[string]any) (string, error) {
	query, ok := stringArg(args, "query", "q")
	if !ok {
		return "", errors.New("missing argument \"query\"")
	}
	results, err := s.Search(ctx, query, intArg(args, "max_results", s.MaxResults))
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return fmt.Sprintf("No results found for %q.", query), nil
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. %s (%s)", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			b.WriteString("\n")
			b.WriteString(r.Snippet)
		}
	}
	return b.String(), nil
}

// Search returns up to limit results for query.
func (s *WebSearch) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	u, err := url.Parse(s.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.UserAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned HTTP %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse search results: %w", err)
	}

	var results []SearchResult
	doc.Find(".result").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		link := sel.Find(".result__a").First()
		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		if title == "" || href == "" {
			return true
		}
		results = append(results, SearchResult{
			Title:   title,
			URL:     resolveResultURL(href),
			Snippet: strings.TrimSpace(sel.Find(".result__snippet").Text()),
		})
		return len(results) < limit
	})
	return results, nil
}

// resolveResultURL unwraps DuckDuckGo redirect links ("/l/?uddg=...").
func resolveResultURL(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
