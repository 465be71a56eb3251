package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Options configures an HTTP engine.
type Options struct {
	BaseURL   string
	UserAgent string
	// Headless is accepted for config parity with rendered engines; the
	// HTTP engine has no window either way.
	Headless bool
	Timeout  time.Duration
}

// httpEngine drives the portal over plain HTTP with a cookie jar, parsing
// responses with goquery. It is the default Engine; a rendered engine can
// be swapped in behind the same interface without touching the core.
type httpEngine struct {
	base   *url.URL
	client *http.Client
	jar    *cookiejar.Jar
	ua     string

	current *htmlPage
}

// NewHTTPEngine creates an Engine backed by a plain HTTP client.
func NewHTTPEngine(opts Options) (Engine, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", opts.BaseURL, err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpEngine{
		base: base,
		jar:  jar,
		ua:   opts.UserAgent,
		client: &http.Client{
			Jar:     jar,
			Timeout: timeout,
		},
	}, nil
}

func (e *httpEngine) Navigate(ctx context.Context, target string) (Page, error) {
	u, err := e.resolve(target)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return e.do(req)
}

func (e *httpEngine) ReadState(ctx context.Context) (Page, error) {
	if e.current == nil {
		return nil, fmt.Errorf("browser: no page loaded")
	}
	return e.current, nil
}

func (e *httpEngine) SubmitForm(ctx context.Context, form Form) (Page, error) {
	action, err := e.resolve(form.Action)
	if err != nil {
		return nil, err
	}
	values := url.Values{}
	for k, v := range form.Fields {
		values.Set(k, v)
	}

	method := strings.ToUpper(form.Method)
	if method == "" {
		method = http.MethodPost
	}

	var req *http.Request
	if method == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, method, action+"?"+values.Encode(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, action, strings.NewReader(values.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	return e.do(req)
}

func (e *httpEngine) ExecuteScript(ctx context.Context, script string) (string, error) {
	return "", ErrScriptUnsupported
}

// sessionState is the serialized restore token: the portal-scoped cookies.
type sessionState struct {
	SavedAt time.Time      `json:"saved_at"`
	Cookies []*http.Cookie `json:"cookies"`
}

func (e *httpEngine) ExportState(ctx context.Context) ([]byte, error) {
	state := sessionState{
		SavedAt: time.Now().UTC(),
		Cookies: e.jar.Cookies(e.base),
	}
	return json.Marshal(state)
}

func (e *httpEngine) RestoreState(ctx context.Context, raw []byte) error {
	var state sessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return fmt.Errorf("browser: malformed session state: %w", err)
	}
	e.jar.SetCookies(e.base, state.Cookies)
	return nil
}

func (e *httpEngine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

func (e *httpEngine) resolve(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("browser: bad target %q: %w", target, err)
	}
	return e.base.ResolveReference(u).String(), nil
}

func (e *httpEngine) do(req *http.Request) (Page, error) {
	if e.ua != "" {
		req.Header.Set("User-Agent", e.ua)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("browser: portal returned status %d for %s", resp.StatusCode, req.URL)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("browser: failed to parse page: %w", err)
	}

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}
	e.current = &htmlPage{url: finalURL.String(), doc: doc}
	return e.current, nil
}

// htmlPage adapts a goquery document to the Page interface.
type htmlPage struct {
	url string
	doc *goquery.Document
}

func (p *htmlPage) URL() string { return p.url }

func (p *htmlPage) Has(selector string) bool {
	return p.doc.Find(selector).Length() > 0
}

func (p *htmlPage) Text(selector string) string {
	return strings.TrimSpace(p.doc.Find(selector).First().Text())
}

func (p *htmlPage) Attr(selector, name string) (string, bool) {
	return p.doc.Find(selector).First().Attr(name)
}

func (p *htmlPage) All(selector string) []Node {
	var nodes []Node
	p.doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		attrs := make(map[string]string)
		for _, a := range sel.Nodes[0].Attr {
			attrs[a.Key] = a.Val
		}
		nodes = append(nodes, Node{
			Text:  strings.TrimSpace(sel.Text()),
			Attrs: attrs,
		})
	})
	return nodes
}
