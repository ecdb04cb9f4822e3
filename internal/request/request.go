package request

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"animarr/internal/lazy"
	"animarr/internal/sharedhttp"

	"github.com/PuerkitoBio/goquery"
	"github.com/avast/retry-go"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/60.0.3112.113 Safari/537.36"

const (
	defaultGetTimeout  = 30 * time.Second
	defaultHeadTimeout = 10 * time.Second
	defaultMaxRetries  = 5
)

var (
	clientMu      sync.RWMutex
	defaultClient = newClient(sharedhttp.Transport)
	proxyClient   *http.Client

	timeoutMu  sync.RWMutex
	getTimeout = defaultGetTimeout
)

// newClient keeps cookies across requests like a browser session would,
// some hosts only serve streams after they have handed out a cookie.
func newClient(transport http.RoundTripper) *http.Client {
	client, err := sharedhttp.NewCookieClient(transport, 0)
	if err != nil {
		return &http.Client{Transport: transport}
	}
	return client
}

// ConfigureProxy sets the proxy used when sites refuse the scraper.
// An empty url disables it, blocked requests are then simply retried.
func ConfigureProxy(proxyURL string) error {
	clientMu.Lock()
	defer clientMu.Unlock()

	if proxyURL == "" {
		proxyClient = nil
		return nil
	}

	transport, err := sharedhttp.ProxyTransport(proxyURL)
	if err != nil {
		return err
	}

	proxyClient = newClient(transport)
	return nil
}

// ConfigureTimeout sets the deadline a single content fetch runs
// under. Zero restores the default.
func ConfigureTimeout(timeout time.Duration) {
	timeoutMu.Lock()
	defer timeoutMu.Unlock()

	if timeout <= 0 {
		getTimeout = defaultGetTimeout
		return
	}
	getTimeout = timeout
}

func contentTimeout() time.Duration {
	timeoutMu.RLock()
	defer timeoutMu.RUnlock()
	return getTimeout
}

// Response is an immutable snapshot of an http response. The body is
// read in full so a response can be consumed more than once.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	URL        *url.URL
	Body       []byte
}

func (r *Response) Success() bool {
	return r.StatusCode < http.StatusBadRequest
}

// State is the serializable form of a request, stored alongside the
// entities built from it so they can be revived later.
type State struct {
	URL      string            `bson:"url" json:"url"`
	Params   map[string]string `bson:"params,omitempty" json:"params,omitempty"`
	Headers  map[string]string `bson:"headers,omitempty" json:"headers,omitempty"`
	Timeout  int               `bson:"timeout,omitempty" json:"timeout,omitempty"`
	UseProxy bool              `bson:"use_proxy,omitempty" json:"use_proxy,omitempty"`
	Method   string            `bson:"method,omitempty" json:"method,omitempty"`
}

// Request lazily fetches a url. Every accessor memoizes its result, a
// request performs at most one GET and one HEAD however often it is
// shared, until Reload drops the cached responses.
type Request struct {
	rawURL     string
	params     map[string]string
	headers    map[string]string
	timeout    time.Duration
	method     string
	maxRetries uint

	formatter *Formatter

	mu       sync.Mutex
	useProxy bool
	dirty    bool

	url         lazy.Slot[string]
	resp        lazy.Slot[*Response]
	headResp    lazy.Slot[*Response]
	success     lazy.Slot[bool]
	headSuccess lazy.Slot[bool]
	text        lazy.Slot[string]
	doc         lazy.Slot[*goquery.Document]
	redirected  lazy.Slot[*url.URL]
}

type Option func(*Request)

func WithParams(params map[string]string) Option {
	return func(r *Request) {
		r.params = params
	}
}

func WithHeaders(headers map[string]string) Option {
	return func(r *Request) {
		r.headers = headers
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(r *Request) {
		r.timeout = timeout
	}
}

// WithProxy routes the request through the proxy from the first try.
func WithProxy() Option {
	return func(r *Request) {
		r.useProxy = true
	}
}

// WithMethod overrides the verb used for content requests, some apis
// only answer to POST.
func WithMethod(method string) Option {
	return func(r *Request) {
		r.method = method
	}
}

func WithFormatter(formatter *Formatter) Option {
	return func(r *Request) {
		r.formatter = formatter
	}
}

func New(rawURL string, opts ...Option) *Request {
	r := &Request{
		rawURL:     rawURL,
		method:     http.MethodGet,
		maxRetries: defaultMaxRetries,
		formatter:  DefaultFormatter,
	}

	for _, opt := range opts {
		opt(r)
	}

	if !r.useProxy {
		r.useProxy = r.formatter.ShouldUseProxy(rawURL)
	}

	return r
}

func FromState(state State) *Request {
	opts := []Option{
		WithParams(state.Params),
		WithHeaders(state.Headers),
	}
	if state.Timeout > 0 {
		opts = append(opts, WithTimeout(time.Duration(state.Timeout)*time.Second))
	}
	if state.UseProxy {
		opts = append(opts, WithProxy())
	}
	if state.Method != "" {
		opts = append(opts, WithMethod(state.Method))
	}

	return New(state.URL, opts...)
}

func (r *Request) State() State {
	state := State{
		URL:      r.raw(),
		Params:   r.params,
		Headers:  r.headers,
		UseProxy: r.proxied(),
	}
	if r.timeout > 0 {
		state.Timeout = int(r.timeout / time.Second)
	}
	if r.method != http.MethodGet {
		state.Method = r.method
	}

	return state
}

func (r *Request) String() string {
	return r.raw()
}

// URL resolves formatter fields and query params into the final url.
func (r *Request) URL(ctx context.Context) (string, error) {
	return r.url.Get(ctx, func(ctx context.Context) (string, error) {
		formatted, err := r.formatter.Format(ctx, r.raw())
		if err != nil {
			return "", err
		}

		u, err := url.Parse(formatted)
		if err != nil {
			return "", fmt.Errorf("failed to parse url %q: %w", formatted, err)
		}

		if len(r.params) > 0 {
			q := u.Query()
			for key, value := range r.params {
				q.Set(key, value)
			}
			u.RawQuery = q.Encode()
		}

		return u.String(), nil
	})
}

func (r *Request) Response(ctx context.Context) (*Response, error) {
	return r.resp.Get(ctx, func(ctx context.Context) (*Response, error) {
		return r.perform(ctx, r.method, contentTimeout())
	})
}

// Success reports whether the GET succeeded. Transport errors count as
// failure instead of propagating.
func (r *Request) Success(ctx context.Context) bool {
	ok, _ := r.success.Get(ctx, func(ctx context.Context) (bool, error) {
		resp, err := r.Response(ctx)
		if err != nil {
			return false, nil
		}
		return resp.Success(), nil
	})
	return ok
}

// HeadResponse reuses an already fetched GET response instead of
// issuing another request.
func (r *Request) HeadResponse(ctx context.Context) (*Response, error) {
	return r.headResp.Get(ctx, func(ctx context.Context) (*Response, error) {
		if resp, ok := r.resp.Peek(); ok {
			return resp, nil
		}
		return r.perform(ctx, http.MethodHead, defaultHeadTimeout)
	})
}

// HeadSuccess reports whether the url answers to HEAD, falling back to
// GET for hosts that don't allow it.
func (r *Request) HeadSuccess(ctx context.Context) bool {
	ok, _ := r.headSuccess.Get(ctx, func(ctx context.Context) (bool, error) {
		resp, err := r.HeadResponse(ctx)
		if err != nil {
			return false, nil
		}

		if resp.StatusCode == http.StatusMethodNotAllowed {
			resp, err = r.Response(ctx)
			if err != nil {
				return false, nil
			}
		}

		return resp.Success(), nil
	})
	return ok
}

// RedirectedURL is the url the HEAD request ended up at after following
// redirects.
func (r *Request) RedirectedURL(ctx context.Context) (*url.URL, error) {
	return r.redirected.Get(ctx, func(ctx context.Context) (*url.URL, error) {
		resp, err := r.HeadResponse(ctx)
		if err != nil {
			return nil, err
		}
		return resp.URL, nil
	})
}

func (r *Request) Text(ctx context.Context) (string, error) {
	return r.text.Get(ctx, func(ctx context.Context) (string, error) {
		resp, err := r.Response(ctx)
		if err != nil {
			return "", err
		}

		// sites love to serve utf-8 with a BOM
		return strings.ReplaceAll(string(resp.Body), "\uFEFF", ""), nil
	})
}

func (r *Request) JSON(ctx context.Context, out any) error {
	text, err := r.Text(ctx)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("failed to parse json from %s: %w", r.raw(), err)
	}

	return nil
}

func (r *Request) HTML(ctx context.Context) (*goquery.Document, error) {
	return r.doc.Get(ctx, func(ctx context.Context) (*goquery.Document, error) {
		text, err := r.Text(ctx)
		if err != nil {
			return nil, err
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
		if err != nil {
			return nil, fmt.Errorf("failed to parse html from %s: %w", r.raw(), err)
		}

		return doc, nil
	})
}

// Reload drops every cached response so the next accessor fetches
// fresh data. The resolved url is kept.
func (r *Request) Reload() {
	r.resp.Reset()
	r.headResp.Reset()
	r.success.Reset()
	r.headSuccess.Reset()
	r.text.Reset()
	r.doc.Reset()
	r.redirected.Reset()
}

// SetURL points the request at a different url. Everything derived
// from the old one is dropped and the handle turns dirty so the change
// reaches its stored state.
func (r *Request) SetURL(rawURL string) {
	r.mu.Lock()
	r.rawURL = rawURL
	r.dirty = true
	if !r.useProxy {
		r.useProxy = r.formatter.ShouldUseProxy(rawURL)
	}
	r.mu.Unlock()

	r.url.Reset()
	r.Reload()
}

func (r *Request) raw() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rawURL
}

func (r *Request) Dirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirty
}

func (r *Request) MarkClean() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirty = false
}

func (r *Request) proxied() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.useProxy
}

func (r *Request) setProxied() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.useProxy = true
}

func (r *Request) client() *http.Client {
	clientMu.RLock()
	defer clientMu.RUnlock()

	if r.proxied() && proxyClient != nil {
		return proxyClient
	}
	return defaultClient
}

// perform fetches the url, retrying through the proxy when the site
// blocks us and downgrading HEAD to GET where it isn't allowed.
func (r *Request) perform(ctx context.Context, method string, timeout time.Duration) (*Response, error) {
	u, err := r.URL(ctx)
	if err != nil {
		return nil, err
	}

	if r.timeout > 0 {
		timeout = r.timeout
	}

	var resp *Response
	err = retry.Do(func() error {
		if err := ctx.Err(); err != nil {
			return retry.Unrecoverable(err)
		}

		res, err := r.staggered(ctx, r.client(), method, u, timeout)
		if err != nil {
			// connection trouble, the proxy might get through
			r.setProxied()
			return fmt.Errorf("failed to fetch %s: %w", u, err)
		}

		if sharedhttp.Blocked(res.StatusCode) {
			if method == http.MethodHead {
				method = r.method
			}
			r.setProxied()
			return fmt.Errorf("blocked while fetching %s: status code %d", u, res.StatusCode)
		}

		if res.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("server error while fetching %s: status code %d", u, res.StatusCode)
		}

		// 4xx answers are final, their pages still carry content the
		// not found detectors look at
		resp = res
		return nil
	},
		retry.Delay(time.Second*1),
		retry.Attempts(r.maxRetries),
		retry.MaxJitter(time.Second*1),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

type staggerResult struct {
	resp *Response
	err  error
}

// staggered starts duplicate requests at growing intervals and takes
// whichever answers first, slow upstreams stall instead of failing.
func (r *Request) staggered(ctx context.Context, client *http.Client, method, u string, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make(chan staggerResult, 1)
	launch := func() {
		go func() {
			resp, err := r.do(ctx, client, method, u)
			select {
			case results <- staggerResult{resp: resp, err: err}:
			case <-ctx.Done():
			}
		}()
	}

	launch()

	wait := time.Second
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case res := <-results:
			return res.resp, res.err
		case <-timer.C:
			launch()
			wait = wait * 3 / 2
			timer.Reset(wait)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *Request) do(ctx context.Context, client *http.Client, method, u string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", DefaultUserAgent)
	for key, value := range r.headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	snapshot := &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		URL:        resp.Request.URL,
	}

	if method != http.MethodHead {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		snapshot.Body = body
	}

	return snapshot, nil
}
