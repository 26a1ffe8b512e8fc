package request

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/proxy"
)

const defaultUserAgent = "ax-image/1.0"

type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request %s: response code is %d", e.URL, e.StatusCode)
}

// Temporary reports whether a request failure is worth retrying.
func Temporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Client is shared by every caller; SetProxy swaps the transport for all of them.
type Client struct {
	mu        sync.RWMutex
	base      *http.Client
	http      *http.Client
	proxy     *Proxy
	timeout   time.Duration
	userAgent string
}

type Option func(*Client)

func WithProxy(p *Proxy) Option {
	return func(c *Client) {
		c.proxy = p
	}
}

// WithTimeout bounds JSON requests. Downloads are bounded by their context only.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.base = client
	}
}

func NewClient(options ...Option) (*Client, error) {
	c := &Client{
		base:      &http.Client{},
		timeout:   30 * time.Second,
		userAgent: defaultUserAgent,
	}
	for _, option := range options {
		option(c)
	}
	if err := c.SetProxy(c.proxy); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) Proxy() *Proxy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.proxy == nil {
		return nil
	}
	p := *c.proxy
	return &p
}

// SetProxy applies p to every later request; nil goes direct.
func (c *Client) SetProxy(p *Proxy) error {
	transport, err := c.transportFor(p)
	if err != nil {
		return err
	}
	client := *c.base
	client.Transport = transport

	c.mu.Lock()
	defer c.mu.Unlock()
	c.http = &client
	if p == nil {
		c.proxy = nil
	} else {
		copied := *p
		c.proxy = &copied
	}
	return nil
}

func (c *Client) transportFor(p *Proxy) (http.RoundTripper, error) {
	base, ok := c.base.Transport.(*http.Transport)
	switch {
	case c.base.Transport == nil:
		base = http.DefaultTransport.(*http.Transport)
	case !ok:
		if p != nil {
			return nil, errors.New("proxy needs an *http.Transport")
		}
		return c.base.Transport, nil
	}
	transport := base.Clone()
	if p == nil {
		return transport, nil
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	switch p.Type {
	case ProxyHTTP:
		transport.Proxy = http.ProxyURL(&url.URL{Scheme: "http", Host: p.Addr()})
	case ProxySOCKS5:
		dialer, err := proxy.SOCKS5("tcp", p.Addr(), nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("create socks5 dialer: %w", err)
		}
		contextDialer, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, errors.New("socks5 dialer does not support context")
		}
		transport.Proxy = nil
		transport.DialContext = contextDialer.DialContext
	}
	return transport, nil
}

func (c *Client) client() *http.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.http
}

func (c *Client) newRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

// GetJSON decodes a 2xx JSON body into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req, err := c.newRequest(ctx, rawURL)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	log.Debug().Str("url", rawURL).Msg("get json")
	resp, err := c.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}

// Download streams rawURL into dest. Cancelling ctx is not an error: before the
// request it skips the connection, during the body it keeps the partial file.
func (c *Client) Download(ctx context.Context, rawURL string, dest string, onProgress func(int64)) error {
	if ctx.Err() != nil {
		return nil
	}
	req, err := c.newRequest(ctx, rawURL)
	if err != nil {
		return err
	}

	resp, err := c.client().Do(req)
	if err != nil {
		if cancelled(ctx) {
			return nil
		}
		return err
	}
	defer resp.Body.Close()
	if cancelled(ctx) {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	if err := ensureDir(dest); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	file, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create download file: %w", err)
	}

	written, copyErr := io.Copy(file, &progressReader{r: resp.Body, onProgress: onProgress})
	closeErr := file.Close()
	if copyErr != nil {
		if cancelled(ctx) {
			log.Debug().Str("url", rawURL).Int64("written", written).Msg("download cancelled")
			return nil
		}
		return copyErr
	}
	if closeErr != nil {
		return fmt.Errorf("close download file: %w", closeErr)
	}
	return nil
}

func cancelled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

type progressReader struct {
	r          io.Reader
	total      int64
	onProgress func(int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.total += int64(n)
		if p.onProgress != nil {
			p.onProgress(p.total)
		}
	}
	return n, err
}

func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
