// Package probe implements the website probe: DNS resolution plus a single
// bounded HTTP GET built on the Colly collector.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/zzpscan/zzpscan/internal/catalog"
)

// Config controls probe behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Client implements catalog.Probe.
type Client struct {
	cfg           Config
	resolver      *net.Resolver
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Client{
		cfg:           cfg,
		resolver:      net.DefaultResolver,
		transport:     transport,
		baseCollector: c,
	}
}

// Resolve looks up address records for the domain. A name that does not
// exist yields catalog.ErrDomainNotFound; other failures are returned
// verbatim so callers can record them as probe errors.
func (c *Client) Resolve(ctx context.Context, domain string) ([]string, error) {
	addrs, err := c.resolver.LookupHost(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, fmt.Errorf("%w: %s", catalog.ErrDomainNotFound, domain)
		}
		return nil, fmt.Errorf("resolve %s: %w", domain, err)
	}
	return addrs, nil
}

// Fetch executes a single HTTP GET with the configured timeout and client
// identifier. A response with any status code is a successful fetch; only
// transport-level failures are errors.
func (c *Client) Fetch(ctx context.Context, url string) (catalog.FetchResult, error) {
	var (
		result   catalog.FetchResult
		fetchErr error
	)
	start := time.Now()

	collector := c.baseCollector.Clone()
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(c.cfg.Timeout)
	collector.WithTransport(c.transport)

	collector.OnResponse(func(r *colly.Response) {
		result = catalog.FetchResult{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Elapsed:    time.Since(start),
		}
	})

	// Colly routes non-2xx statuses through OnError with the response
	// attached. For existence checking a 404 is an answer, not a failure,
	// so responses with a status code are captured as results.
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			headers := http.Header{}
			if r.Headers != nil {
				headers = r.Headers.Clone()
			}
			result = catalog.FetchResult{
				URL:        url,
				StatusCode: r.StatusCode,
				Headers:    headers,
				Body:       append([]byte(nil), r.Body...),
				Elapsed:    time.Since(start),
			}
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return catalog.FetchResult{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		// A captured status code wins over Visit's error: colly reports
		// non-2xx responses as errors, which this probe treats as answers.
		if result.StatusCode != 0 {
			return result, nil
		}
		if fetchErr != nil {
			return catalog.FetchResult{}, fmt.Errorf("fetch %s: %w", url, fetchErr)
		}
		if err != nil {
			return catalog.FetchResult{}, fmt.Errorf("fetch %s: %w", url, err)
		}
		return catalog.FetchResult{}, fmt.Errorf("fetch %s: no response", url)
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
