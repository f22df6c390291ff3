package feed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultURL is the public CBBI feed endpoint.
const DefaultURL = "https://colintalkscrypto.com/cbbi/data/latest.json"

// DefaultProxyPrefix is prepended to the escaped feed URL when the upstream
// answers 406; the feed's CDN rejects some non-browser clients.
const DefaultProxyPrefix = "https://corsproxy.io/?"

// Client fetches the sentiment/price feed over HTTP.
type Client struct {
	http        *resty.Client
	url         string
	proxyPrefix string
}

func NewClient(feedURL, proxyPrefix string) *Client {
	if feedURL == "" {
		feedURL = DefaultURL
	}
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(0).
		SetHeader("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36").
		SetHeader("Accept", "application/json, text/plain, */*").
		SetHeader("Accept-Language", "en-US,en;q=0.9")
	return &Client{
		http:        client,
		url:         feedURL,
		proxyPrefix: proxyPrefix,
	}
}

// Fetch GETs the feed and decodes it. The only retry path is a single
// fallback through the proxy when the upstream answers 406; every other
// failure is reported as ErrDataUnavailable.
func (c *Client) Fetch(ctx context.Context) (Payload, error) {
	var payload Payload
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&payload).
		ForceContentType("application/json").
		Get(c.url)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: fetch %s: %v", ErrDataUnavailable, c.url, err)
	}

	if resp.StatusCode() == http.StatusNotAcceptable && c.proxyPrefix != "" {
		proxied := c.proxyPrefix + url.QueryEscape(c.url)
		slog.Warn("feed returned 406, retrying via proxy", "url", proxied)
		resp, err = c.http.R().
			SetContext(ctx).
			SetResult(&payload).
			ForceContentType("application/json").
			Get(proxied)
		if err != nil {
			return Payload{}, fmt.Errorf("%w: fetch via proxy: %v", ErrDataUnavailable, err)
		}
	}

	if resp.IsError() {
		return Payload{}, fmt.Errorf("%w: feed returned status %d", ErrDataUnavailable, resp.StatusCode())
	}
	return payload, nil
}
