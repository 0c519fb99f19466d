// Package offline detects whether the appliance currently has a route to the
// upload endpoint. Field units are often without network for days.
package offline

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ConnectivityChecker handles internet connectivity detection
type ConnectivityChecker struct {
	testURLs    []string
	timeout     time.Duration
	client      *http.Client
	resolver    *net.Resolver
	isConnected atomic.Bool
	logger      zerolog.Logger
}

// NewConnectivityChecker checks endpoint first, then the public fallbacks.
func NewConnectivityChecker(endpoint string, logger zerolog.Logger) *ConnectivityChecker {
	urls := []string{}
	if endpoint != "" {
		urls = append(urls, endpoint)
	}
	urls = append(urls, "https://1.1.1.1", "https://www.google.com")

	timeout := 10 * time.Second
	return &ConnectivityChecker{
		testURLs: urls,
		timeout:  timeout,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
			},
		},
		resolver: &net.Resolver{},
		logger:   logger,
	}
}

// IsOnline reports whether any test URL answers, falling back to resolving
// the first test host.
func (c *ConnectivityChecker) IsOnline(ctx context.Context) bool {
	online := false
	for _, u := range c.testURLs {
		if c.checkConnection(ctx, u) {
			online = true
			break
		}
	}
	if !online && len(c.testURLs) > 0 {
		online = c.checkDNSResolution(ctx, c.testURLs[0])
	}

	if was := c.isConnected.Swap(online); was != online {
		c.logger.Info().Bool("online", online).Msg("Connectivity changed")
	}
	return online
}

// checkConnection reports whether url answers a HEAD request at all. Any HTTP
// status counts: object stores reject anonymous requests.
func (c *ConnectivityChecker) checkConnection(ctx context.Context, rawURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

func (c *ConnectivityChecker) checkDNSResolution(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	if net.ParseIP(u.Hostname()) != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err = c.resolver.LookupHost(ctx, u.Hostname())
	return err == nil
}

// GetConnectionStatus returns the result of the last IsOnline call.
func (c *ConnectivityChecker) GetConnectionStatus() bool {
	return c.isConnected.Load()
}

// WaitForConnection polls every interval until online, ctx is done or maxWait
// elapses.
func (c *ConnectivityChecker) WaitForConnection(ctx context.Context, interval, maxWait time.Duration) bool {
	if c.IsOnline(ctx) {
		return true
	}
	c.logger.Info().Msg("Waiting for network")

	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			c.logger.Warn().Dur("waited", maxWait).Msg("Gave up waiting for network")
			return false
		case <-ticker.C:
			if c.IsOnline(ctx) {
				return true
			}
		}
	}
}
