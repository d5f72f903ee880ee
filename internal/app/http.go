package app

import (
	"net"
	"net/http"
	"time"
)

// newHTTPClient returns an HTTP client for scraping a handful of hosts.
// Connections are reused per host, and timeouts are kept reasonable so a
// stalled server cannot hang the run.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = timeoutDefault
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
