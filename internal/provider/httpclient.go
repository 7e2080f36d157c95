package provider

import (
	"net"
	"net/http"
	"sync"
	"time"
)

const defaultHTTPTimeout = 120 * time.Second

var (
	transportOnce   sync.Once
	sharedTransport *http.Transport
)

// SharedHTTPClient returns a client backed by the process-wide pooled
// transport. Clients differ only in their overall timeout.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	transportOnce.Do(func() {
		sharedTransport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	})
	return &http.Client{
		Timeout:   timeout,
		Transport: sharedTransport,
	}
}
