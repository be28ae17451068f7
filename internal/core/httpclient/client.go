// Package httpclient configures the HTTP clients used to reach upstream hosts.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// NewOutbound creates the client used for strategy fetches and batch
// execution. Tuned for many small requests against a handful of hosts
// (origin, tile servers, geocoding APIs).
func NewOutbound(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   128,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// NewProbe creates the small-footprint client used by the network quality
// monitor. No connection reuse so each probe pays the full round trip.
func NewProbe(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &http.Client{
		Transport: &http.Transport{
			DisableKeepAlives: true,
			DialContext:       (&net.Dialer{Timeout: timeout}).DialContext,
		},
		Timeout: timeout,
	}
}
