package provider

import (
	"net"
	"net/http"
	"time"
)

// newHTTPClient builds a pooled HTTP client with a fixed overall timeout.
// Chat calls use a short timeout; transcription and synthesis move large
// audio payloads and get a long one.
func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
