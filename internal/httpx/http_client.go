// Package httpx owns the shared client for outbound provider calls.
package httpx

import (
	"net/http"
	"time"
)

const defaultExternalHTTPTimeout = 30 * time.Second

var externalHTTPClient = &http.Client{
	Timeout: defaultExternalHTTPTimeout,
}

func ExternalHTTPClient() *http.Client {
	return externalHTTPClient
}

// ConfigureExternalHTTPClient sets the client timeout; non-positive values
// restore the default.
func ConfigureExternalHTTPClient(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		timeout = defaultExternalHTTPTimeout
	}
	externalHTTPClient.Timeout = timeout
	return timeout
}
