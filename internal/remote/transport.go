package remote

import (
	"net"
	"net/http"
	"time"
)

const (
	// DefaultTimeout bounds every remote call.
	DefaultTimeout = 60 * time.Second

	// SlowCallThreshold is where a completed call earns a warning.
	SlowCallThreshold = 5 * time.Second

	// maxConnsPerHost caps concurrent connections per origin.
	maxConnsPerHost = 50
)

// NewHTTPClient builds the process-wide pooled client. Both remote clients
// share one instance so the connection budget is global.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: DefaultTimeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        maxConnsPerHost * 2,
			MaxIdleConnsPerHost: maxConnsPerHost,
			MaxConnsPerHost:     maxConnsPerHost,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}
}
