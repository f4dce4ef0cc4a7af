// Package httpclient builds the outbound *http.Client shared by every
// external collaborator the crawl subsystem talks to (accounts service,
// per-repository feeds, triple store). Grounded on the job executor's
// client in the host stack: bounded idle connections, a TLS floor, a
// redirect cap, never the zero-value http.DefaultClient.
package httpclient

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"
)

// New builds an *http.Client tuned for short-lived polling requests against
// a fleet of upstream services. timeout is a safety-net ceiling; callers
// should still scope individual requests with context deadlines.
func New(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after 10 redirects")
			}
			return nil
		},
	}
}
