package telegram

import (
	"net"
	"net/http"
	"time"

	"github.com/leadrelay/leadrelay/core/telegram/netutil"
)

// Bot API calls go through a shared client with bounded timeouts and a
// few retries for transient dial and timeout failures. Long polling
// itself is not affected: telebot passes the poll timeout per request.
const (
	clientTimeout   = 30 * time.Second
	dialTimeout     = 5 * time.Second
	headerTimeout   = 5 * time.Second
	idleConnTimeout = 30 * time.Second
	retryAttempts   = 3
	retryBaseDelay  = 2 * time.Second
)

// BuildHTTPClient returns the HTTP client used for every Bot API call.
func BuildHTTPClient() *http.Client {
	return &http.Client{
		Timeout: clientTimeout,
		Transport: &retryTransport{
			next: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       idleConnTimeout,
				TLSHandshakeTimeout:   dialTimeout,
				ResponseHeaderTimeout: headerTimeout,
				ExpectContinueTimeout: time.Second,
			},
		},
	}
}

// retryTransport retries transient transport failures with linear backoff.
// Requests with a non-rewindable body are sent exactly once.
type retryTransport struct {
	next http.RoundTripper
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		attemptReq, ok := rewind(req, attempt)
		if !ok {
			return nil, lastErr
		}

		resp, err := t.next.RoundTrip(attemptReq)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !netutil.ShouldRetry(err) || attempt == retryAttempts {
			break
		}

		timer := time.NewTimer(retryBaseDelay * time.Duration(attempt))
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

// rewind prepares the request for the given attempt. A repeat attempt needs
// a fresh body; without GetBody the request cannot be replayed.
func rewind(req *http.Request, attempt int) (*http.Request, bool) {
	if attempt == 1 {
		return req, true
	}
	if req.Body == nil {
		return req.Clone(req.Context()), true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	clone := req.Clone(req.Context())
	clone.Body = body
	return clone, true
}
