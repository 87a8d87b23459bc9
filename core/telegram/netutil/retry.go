// Package netutil classifies transport errors for the retrying HTTP client.
package netutil

import (
	"errors"
	"net"
	"net/url"
)

// ShouldRetry reports whether a failed Bot API round trip is worth another
// attempt. Only transient transport failures qualify: timeouts, refused or
// reset connections, and dial errors. Anything that reached the server and
// came back as a response is never retried here.
func ShouldRetry(err error) bool {
	for err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return true
		}

		var urlErr *url.Error
		switch {
		case errors.As(err, &urlErr):
			if urlErr.Timeout() {
				return true
			}
			err = urlErr.Err
		case opErr != nil:
			err = opErr.Err
		default:
			return false
		}
	}
	return false
}
