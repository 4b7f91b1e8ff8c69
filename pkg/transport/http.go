package transport

import (
	"net"
	"net/http"
	"time"
)

// CloudTimeouts are the §5 HTTP suspension-point bounds: 15s connect,
// 15s read, applied uniformly to every §6.2 call.
const (
	ConnectTimeout = 15 * time.Second
	ReadTimeout    = 15 * time.Second
)

// NewHTTPClient builds the *http.Client shared by the cloud client, the
// command executor, the config syncer, and the OTA chunk fetcher.
// OTA chunk fetches have no timeout of their own: like every other call
// they are bounded by the client's Timeout and by the caller's context.
func NewHTTPClient() *http.Client {
	dialer := &net.Dialer{Timeout: ConnectTimeout}
	return &http.Client{
		Timeout: ConnectTimeout + ReadTimeout,
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			ResponseHeaderTimeout: ReadTimeout,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
