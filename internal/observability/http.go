package observability

import (
	"net"
	"net/http"
	"strings"
)

// ClientMeta is the request metadata stamped onto websocket lifecycle
// events and audit entries.
type ClientMeta struct {
	DeviceID  string
	IP        string
	RequestID string
}

// ClientMetaFromRequest extracts device, address and correlation data from
// an inbound request.
func ClientMetaFromRequest(r *http.Request) ClientMeta {
	return ClientMeta{
		DeviceID:  r.Header.Get("X-Device-Id"),
		IP:        clientIP(r),
		RequestID: r.Header.Get("X-Request-Id"),
	}
}

// clientIP prefers the first X-Forwarded-For hop over the socket address.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
