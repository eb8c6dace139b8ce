package audit

import (
	"net"
	"net/http"
	"strings"
)

// SourceAddress returns the client address recorded on an audit entry: r.RemoteAddr without
// its port. Proxy headers are resolved earlier by chi's RealIP middleware.
func SourceAddress(r *http.Request) string {
	if r == nil {
		return ""
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.Trim(addr, "[]")
}
