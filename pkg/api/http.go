package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"coral-discovery/pkg/logx"
	"coral-discovery/pkg/rpc"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Warnf("write response: %v", err)
	}
}

// errorBody is the Connect error envelope.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeRPCError(w http.ResponseWriter, err error) {
	rerr := rpc.FromError(err)
	writeJSON(w, rerr.Code.HTTPStatus(), errorBody{
		Code:    rerr.Code.String(),
		Message: rerr.Message,
	})
}

// clientIP extracts the address the transport observed for the caller.
// CF-Connecting-IP wins (set by the edge), then the first X-Forwarded-For
// hop, then the socket peer.
func clientIP(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); v != "" {
		return v
	}
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		if first, _, found := strings.Cut(v, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rfc3339Millis renders a millisecond epoch timestamp for the wire.
func rfc3339Millis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
