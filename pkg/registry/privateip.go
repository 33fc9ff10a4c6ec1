package registry

import (
	"net/netip"

	"coral-discovery/pkg/model"
)

// isPrivateIP reports whether ip falls in 10.0.0.0/8, 172.16.0.0/12,
// 192.168.0.0/16, 127.0.0.0/8, ::1 or fc00::/7. Unparseable input is
// treated as public so the client-declared value is left alone.
func isPrivateIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return addr.IsPrivate() || addr.IsLoopback()
}

// synthesizeObserved reconciles the client-declared observed endpoint with
// the source IP seen by the transport. The declared value wins unless it is
// absent or claims a private address; the port is never overwritten because
// the transport cannot tell the application port from the HTTP source port.
func synthesizeObserved(declared *model.ObservedEndpoint, observedIP string) *model.ObservedEndpoint {
	if observedIP == "" {
		return declared
	}
	if declared == nil {
		return &model.ObservedEndpoint{IP: observedIP, Port: 0, Protocol: "udp"}
	}
	if isPrivateIP(declared.IP) {
		return &model.ObservedEndpoint{IP: observedIP, Port: declared.Port, Protocol: "udp"}
	}
	return declared
}
