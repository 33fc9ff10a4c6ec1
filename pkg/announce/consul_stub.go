//go:build !consul

package announce

import "coral-discovery/pkg/logx"

// Enabled returns false when the consul build tag is not present.
func Enabled() bool { return false }

// Register is a no-op without the consul tag.
func Register(addr, serviceName, listenAddr string) (func(), error) {
	logx.Infof("consul registration requested (addr=%s) but consul build tag not enabled; skipping", addr)
	return func() {}, nil
}
