//go:build consul

package announce

import (
	"fmt"
	"net"
	"strconv"

	consulapi "github.com/hashicorp/consul/api"

	"coral-discovery/pkg/logx"
)

// Enabled returns true when the consul tag is on.
func Enabled() bool { return true }

// Register adds the discovery service to the Consul catalog with an HTTP
// health check against /health. Returns a deregister func for shutdown.
func Register(addr, serviceName, listenAddr string) (func(), error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}

	host, portStr, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return nil, fmt.Errorf("parse listen address: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parse listen port: %w", err)
	}
	if host == "" {
		host = "127.0.0.1"
	}

	id := serviceName + "-" + portStr
	reg := &consulapi.AgentServiceRegistration{
		ID:      id,
		Name:    serviceName,
		Address: host,
		Port:    port,
		Check: &consulapi.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/health", host, port),
			Interval:                       "15s",
			Timeout:                        "3s",
			DeregisterCriticalServiceAfter: "5m",
		},
	}
	if err := cli.Agent().ServiceRegister(reg); err != nil {
		return nil, fmt.Errorf("consul register: %w", err)
	}
	logx.Infof("registered %s in consul catalog as %s", serviceName, id)

	return func() {
		if err := cli.Agent().ServiceDeregister(id); err != nil {
			logx.Warnf("consul deregister: %v", err)
		}
	}, nil
}
