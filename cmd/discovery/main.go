package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coral-discovery/pkg/announce"
	"coral-discovery/pkg/api"
	"coral-discovery/pkg/auth"
	"coral-discovery/pkg/config"
	"coral-discovery/pkg/logx"
	"coral-discovery/pkg/registry"
	"coral-discovery/pkg/version"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	dataDir := flag.String("data-dir", "", "partition database directory (overrides DISCOVERY_DATA_DIR; empty keeps env, \"memory\" forces in-memory)")
	flag.Parse()

	cfg := config.FromEnv()
	logx.SetLevel(cfg.LogLevel)
	switch *dataDir {
	case "":
	case "memory":
		cfg.DataDir = ""
	default:
		cfg.DataDir = *dataDir
	}

	logx.Infof("coral-discovery %s starting (env=%s, ttl=%s, cleanup=%s)",
		version.Resolve(cfg.ServiceVersion), cfg.Environment, cfg.DefaultTTL, cfg.CleanupInterval)
	if cfg.SigningKey == "" {
		logx.Warnf("DISCOVERY_SIGNING_KEY is not set; bootstrap tokens will fail")
	}

	dir := registry.NewDirectory(registry.DirectoryOptions{
		DataDir:         cfg.DataDir,
		DefaultTTL:      cfg.DefaultTTL,
		CleanupInterval: cfg.CleanupInterval,
		Version:         version.Resolve(cfg.ServiceVersion),
	})
	keys := auth.NewProvider(cfg.SigningKey, cfg.PreviousKeys)
	gateway := api.NewGateway(cfg, dir, keys)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           gateway,
		ReadHeaderTimeout: 10 * time.Second,
	}

	deregister := func() {}
	if cfg.ConsulAddr != "" {
		var err error
		deregister, err = announce.Register(cfg.ConsulAddr, cfg.ConsulServiceName, *addr)
		if err != nil {
			logx.Warnf("consul registration failed: %v", err)
			deregister = func() {}
		}
	}

	errCh := make(chan error, 1)
	go func() {
		logx.Infof("listening on %s", *addr)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logx.Infof("received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Errorf("server failed: %v", err)
		}
	}

	deregister()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logx.Warnf("shutdown: %v", err)
	}
	dir.Shutdown()
}
