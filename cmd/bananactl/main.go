// Command bananactl runs the provider routing core from a terminal, without
// the database or cache the gateway needs.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/vnmchuo/banana-gateway/config"
	"github.com/vnmchuo/banana-gateway/internal/httpclient"
	"github.com/vnmchuo/banana-gateway/internal/logging"
	"github.com/vnmchuo/banana-gateway/internal/provider"
	"github.com/vnmchuo/banana-gateway/internal/proxy"
)

func main() {
	cfg, err := config.LoadCLI()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	build := func() (*proxy.Router, error) {
		descriptors, _, err := config.LoadProviders(cfg.ProvidersFile, cfg.NanoAPIBaseURL)
		if err != nil {
			return nil, err
		}
		registry, err := provider.NewRegistry(descriptors, cfg.CredentialLookup)
		if err != nil {
			return nil, err
		}
		clientCfg := httpclient.DefaultConfig()
		return proxy.NewRouter(registry, proxy.NewAdapterFactory(httpclient.New(&clientCfg)),
			proxy.WithLogger(logger),
			proxy.WithHooks(fallbackNotices(os.Stderr)),
		)
	}

	if err := newRootCmd(build, logger).Execute(); err != nil {
		os.Exit(1)
	}
}
