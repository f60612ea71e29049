// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Command deltagated runs the delta gateway: an HTTP front that
// tracks resource update sequence numbers in redis and serves
// incremental collection listings, forwarding everything else
// according to a routing rule file.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo"

	"github.com/juju/deltagate/config"
	"github.com/juju/deltagate/gateway"
	"github.com/juju/deltagate/kvstore"
	"github.com/juju/deltagate/routing"
)

var logger = loggo.GetLogger("deltagate.cmd")

const shutdownGrace = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "deltagated: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath    string
		listenAddr    string
		loggingConfig string
		showLog       bool
	)
	flags := gnuflag.NewFlagSet("deltagated", gnuflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to the gateway configuration file")
	flags.StringVar(&listenAddr, "listen", "", "address to listen on, overriding the configuration")
	flags.StringVar(&loggingConfig, "logging-config", "", "loggo configuration, overriding the configuration")
	flags.BoolVar(&showLog, "show-log", false, "log at INFO and above to stderr")
	if err := flags.Parse(true, args); err != nil {
		return errors.Trace(err)
	}

	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Read(configPath)
		if err != nil {
			return errors.Annotate(err, "reading configuration")
		}
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if loggingConfig != "" {
		cfg.LoggingConfig = loggingConfig
	}
	if showLog {
		if err := loggo.ConfigureLoggers("<root>=INFO"); err != nil {
			return errors.Trace(err)
		}
	}
	if cfg.LoggingConfig != "" {
		if err := loggo.ConfigureLoggers(cfg.LoggingConfig); err != nil {
			return errors.Annotate(err, "configuring loggers")
		}
	}

	store, err := kvstore.NewRedis(kvstore.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return errors.Annotate(err, "connecting to redis")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Errorf("closing redis client: %v", err)
		}
	}()

	router, err := loadRouter(cfg)
	if err != nil {
		return errors.Trace(err)
	}

	selfURL, err := selfURL(cfg)
	if err != nil {
		return errors.Trace(err)
	}

	gw, err := gateway.New(gateway.Config{
		Store:          store,
		Router:         router,
		SelfURL:        selfURL,
		BackendTimeout: cfg.BackendTimeout(),
		DefaultTTL:     cfg.DefaultTTL(),
	})
	if err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(serve(cfg.ListenAddr, gw))
}

func loadRouter(cfg config.Config) (*routing.Router, error) {
	if cfg.RulesFile == "" {
		return nil, errors.NotValidf("empty rules-file")
	}
	data, err := os.ReadFile(cfg.RulesFile)
	if err != nil {
		return nil, errors.Annotate(err, "reading routing rules")
	}
	rules, err := routing.ParseRules(data, cfg.Properties)
	if err != nil {
		return nil, errors.Annotate(err, "parsing routing rules")
	}
	logger.Infof("loaded %d routing rules from %q", len(rules), cfg.RulesFile)
	return routing.NewRouter(routing.RouterConfig{
		Rules:          rules,
		DefaultTimeout: cfg.ForwardTimeout(),
	})
}

// selfURL derives the URL the gateway reaches itself on for the delta
// collection round trip. A configured self-url wins; otherwise it is
// built from the listen address, with wildcard hosts mapped to
// loopback.
func selfURL(cfg config.Config) (*url.URL, error) {
	if cfg.SelfURL != "" {
		u, err := url.Parse(cfg.SelfURL)
		if err != nil {
			return nil, errors.Annotate(err, "parsing self-url")
		}
		return u, nil
	}
	host, port, err := net.SplitHostPort(cfg.ListenAddr)
	if err != nil {
		return nil, errors.Annotatef(err, "parsing listen address %q", cfg.ListenAddr)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return &url.URL{Scheme: "http", Host: net.JoinHostPort(host, port)}, nil
}

func serve(addr string, handler http.Handler) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Trace(err)
	case <-ctx.Done():
	}

	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Annotate(err, "shutting down server")
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return errors.Trace(err)
	}
	return nil
}
