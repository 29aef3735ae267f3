// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

// snag-collector is the desktop side of Snag. It accepts connections
// from instrumented apps, advertises itself over DNS-SD, keeps the
// per-project and per-device view of the traffic and logs they send,
// and serves that view to presentation layers over a local HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/thanhcuong1990/Snag-sub000/api"
	"github.com/thanhcuong1990/Snag-sub000/lib/config"
	"github.com/thanhcuong1990/Snag-sub000/lib/discovery"
	"github.com/thanhcuong1990/Snag-sub000/lib/logging"
	"github.com/thanhcuong1990/Snag-sub000/lib/process"
	"github.com/thanhcuong1990/Snag-sub000/lib/tlsutil"
	"github.com/thanhcuong1990/Snag-sub000/lib/version"
	"github.com/thanhcuong1990/Snag-sub000/publisher"
	"github.com/thanhcuong1990/Snag-sub000/session"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		listen      string
		httpListen  string
		pin         string
		logLevel    string
		enableTLS   bool
		noAdvertise bool
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("snag-collector", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to snag.yaml (default: $SNAG_CONFIG, then built-in defaults)")
	flagSet.StringVar(&listen, "listen", "", "TCP address apps connect to (overrides collector.listen)")
	flagSet.StringVar(&httpListen, "http-listen", "", "address of the inspection API (overrides collector.http_listen)")
	flagSet.StringVar(&pin, "pin", "", "require apps to present this PIN")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	flagSet.BoolVar(&enableTLS, "tls", false, "encrypt connections (self-signed unless collector.tls names a certificate)")
	flagSet.BoolVar(&noAdvertise, "no-advertise", false, "do not register the collector over DNS-SD")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("snag-collector")
		return nil
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	collectorConfig := &cfg.Collector
	if listen != "" {
		collectorConfig.Listen = listen
	}
	if flagSet.Changed("http-listen") {
		collectorConfig.HTTPListen = httpListen
	}
	if pin != "" {
		collectorConfig.AuthPIN = pin
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if enableTLS {
		collectorConfig.TLS.Enabled = true
	}
	if noAdvertise {
		collectorConfig.Advertise = false
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	level, _ := cfg.Level()
	logger := logging.New(level)

	ctx, stop := process.SignalContext()
	defer stop()

	publisherConfig := publisher.Config{
		Address:      collectorConfig.Listen,
		AuthPIN:      collectorConfig.AuthPIN,
		ServiceType:  collectorConfig.ServiceType,
		Domain:       collectorConfig.Domain,
		InstanceName: collectorConfig.InstanceName,
		Logger:       logger.With("component", "publisher"),
	}
	if collectorConfig.Advertise {
		publisherConfig.Advertiser = &discovery.Zeroconf{Logger: logger.With("component", "discovery")}
	}
	if collectorConfig.TLS.Enabled {
		hostname, _ := os.Hostname()
		certificate, err := tlsutil.LoadOrSelfSigned(collectorConfig.TLS.CertFile, collectorConfig.TLS.KeyFile,
			[]string{hostname, "localhost"}, time.Now())
		if err != nil {
			return fmt.Errorf("loading certificate: %w", err)
		}
		publisherConfig.TLS = tlsutil.ServerConfig(certificate)
		logger.Info("tls enabled", "fingerprint", tlsutil.CertificateFingerprint(certificate))
	}

	pub, err := publisher.New(publisherConfig)
	if err != nil {
		return err
	}
	defer pub.Close()

	collector := session.New(session.Config{
		Sender:               pub,
		RequestCapacity:      collectorConfig.RequestCapacity,
		LogCapacity:          collectorConfig.LogCapacity,
		AppInfoRetryInterval: collectorConfig.AppInfoRetryInterval,
		StreamLogsByDefault:  collectorConfig.StreamLogsByDefault,
		Logger:               logger.With("component", "session"),
	})

	errs := make(chan error, 2)
	running := 1
	go func() { errs <- pub.Serve(ctx, collector) }()

	if collectorConfig.HTTPListen != "" {
		listener, err := net.Listen("tcp", collectorConfig.HTTPListen)
		if err != nil {
			stop()
			<-errs
			return fmt.Errorf("api listen: %w", err)
		}
		server := api.New(api.Config{Session: collector, Logger: logger.With("component", "api")})
		running++
		go func() { errs <- server.Serve(ctx, listener) }()
	}

	logger.Info("snag-collector running",
		"version", version.Info(),
		"listen", pub.Address(),
		"http_listen", collectorConfig.HTTPListen,
		"advertise", collectorConfig.Advertise,
	)

	// The first failure stops everything; the rest drain.
	var firstErr error
	for range running {
		if err := <-errs; err != nil && !errors.Is(err, context.Canceled) && firstErr == nil {
			firstErr = err
			stop()
		}
	}
	logger.Info("snag-collector stopped", "dropped_events", collector.DroppedEvents())
	return firstErr
}
