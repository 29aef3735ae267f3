// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

// snag-agent forwards a device log stream to Snag collectors. It reads
// log lines from stdin, or from the stdout of a command given with
// --exec (for example "adb logcat -v threadtime"), and ships them as
// merged log entries whenever a collector has asked for log streaming.
//
//	adb logcat -v threadtime | snag-agent --project Shop
//	snag-agent --project Shop --exec "adb logcat -v threadtime"
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/thanhcuong1990/Snag-sub000/agent"
	"github.com/thanhcuong1990/Snag-sub000/lib/config"
	"github.com/thanhcuong1990/Snag-sub000/lib/discovery"
	"github.com/thanhcuong1990/Snag-sub000/lib/logging"
	"github.com/thanhcuong1990/Snag-sub000/lib/process"
	"github.com/thanhcuong1990/Snag-sub000/lib/tlsutil"
	"github.com/thanhcuong1990/Snag-sub000/lib/version"
	"github.com/thanhcuong1990/Snag-sub000/logline"
	"github.com/thanhcuong1990/Snag-sub000/protocol"
	"github.com/thanhcuong1990/Snag-sub000/transport"
)

// drainTimeout bounds how long the agent waits for queued packets once
// its input ends.
const drainTimeout = 3 * time.Second

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		project     string
		bundleID    string
		deviceName  string
		endpoints   []string
		pin         string
		fingerprint string
		command     string
		logLevel    string
		enableTLS   bool
		noBrowse    bool
		streamLogs  bool
		verbose     bool
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("snag-agent", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to snag.yaml (default: $SNAG_CONFIG, then built-in defaults)")
	flagSet.StringVar(&project, "project", "", "project name reported to collectors")
	flagSet.StringVar(&bundleID, "bundle-id", "", "application bundle identifier")
	flagSet.StringVar(&deviceName, "device-name", "", "device name (default: hostname)")
	flagSet.StringSliceVar(&endpoints, "endpoint", nil, "collector host:port to dial (repeatable)")
	flagSet.StringVar(&pin, "pin", "", "PIN presented to collectors")
	flagSet.StringVar(&fingerprint, "fingerprint", "", "pin the collector certificate to this fingerprint")
	flagSet.StringVar(&command, "exec", "", "read log lines from this command instead of stdin")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	flagSet.BoolVar(&enableTLS, "tls", false, "encrypt connections to collectors")
	flagSet.BoolVar(&noBrowse, "no-browse", false, "dial only --endpoint addresses, skip DNS-SD")
	flagSet.BoolVar(&streamLogs, "stream-logs", false, "forward logs before a collector asks")
	flagSet.BoolVar(&verbose, "verbose", false, "forward every line instead of dropping known noise")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("snag-agent")
		return nil
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	agentConfig := &cfg.Agent
	overrideString(&agentConfig.ProjectName, project)
	overrideString(&agentConfig.BundleID, bundleID)
	overrideString(&agentConfig.DeviceName, deviceName)
	overrideString(&agentConfig.AuthPIN, pin)
	overrideString(&agentConfig.TLS.Fingerprint, fingerprint)
	overrideString(&cfg.LogLevel, logLevel)
	agentConfig.Endpoints = append(agentConfig.Endpoints, endpoints...)
	if enableTLS || fingerprint != "" {
		agentConfig.TLS.Enabled = true
	}
	if noBrowse {
		agentConfig.Browse = false
	}
	if streamLogs {
		agentConfig.StreamLogs = true
	}
	if agentConfig.DeviceName == "" {
		agentConfig.DeviceName, _ = os.Hostname()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	level, _ := cfg.Level()
	logger := logging.New(level)

	transportConfig := transport.Config{
		ServiceType:     agentConfig.ServiceType,
		Domain:          agentConfig.Domain,
		StaticEndpoints: agentConfig.Endpoints,
		AuthPIN:         agentConfig.AuthPIN,
		QueueCapacity:   agentConfig.QueueCapacity,
		OfflineCapacity: agentConfig.OfflineCapacity,
		MaxInFlight:     agentConfig.MaxInFlight,
		ReconnectDelay:  agentConfig.ReconnectDelay,
		ConnectTimeout:  agentConfig.ConnectTimeout,
		Logger:          logger.With("component", "transport"),
	}
	if agentConfig.Browse {
		transportConfig.Browser = &discovery.Zeroconf{Logger: logger.With("component", "discovery")}
	}
	if agentConfig.TLS.Enabled {
		transportConfig.TLS = tlsutil.ClientConfig(agentConfig.TLS.Fingerprint)
	}

	a, err := agent.New(agent.Config{
		Project: protocol.ProjectInfo{ProjectName: agentConfig.ProjectName, BundleID: agentConfig.BundleID},
		Device: protocol.DeviceInfo{
			DeviceID:          agentConfig.DeviceID,
			DeviceName:        agentConfig.DeviceName,
			DeviceDescription: "snag-agent " + version.Short(),
		},
		Transport:  transportConfig,
		StreamLogs: agentConfig.StreamLogs,
		Lines:      logline.Options{Verbose: verbose},
		Logger:     logger.With("component", "agent"),
	})
	if err != nil {
		return err
	}

	ctx, stop := process.SignalContext()
	defer stop()

	source, wait, err := openSource(ctx, command)
	if err != nil {
		return err
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	ran := make(chan error, 1)
	go func() { ran <- a.Run(runCtx) }()

	logger.Info("snag-agent running",
		"version", version.Info(),
		"project", agentConfig.ProjectName,
		"device_id", a.DeviceID(),
		"browse", agentConfig.Browse,
		"endpoints", agentConfig.Endpoints,
	)

	forwardErr := a.ForwardLines(ctx, source)
	if forwardErr == nil {
		drain(ctx, a, logger)
	}
	if waitErr := wait(); waitErr != nil && forwardErr == nil && ctx.Err() == nil {
		forwardErr = waitErr
	}
	cancelRun()
	if err := <-ran; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(forwardErr, context.Canceled) {
		return nil
	}
	return forwardErr
}

func overrideString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

// openSource returns the line source and a function reaping it.
func openSource(ctx context.Context, command string) (io.Reader, func() error, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return os.Stdin, func() error { return nil }, nil
	}
	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("starting %q: %w", command, err)
	}
	return stdout, cmd.Wait, nil
}

// drain waits for queued packets to be written or drainTimeout.
func drain(ctx context.Context, a *agent.Agent, logger *slog.Logger) {
	deadline := time.After(drainTimeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		stats := a.Stats()
		if stats.Queued == 0 && stats.InFlight == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			logger.Warn("input ended with packets still queued",
				"queued", stats.Queued, "in_flight", stats.InFlight, "offline", stats.Offline)
			return
		case <-ticker.C:
		}
	}
}
