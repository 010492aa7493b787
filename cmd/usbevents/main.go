// Zaparoo USB Events
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo USB Events.
//
// Zaparoo USB Events is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo USB Events is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo USB Events.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ZaparooProject/usbevents/pkg/config"
	"github.com/ZaparooProject/usbevents/pkg/device"
	"github.com/ZaparooProject/usbevents/pkg/helpers"
	"github.com/ZaparooProject/usbevents/pkg/usbevents"
	"github.com/ZaparooProject/usbevents/pkg/watcher"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func defaultConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, config.AppName)
}

func run() error {
	configDir := flag.String(
		"config-dir",
		defaultConfigDir(),
		"directory holding config and log files",
	)
	debug := flag.Bool(
		"debug",
		false,
		"enable debug logging",
	)
	includeTTY := flag.Bool(
		"tty",
		false,
		"also watch USB serial ttys",
	)
	resolve := flag.String(
		"resolve",
		"",
		"print the mount point of the USB device at this sysfs path and exit",
	)
	showVersion := flag.Bool(
		"version",
		false,
		"print version and exit",
	)
	flag.Parse()

	if *showVersion {
		_, _ = fmt.Printf("%s %s\n", config.AppName, config.AppVersion)
		return nil
	}

	cfg, err := config.NewConfig(afero.NewOsFs(), *configDir, config.BaseDefaults)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if *debug {
		cfg.SetDebugLogging(true)
	}
	if *includeTTY {
		cfg.SetIncludeTTY(true)
	}

	err = helpers.InitLogging(
		*configDir,
		cfg.DebugLogging(),
		zerolog.ConsoleWriter{Out: os.Stderr},
	)
	if err != nil {
		return fmt.Errorf("error initializing logging: %w", err)
	}

	defer func() {
		if err := recover(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Panic: %s\n", err)
			log.Fatal().Msgf("panic: %v", err)
		}
	}()

	log.Info().
		Str("version", config.AppVersion).
		Str("config", cfg.Path()).
		Str("log", helpers.LogFilePath(*configDir)).
		Msg("starting usbevents")

	if *resolve != "" {
		return printMountPoint(os.Stdout, cfg, *resolve)
	}

	return watch(cfg)
}

func printMountPoint(w io.Writer, cfg *config.Instance, sysPath string) error {
	var mountPath string
	usbevents.NewWatcher(usbevents.SystemSource(usbevents.SourceConfig(cfg))).
		ResolveMountPoint(sysPath, func(p string) { mountPath = p })

	if mountPath == "" {
		return fmt.Errorf("no mount point found for %s", sysPath)
	}
	_, _ = fmt.Fprintln(w, mountPath)
	return nil
}

func printer(w io.Writer) watcher.HandlerFuncs {
	return watcher.HandlerFuncs{
		Inserted: func(rec device.Record) {
			_, _ = fmt.Fprintf(w, "inserted %s\n", rec)
		},
		Removed: func(rec device.Record) {
			_, _ = fmt.Fprintf(w, "removed  %s\n", rec)
		},
	}
}

func watch(cfg *config.Instance) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mon := usbevents.NewMonitorFromConfig(cfg, printer(os.Stdout))

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	go func() {
		select {
		case sig := <-sigs:
			log.Info().Stringer("signal", sig).Msg("shutting down")
			mon.Stop()
		case <-ctx.Done():
		}
	}()

	if err := mon.Run(ctx); err != nil {
		log.Error().Err(err).Msg("device watch failed")
		return fmt.Errorf("device watch failed: %w", err)
	}
	return nil
}
