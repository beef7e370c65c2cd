// Copyright (c) 2025 The Kestrel developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/kestrel-chain/kestrel/co"
	"github.com/kestrel-chain/kestrel/kestrel"
	"github.com/kestrel-chain/kestrel/log"
	"github.com/kestrel-chain/kestrel/lvldb"
	"github.com/kestrel-chain/kestrel/metrics"
	"github.com/kestrel-chain/kestrel/staker"
)

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".kestreld")
}

func initLogger(ctx *cli.Context) {
	var lvl slog.Level
	switch ctx.Int(verbosityFlag.Name) {
	case 0:
		lvl = log.LevelCrit
	case 1:
		lvl = log.LevelError
	case 2:
		lvl = log.LevelWarn
	case 3:
		lvl = log.LevelInfo
	case 4:
		lvl = log.LevelDebug
	default:
		lvl = log.LevelTrace
	}
	useColor := isatty.IsTerminal(os.Stderr.Fd()) && os.Getenv("TERM") != "dumb"
	log.InitTerminal(lvl, useColor)
}

func parseAdmin(ctx *cli.Context) (kestrel.Address, error) {
	raw := ctx.String(adminFlag.Name)
	if raw == "" {
		return kestrel.Address{}, nil
	}
	admin, err := kestrel.ParseAddress(raw)
	if err != nil {
		return kestrel.Address{}, errors.Wrap(err, "parse --admin")
	}
	return *admin, nil
}

func makeConfig(ctx *cli.Context) (staker.Config, error) {
	admin, err := parseAdmin(ctx)
	if err != nil {
		return staker.Config{}, err
	}
	config := staker.DefaultConfig(admin)
	if n := ctx.Uint64(maxQuorumSizeFlag.Name); n > 0 {
		config.MaxQuorumSize = n
	}
	if d := ctx.Uint64(epochDurationFlag.Name); d > 0 {
		config.EpochDuration = d
	}
	return config, nil
}

func openStore(ctx *cli.Context, inMem bool) (*lvldb.LevelDB, error) {
	if inMem {
		return lvldb.NewMem()
	}
	dataDir := ctx.String(dataDirFlag.Name)
	if dataDir == "" {
		return nil, errors.New("data dir unavailable, set --data-dir")
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, errors.Wrap(err, "create data dir")
	}
	return lvldb.New(filepath.Join(dataDir, "staking.db"), lvldb.Options{})
}

func startMetricsServer(addr string) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}
	metrics.InitializePrometheusMetrics()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "listen metrics")
	}
	srv := &http.Server{Handler: metrics.HTTPHandler()}

	var goes co.Goes
	goes.Go(func() {
		if err := srv.Serve(listener); err != http.ErrServerClosed {
			fmt.Fprintln(os.Stderr, "metrics server:", err)
		}
	})
	return func() {
		srv.Close()
		goes.Wait()
	}, nil
}
