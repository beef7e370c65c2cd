// Copyright (c) 2025 The Kestrel developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "gopkg.in/urfave/cli.v1"

	"github.com/kestrel-chain/kestrel/kestrel"
	"github.com/kestrel-chain/kestrel/log"
	"github.com/kestrel-chain/kestrel/staker"
)

var (
	version   string
	gitCommit string
	gitTag    string

	logger = log.WithContext("pkg", "main")
)

func fullVersion() string {
	versionMeta := "release"
	if gitTag == "" {
		versionMeta = "dev"
	}
	return fmt.Sprintf("%s-%s-%s", version, gitCommit, versionMeta)
}

func main() {
	app := cli.App{
		Version:   fullVersion(),
		Name:      "kestreld",
		Usage:     "Staking daemon of the Kestrel network",
		Copyright: "2025 The Kestrel developers",
		Flags: []cli.Flag{
			dataDirFlag,
			adminFlag,
			maxQuorumSizeFlag,
			epochDurationFlag,
			verbosityFlag,
			metricsAddrFlag,
		},
		Action: defaultAction,
		Commands: []cli.Command{
			{
				Name:  "solo",
				Usage: "run with in-memory state for test & dev",
				Flags: []cli.Flag{
					dataDirFlag,
					adminFlag,
					maxQuorumSizeFlag,
					epochDurationFlag,
					verbosityFlag,
					metricsAddrFlag,
					onDemandFlag,
					persistFlag,
				},
				Action: soloAction,
			},
			{
				Name:  "inspect",
				Usage: "print the persisted ranking and epoch state",
				Flags: []cli.Flag{
					dataDirFlag,
					verbosityFlag,
				},
				Action: inspectAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultAction(ctx *cli.Context) error {
	initLogger(ctx)
	return run(ctx, false, false)
}

func soloAction(ctx *cli.Context) error {
	initLogger(ctx)
	return run(ctx, true, !ctx.Bool(persistFlag.Name))
}

func run(ctx *cli.Context, solo, inMem bool) error {
	config, err := makeConfig(ctx)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, inMem)
	if err != nil {
		return err
	}
	defer store.Close()

	now := uint64(time.Now().Unix())
	core, err := staker.NewFromStore(staker.NewMemLedger(), config, store, now)
	if err != nil {
		return err
	}
	if solo && ctx.Bool(onDemandFlag.Name) {
		if err := core.SetDeadlineEnforced(config.Admin, false); err != nil {
			return err
		}
	}

	stopMetrics, err := startMetricsServer(ctx.String(metricsAddrFlag.Name))
	if err != nil {
		return err
	}
	defer stopMetrics()

	logger.Info("kestreld started",
		"version", fullVersion(),
		"epoch", core.CurrentEpoch(),
		"validators", core.ValidatorCount(),
		"solo", solo,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			logger.Info("shutting down")
			if err := core.Save(store); err != nil {
				logger.Error("saving state failed", "error", err)
				return err
			}
			return nil
		case tick := <-ticker.C:
			// seal the epoch once its deadline has passed and the quorum agrees
			now := uint64(tick.Unix())
			if now < core.EpochDeadline() || !core.QuorumMet() {
				continue
			}
			if _, err := core.Advance(now, nil); err != nil {
				logger.Warn("epoch advance failed", "error", err)
			}
		}
	}
}

func inspectAction(ctx *cli.Context) error {
	initLogger(ctx)

	store, err := openStore(ctx, false)
	if err != nil {
		return err
	}
	defer store.Close()

	now := uint64(time.Now().Unix())
	core, err := staker.NewFromStore(staker.NewMemLedger(), staker.DefaultConfig(kestrel.Address{}), store, now)
	if err != nil {
		return err
	}

	fmt.Printf("epoch:      %d\n", core.CurrentEpoch())
	fmt.Printf("deadline:   %d\n", core.EpochDeadline())
	fmt.Printf("validators: %d\n", core.ValidatorCount())
	fmt.Printf("signers:\n")
	for _, signer := range core.Signers() {
		fmt.Printf("  %s\n", signer)
	}
	fmt.Printf("ranking:\n")
	for rank, id := range core.All() {
		entry, err := core.Get(id)
		if err != nil {
			return err
		}
		fmt.Printf("  %3d %s own=%s delegated=%s\n",
			rank+1, id, entry.OwnStake, entry.DelegatedStake)
	}
	return nil
}
