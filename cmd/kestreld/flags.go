// Copyright (c) 2025 The Kestrel developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	cli "gopkg.in/urfave/cli.v1"
)

var (
	dataDirFlag = cli.StringFlag{
		Name:  "data-dir",
		Value: defaultDataDir(),
		Usage: "directory for staking state database",
	}
	adminFlag = cli.StringFlag{
		Name:  "admin",
		Usage: "address allowed to call the admin surface",
	}
	maxQuorumSizeFlag = cli.Uint64Flag{
		Name:  "max-quorum-size",
		Value: 0,
		Usage: "override the quorum size cap (0 keeps the protocol default)",
	}
	epochDurationFlag = cli.Uint64Flag{
		Name:  "epoch-duration",
		Value: 0,
		Usage: "override the epoch duration in seconds (0 keeps the protocol default)",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Value: 3,
		Usage: "log verbosity (0-5)",
	}
	metricsAddrFlag = cli.StringFlag{
		Name:  "metrics-addr",
		Value: "",
		Usage: "prometheus metrics listening address, empty to disable",
	}
	onDemandFlag = cli.BoolFlag{
		Name:  "on-demand",
		Usage: "advance epochs as soon as asked instead of waiting for the deadline",
	}
	persistFlag = cli.BoolFlag{
		Name:  "persist",
		Usage: "save state to disk instead of memory (solo mode)",
	}
)
