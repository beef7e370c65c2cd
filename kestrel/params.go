// Copyright (c) 2025 The Kestrel developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package kestrel

import "math/big"

// Constants of the staking protocol.
const (
	// EpochDuration is the wall-clock length of an epoch. A rotation cannot be
	// finalized before the epoch deadline has passed.
	EpochDuration uint64 = 60 * 60 * 24 // (unit: second)

	// WithdrawalDelay is the time that has to pass after the end of the unstake
	// epoch before unbonded funds can be released.
	WithdrawalDelay uint64 = 60 * 60 * 24 * 2 // (unit: second)

	// InitialMaxQuorumSize caps the number of signers selected into a quorum.
	InitialMaxQuorumSize uint64 = 21
)

var (
	// SharePrecision is the fixed-point scale of delegation pool share math.
	// The unit exchange rate of an empty pool equals SharePrecision.
	SharePrecision = big.NewInt(1e18)
)
