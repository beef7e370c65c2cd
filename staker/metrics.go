// Copyright (c) 2025 The Kestrel developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package staker

import "github.com/kestrel-chain/kestrel/metrics"

var (
	metricsValidatorCount    = metrics.LazyLoadGauge("staker_validator_count")
	metricsEpochRotations    = metrics.LazyLoadCounterVec("staker_epoch_rotation_count", []string{"rotated"})
	metricsAttestations      = metrics.LazyLoadCounterVec("staker_attestation_count", []string{"status"})
	metricsDelegationBuys    = metrics.LazyLoadCounter("staker_delegation_buy_count")
	metricsDelegationSells   = metrics.LazyLoadCounter("staker_delegation_sell_count")
	metricsStakeWithdrawals  = metrics.LazyLoadCounter("staker_stake_withdrawal_count")
	metricsRejectedMutations = metrics.LazyLoadCounterVec("staker_rejected_mutation_count", []string{"kind"})
)
