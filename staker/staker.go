// Copyright (c) 2025 The Kestrel developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package staker is the staking core of the Kestrel network. It ties the
// validator ranking, the epoch state machine, the per-validator delegation
// pools and the unbonding ledger together behind one facade, and owns the
// only write path into each of them. Callers are expected to serialize
// mutations; the facade itself is not safe for concurrent writers.
package staker

import (
	"math/big"

	"github.com/kestrel-chain/kestrel/kestrel"
	"github.com/kestrel-chain/kestrel/log"
	"github.com/kestrel-chain/kestrel/staker/epoch"
	"github.com/kestrel-chain/kestrel/staker/pool"
	"github.com/kestrel-chain/kestrel/staker/registry"
	"github.com/kestrel-chain/kestrel/staker/reverts"
	"github.com/kestrel-chain/kestrel/staker/unbonding"
)

var logger = log.WithContext("pkg", "staker")

func SetLogger(l log.Logger) {
	logger = l
}

// Config carries the protocol parameters of a staker instance.
type Config struct {
	Admin             kestrel.Address
	MaxQuorumSize     uint64
	EpochDuration     uint64 // seconds
	WithdrawalDelay   uint64 // seconds, counted from epoch end
	RecoveryCacheSize int
}

// DefaultConfig returns the production parameters.
func DefaultConfig(admin kestrel.Address) Config {
	return Config{
		Admin:             admin,
		MaxQuorumSize:     kestrel.InitialMaxQuorumSize,
		EpochDuration:     kestrel.EpochDuration,
		WithdrawalDelay:   kestrel.WithdrawalDelay,
		RecoveryCacheSize: 1024,
	}
}

// Staker orchestrates the staking components. All stake amounts are in the
// token's smallest unit.
type Staker struct {
	config Config
	ledger Ledger

	registry *registry.Registry
	epochs   *epoch.Manager
	unbonds  *unbonding.Ledger
	pools    map[kestrel.Address]*pool.Pool

	// validator id -> signer identity; survives registry removal until the
	// validator's last queued exit is claimed
	signerOf map[kestrel.Address]kestrel.Address

	// validators closed for new delegations
	locked map[kestrel.Address]bool

	paused bool
}

// topSigners adapts the registry ranking to the epoch manager's source.
type topSigners struct {
	registry *registry.Registry
}

func (t *topSigners) TopSigners(max int) []kestrel.Address {
	signers := make([]kestrel.Address, 0, max)
	for current := t.registry.First(); current != nil && len(signers) < max; {
		entry, err := t.registry.Get(*current)
		if err != nil {
			break
		}
		signers = append(signers, entry.Signer)
		current = entry.Next
	}
	return signers
}

// New creates a staker with an empty registry at epoch zero.
func New(ledger Ledger, config Config, now uint64) (*Staker, error) {
	recoverer, err := epoch.NewSecpRecoverer(config.RecoveryCacheSize)
	if err != nil {
		return nil, err
	}

	s := &Staker{
		config:   config,
		ledger:   ledger,
		registry: registry.New(),
		pools:    make(map[kestrel.Address]*pool.Pool),
		signerOf: make(map[kestrel.Address]kestrel.Address),
		locked:   make(map[kestrel.Address]bool),
	}
	s.epochs = epoch.New(&topSigners{registry: s.registry}, recoverer, config.MaxQuorumSize, config.EpochDuration, now)
	s.unbonds = unbonding.New(s.epochs, config.WithdrawalDelay)
	return s, nil
}

//
// Getters - no state change
//

// Contains returns whether the validator is ranked.
func (s *Staker) Contains(validator kestrel.Address) bool {
	return s.registry.Contains(validator)
}

// Get returns the validator's registry entry.
func (s *Staker) Get(validator kestrel.Address) (*registry.Entry, error) {
	return s.registry.Get(validator)
}

// First returns the best backed validator id.
func (s *Staker) First() *kestrel.Address {
	return s.registry.First()
}

// Last returns the worst backed validator id.
func (s *Staker) Last() *kestrel.Address {
	return s.registry.Last()
}

// Next returns the validator ranked directly after the given one.
func (s *Staker) Next(validator kestrel.Address) (*kestrel.Address, error) {
	return s.registry.Next(validator)
}

// Prev returns the validator ranked directly before the given one.
func (s *Staker) Prev(validator kestrel.Address) (*kestrel.Address, error) {
	return s.registry.Prev(validator)
}

// All returns the full ranking, best first.
func (s *Staker) All() []kestrel.Address {
	return s.registry.All()
}

// ValidatorCount returns the number of ranked validators.
func (s *Staker) ValidatorCount() int {
	return s.registry.Size()
}

// ValidInsertPosition pre-validates a ranking hint for the given backing.
func (s *Staker) ValidInsertPosition(amount *big.Int, prev, next *kestrel.Address) bool {
	return s.registry.ValidInsertPosition(amount, prev, next)
}

// CurrentEpoch returns the live epoch number.
func (s *Staker) CurrentEpoch() uint32 {
	return s.epochs.CurrentEpoch()
}

// EpochDeadline returns the earliest timestamp Advance may succeed at.
func (s *Staker) EpochDeadline() uint64 {
	return s.epochs.Deadline()
}

// Signers returns the live quorum.
func (s *Staker) Signers() []kestrel.Address {
	return s.epochs.Signers(s.epochs.CurrentEpoch())
}

// NextSigners returns the live epoch's proposed next quorum.
func (s *Staker) NextSigners() []kestrel.Address {
	return s.epochs.NextSigners()
}

// AttestedCount returns the attestations collected for the live proposal.
func (s *Staker) AttestedCount() int {
	return s.epochs.AttestedCount()
}

// QuorumMet returns whether the live proposal has its supermajority.
func (s *Staker) QuorumMet() bool {
	return s.epochs.QuorumMet()
}

// MaxQuorumSize returns the quorum size cap.
func (s *Staker) MaxQuorumSize() uint64 {
	return s.epochs.MaxQuorumSize()
}

// DelegatedShares returns the delegator's share balance with a validator.
func (s *Staker) DelegatedShares(delegator, validator kestrel.Address) *big.Int {
	p, ok := s.pools[validator]
	if !ok {
		return new(big.Int)
	}
	return p.Balance(delegator)
}

// DelegatedStakeValue returns the current value of the delegator's shares.
func (s *Staker) DelegatedStakeValue(delegator, validator kestrel.Address) (*big.Int, error) {
	p, ok := s.pools[validator]
	if !ok {
		return nil, reverts.ErrNotPresent
	}
	entry, err := s.registry.Get(validator)
	if err != nil {
		return nil, err
	}
	return p.StakeValue(delegator, entry.DelegatedStake), nil
}

// PendingUnbond returns the delegator's open unbond with a validator.
func (s *Staker) PendingUnbond(delegator, validator kestrel.Address) (*pool.Unbond, bool) {
	p, ok := s.pools[validator]
	if !ok {
		return nil, false
	}
	return p.Unbond(delegator)
}

// PendingUnstake returns the validator's queued own-stake exit.
func (s *Staker) PendingUnstake(validator kestrel.Address) (*unbonding.Entry, bool) {
	return s.unbonds.Entry(validator)
}

// IsValidatorWithdrawable reports whether the validator's full exit gate is
// open at time now.
func (s *Staker) IsValidatorWithdrawable(validator kestrel.Address, now uint64) bool {
	signer, ok := s.signerOf[validator]
	if !ok {
		return false
	}
	return s.unbonds.IsValidatorWithdrawable(signer, now)
}

//
// Setters - state change
//

// AddValidator ranks a new validator with its initial own stake. The stake
// is debited from the validator's account and held by the core.
func (s *Staker) AddValidator(
	validator kestrel.Address,
	signer kestrel.Address,
	stake *big.Int,
	prevHint *kestrel.Address,
	nextHint *kestrel.Address,
) error {
	logger.Debug("adding validator", "validator", validator, "signer", signer, "stake", stake)
	if err := s.checkPaused(); err != nil {
		return err
	}

	if err := s.ledger.Debit(validator, stake); err != nil {
		s.reject("add validator", "validator", validator, err)
		return err
	}
	if err := s.registry.Insert(validator, signer, stake, new(big.Int), prevHint, nextHint); err != nil {
		s.ledger.Credit(validator, stake)
		s.reject("add validator", "validator", validator, err)
		return err
	}

	// a pool may survive a full exit while delegator claims are pending;
	// a re-registering validator keeps it
	if _, ok := s.pools[validator]; !ok {
		s.pools[validator] = pool.New()
	}
	s.signerOf[validator] = signer
	metricsValidatorCount().Set(int64(s.registry.Size()))

	logger.Info("added validator", "validator", validator)
	return nil
}

// IncreaseStake adds to a validator's own stake and repositions it.
func (s *Staker) IncreaseStake(
	validator kestrel.Address,
	amount *big.Int,
	prevHint *kestrel.Address,
	nextHint *kestrel.Address,
) error {
	logger.Debug("increasing stake", "validator", validator, "amount", amount)
	if err := s.checkPaused(); err != nil {
		return err
	}

	entry, err := s.registry.Get(validator)
	if err != nil {
		s.reject("increase stake", "validator", validator, err)
		return err
	}
	if amount.Sign() <= 0 {
		s.reject("increase stake", "validator", validator, reverts.ErrZeroAmount)
		return reverts.ErrZeroAmount
	}
	if err := s.ledger.Debit(validator, amount); err != nil {
		s.reject("increase stake", "validator", validator, err)
		return err
	}

	newOwn := new(big.Int).Add(entry.OwnStake, amount)
	if err := s.registry.UpdateAmount(validator, newOwn, entry.DelegatedStake, prevHint, nextHint); err != nil {
		s.ledger.Credit(validator, amount)
		s.reject("increase stake", "validator", validator, err)
		return err
	}

	logger.Info("increased stake", "validator", validator)
	return nil
}

// RequestUnstake removes part or all of a validator's own stake from the
// ranking. If the validator's full exit gate is already open, the tokens
// are released immediately; otherwise the amount is queued in the
// unbonding ledger at the current epoch. Returns whether the release was
// immediate.
func (s *Staker) RequestUnstake(
	validator kestrel.Address,
	amount *big.Int,
	now uint64,
	prevHint *kestrel.Address,
	nextHint *kestrel.Address,
) (bool, error) {
	logger.Debug("requesting unstake", "validator", validator, "amount", amount)
	if err := s.checkPaused(); err != nil {
		return false, err
	}

	entry, err := s.registry.Get(validator)
	if err != nil {
		s.reject("request unstake", "validator", validator, err)
		return false, err
	}
	if amount.Sign() <= 0 {
		s.reject("request unstake", "validator", validator, reverts.ErrZeroAmount)
		return false, reverts.ErrZeroAmount
	}
	if entry.OwnStake.Cmp(amount) < 0 {
		s.reject("request unstake", "validator", validator, reverts.ErrInsufficientStake)
		return false, reverts.ErrInsufficientStake
	}

	immediate := s.unbonds.IsValidatorWithdrawable(entry.Signer, now)
	if !immediate {
		if err := s.unbonds.Request(validator, amount); err != nil {
			s.reject("request unstake", "validator", validator, err)
			return false, err
		}
	}

	newOwn := new(big.Int).Sub(entry.OwnStake, amount)
	if newOwn.Sign() == 0 && entry.DelegatedStake.Sign() == 0 {
		if err := s.registry.Remove(validator); err != nil {
			return false, err
		}
	} else {
		if err := s.registry.UpdateAmount(validator, newOwn, entry.DelegatedStake, prevHint, nextHint); err != nil {
			return false, err
		}
	}
	metricsValidatorCount().Set(int64(s.registry.Size()))

	if immediate {
		s.ledger.Credit(validator, amount)
		s.pruneValidator(validator)
	}
	logger.Info("requested unstake", "validator", validator, "immediate", immediate)
	return immediate, nil
}

// WithdrawStake claims a validator's queued exit once its cooldown gate
// opens and releases the tokens.
func (s *Staker) WithdrawStake(validator kestrel.Address, now uint64) (*big.Int, error) {
	logger.Debug("withdrawing stake", "validator", validator)
	if err := s.checkPaused(); err != nil {
		return nil, err
	}

	amount, err := s.unbonds.Claim(validator, now)
	if err != nil {
		s.reject("withdraw stake", "validator", validator, err)
		return nil, err
	}
	s.ledger.Credit(validator, amount)
	s.pruneValidator(validator)
	metricsStakeWithdrawals().Add(1)

	logger.Info("withdrew stake", "validator", validator, "amount", amount)
	return amount, nil
}

// Delegate buys shares in a validator's pool. The deposit is clamped to
// the exact value of the minted shares; only the clamped amount is debited.
func (s *Staker) Delegate(
	delegator kestrel.Address,
	validator kestrel.Address,
	amount *big.Int,
	minSharesToMint *big.Int,
	prevHint *kestrel.Address,
	nextHint *kestrel.Address,
) (*pool.Purchase, error) {
	logger.Debug("delegating", "delegator", delegator, "validator", validator, "amount", amount)
	if err := s.checkPaused(); err != nil {
		return nil, err
	}
	if s.locked[validator] {
		s.reject("delegate", "delegator", delegator, reverts.ErrLocked)
		return nil, reverts.ErrLocked
	}

	entry, err := s.registry.Get(validator)
	if err != nil {
		s.reject("delegate", "delegator", delegator, err)
		return nil, err
	}
	p := s.pools[validator]

	if err := s.ledger.Debit(delegator, amount); err != nil {
		s.reject("delegate", "delegator", delegator, err)
		return nil, err
	}
	purchase, err := p.Buy(delegator, entry.DelegatedStake, amount, minSharesToMint)
	if err != nil {
		s.ledger.Credit(delegator, amount)
		s.reject("delegate", "delegator", delegator, err)
		return nil, err
	}
	// refund the clamp remainder
	if remainder := new(big.Int).Sub(amount, purchase.Amount); remainder.Sign() > 0 {
		s.ledger.Credit(delegator, remainder)
	}

	newDelegated := new(big.Int).Add(entry.DelegatedStake, purchase.Amount)
	if err := s.registry.UpdateAmount(validator, entry.OwnStake, newDelegated, prevHint, nextHint); err != nil {
		return nil, err
	}
	metricsDelegationBuys().Add(1)

	logger.Info("delegated", "delegator", delegator, "validator", validator, "shares", purchase.Shares)
	return purchase, nil
}

// Undelegate sells shares worth claimAmount back to the pool. If the
// validator's full exit gate is open the tokens are released immediately;
// otherwise the claim enters the pool's withdraw sub-pool and must be
// claimed later with ClaimUnstaked.
func (s *Staker) Undelegate(
	delegator kestrel.Address,
	validator kestrel.Address,
	claimAmount *big.Int,
	maxSharesToBurn *big.Int,
	now uint64,
	prevHint *kestrel.Address,
	nextHint *kestrel.Address,
) (*pool.Exit, error) {
	logger.Debug("undelegating", "delegator", delegator, "validator", validator, "amount", claimAmount)
	if err := s.checkPaused(); err != nil {
		return nil, err
	}

	entry, err := s.registry.Get(validator)
	if err != nil {
		s.reject("undelegate", "delegator", delegator, err)
		return nil, err
	}
	p := s.pools[validator]

	immediate := s.unbonds.IsValidatorWithdrawable(entry.Signer, now)
	exit, err := p.Sell(delegator, entry.DelegatedStake, claimAmount, maxSharesToBurn, s.epochs.CurrentEpoch(), immediate)
	if err != nil {
		s.reject("undelegate", "delegator", delegator, err)
		return nil, err
	}

	newDelegated := new(big.Int).Sub(entry.DelegatedStake, exit.Amount)
	if newDelegated.Sign() == 0 && entry.OwnStake.Sign() == 0 {
		if err := s.registry.Remove(validator); err != nil {
			return nil, err
		}
	} else {
		if err := s.registry.UpdateAmount(validator, entry.OwnStake, newDelegated, prevHint, nextHint); err != nil {
			return nil, err
		}
	}
	metricsValidatorCount().Set(int64(s.registry.Size()))

	if exit.Immediate {
		s.ledger.Credit(delegator, exit.Amount)
		s.pruneValidator(validator)
	}
	metricsDelegationSells().Add(1)

	logger.Info("undelegated", "delegator", delegator, "validator", validator,
		"shares", exit.Shares, "immediate", exit.Immediate)
	return exit, nil
}

// ClaimUnstaked pays out the delegator's pending unbond once its unstake
// epoch's cooldown gate opens, or at once if the validator's full exit
// gate is open.
func (s *Staker) ClaimUnstaked(delegator, validator kestrel.Address, now uint64) (*big.Int, error) {
	logger.Debug("claiming unstaked", "delegator", delegator, "validator", validator)
	if err := s.checkPaused(); err != nil {
		return nil, err
	}

	p, ok := s.pools[validator]
	if !ok {
		s.reject("claim unstaked", "delegator", delegator, reverts.ErrNothingToClaim)
		return nil, reverts.ErrNothingToClaim
	}
	unbond, ok := p.Unbond(delegator)
	if !ok {
		s.reject("claim unstaked", "delegator", delegator, reverts.ErrNothingToClaim)
		return nil, reverts.ErrNothingToClaim
	}

	eligible := s.unbonds.IsUnstakeTokensWithdrawable(unbond.UnstakeEpoch, now)
	if !eligible {
		if signer, ok := s.signerOf[validator]; ok {
			eligible = s.unbonds.IsValidatorWithdrawable(signer, now)
		}
	}
	if !eligible {
		s.reject("claim unstaked", "delegator", delegator, reverts.ErrNotYetEligible)
		return nil, reverts.ErrNotYetEligible
	}

	payout, err := p.Claim(delegator)
	if err != nil {
		s.reject("claim unstaked", "delegator", delegator, err)
		return nil, err
	}
	s.ledger.Credit(delegator, payout)
	s.pruneValidator(validator)

	logger.Info("claimed unstaked", "delegator", delegator, "validator", validator, "amount", payout)
	return payout, nil
}

// ProposeNextQuorum installs a fresh next-quorum proposal for the live
// epoch, ordered by the given permutation (nil for canonical).
func (s *Staker) ProposeNextQuorum(order []uint64) error {
	logger.Debug("proposing next quorum", "epoch", s.epochs.CurrentEpoch())
	if err := s.checkPaused(); err != nil {
		return err
	}

	if err := s.epochs.ProposeNextQuorum(order); err != nil {
		s.reject("propose next quorum", "epoch", s.epochs.CurrentEpoch(), err)
		return err
	}
	logger.Info("proposed next quorum", "epoch", s.epochs.CurrentEpoch(), "size", len(s.epochs.NextSigners()))
	return nil
}

// Attest records one current signer's attestation of the live proposal.
func (s *Staker) Attest(signerIndex int, sig []byte) error {
	logger.Debug("attesting", "epoch", s.epochs.CurrentEpoch(), "signerIndex", signerIndex)
	if err := s.checkPaused(); err != nil {
		return err
	}

	if err := s.epochs.Attest(signerIndex, sig); err != nil {
		metricsAttestations().AddWithLabel(1, map[string]string{"status": "rejected"})
		s.reject("attest", "signerIndex", signerIndex, err)
		return err
	}
	metricsAttestations().AddWithLabel(1, map[string]string{"status": "accepted"})
	logger.Info("attested", "epoch", s.epochs.CurrentEpoch(), "attested", s.epochs.AttestedCount())
	return nil
}

// Advance seals the live epoch and opens the next one, rotating the quorum
// if the attestation supermajority was reached.
func (s *Staker) Advance(now uint64, order []uint64) (*epoch.Rotation, error) {
	logger.Debug("advancing epoch", "epoch", s.epochs.CurrentEpoch())
	if err := s.checkPaused(); err != nil {
		return nil, err
	}

	rotation, err := s.epochs.Advance(now, order)
	if err != nil {
		s.reject("advance epoch", "epoch", s.epochs.CurrentEpoch(), err)
		return nil, err
	}
	metricsEpochRotations().AddWithLabel(1, map[string]string{"rotated": boolLabel(rotation.Rotated)})

	logger.Info("advanced epoch", "epoch", rotation.Epoch,
		"rotated", rotation.Rotated, "signers", len(rotation.Signers), "dropped", len(rotation.Dropped))
	return rotation, nil
}

//
// Admin surface
//

// SetMaxQuorumSize updates the quorum size cap. Admin only.
func (s *Staker) SetMaxQuorumSize(caller kestrel.Address, n uint64) error {
	if err := s.checkAdmin(caller); err != nil {
		return err
	}
	s.epochs.SetMaxQuorumSize(n)
	logger.Info("set max quorum size", "size", n)
	return nil
}

// SetDeadlineEnforced toggles the epoch deadline gate. Admin only; meant
// for solo and maintenance runs.
func (s *Staker) SetDeadlineEnforced(caller kestrel.Address, enforced bool) error {
	if err := s.checkAdmin(caller); err != nil {
		return err
	}
	s.epochs.SetDeadlineEnforced(enforced)
	logger.Info("set deadline enforcement", "enforced", enforced)
	return nil
}

// Lock closes one validator for new delegations. Admin only.
func (s *Staker) Lock(caller, validator kestrel.Address) error {
	if err := s.checkAdmin(caller); err != nil {
		return err
	}
	if !s.registry.Contains(validator) {
		return reverts.ErrNotPresent
	}
	s.locked[validator] = true
	logger.Info("locked validator", "validator", validator)
	return nil
}

// Unlock re-opens the validator for delegations. Admin only.
func (s *Staker) Unlock(caller, validator kestrel.Address) error {
	if err := s.checkAdmin(caller); err != nil {
		return err
	}
	delete(s.locked, validator)
	logger.Info("unlocked validator", "validator", validator)
	return nil
}

// Pause stops all mutating operations. Admin only.
func (s *Staker) Pause(caller kestrel.Address) error {
	if err := s.checkAdmin(caller); err != nil {
		return err
	}
	s.paused = true
	logger.Warn("paused staking")
	return nil
}

// Unpause re-enables mutating operations. Admin only.
func (s *Staker) Unpause(caller kestrel.Address) error {
	if err := s.checkAdmin(caller); err != nil {
		return err
	}
	s.paused = false
	logger.Info("unpaused staking")
	return nil
}

func (s *Staker) checkAdmin(caller kestrel.Address) error {
	if caller != s.config.Admin {
		logger.Warn("unauthorized admin call", "caller", caller)
		return reverts.ErrNotAuthorized
	}
	return nil
}

func (s *Staker) checkPaused() error {
	if s.paused {
		return reverts.ErrPaused
	}
	return nil
}

// pruneValidator drops the pool and signer mapping of a validator that has
// fully exited and has no delegation state left.
func (s *Staker) pruneValidator(validator kestrel.Address) {
	if s.registry.Contains(validator) {
		return
	}
	if _, open := s.unbonds.Entry(validator); open {
		return
	}
	if p, ok := s.pools[validator]; ok {
		if p.TotalShares().Sign() != 0 || p.WithdrawShares().Sign() != 0 || len(p.Delegators()) != 0 {
			return
		}
		delete(s.pools, validator)
	}
	delete(s.signerOf, validator)
	delete(s.locked, validator)
}

func (s *Staker) reject(op, key string, val any, err error) {
	logger.Info(op+" failed", key, val, "error", err)
	metricsRejectedMutations().AddWithLabel(1, map[string]string{"kind": reverts.KindOf(err).String()})
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
