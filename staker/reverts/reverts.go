// Copyright (c) 2025 The Kestrel developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package reverts

import (
	"errors"
)

// Kind groups rejections by what the caller can do about them.
type Kind uint8

const (
	// KindStructural - the caller supplied an invariant-violating request;
	// rejected before any state mutation.
	KindStructural Kind = iota + 1
	// KindEconomic - the caller's economic constraint is not satisfiable at
	// current rates; the caller may retry with updated parameters.
	KindEconomic
	// KindTiming - the caller acted before a time or epoch gate opened;
	// retryable later.
	KindTiming
	// KindAuthorization - fatal for that call; never retried blindly.
	KindAuthorization
)

func (k Kind) String() string {
	switch k {
	case KindStructural:
		return "structural"
	case KindEconomic:
		return "economic"
	case KindTiming:
		return "timing"
	case KindAuthorization:
		return "authorization"
	default:
		return "unknown"
	}
}

// ErrRevert is a rejection of a staking operation. Every rejection leaves
// state untouched: an operation either fully applies or fully reverts.
type ErrRevert struct {
	kind    Kind
	message string
}

func New(kind Kind, message string) *ErrRevert {
	return &ErrRevert{
		kind:    kind,
		message: message,
	}
}

func (e *ErrRevert) Error() string {
	return e.message
}

func (e *ErrRevert) Kind() Kind {
	return e.kind
}

// IsRevertErr returns whether err is (or wraps) a revert.
func IsRevertErr(err any) bool {
	if err == nil {
		return false
	}
	e, ok := err.(error)
	if !ok {
		return false
	}
	var ve *ErrRevert
	return errors.As(e, &ve)
}

// KindOf returns the kind of the revert wrapped in err, or 0 if err is not a revert.
func KindOf(err error) Kind {
	var ve *ErrRevert
	if errors.As(err, &ve) {
		return ve.kind
	}
	return 0
}

// Rejection values surfaced by the staking core. Callers check them with
// errors.Is; wrapping with extra context is fine.
var (
	// structural
	ErrAlreadyPresent       = New(KindStructural, "validator already present")
	ErrNotPresent           = New(KindStructural, "validator not present")
	ErrZeroAmount           = New(KindStructural, "amount is zero")
	ErrInvalidAmount        = New(KindStructural, "invalid amount")
	ErrOrderNotExist        = New(KindStructural, "order references an empty slot")
	ErrOrderWrong           = New(KindStructural, "order is not canonical")
	ErrDuplicateAttestation = New(KindStructural, "signer already attested")
	ErrNothingToClaim       = New(KindStructural, "nothing to claim")

	// economic
	ErrSlippageTooHigh   = New(KindEconomic, "slippage too high")
	ErrInsufficientStake = New(KindEconomic, "insufficient stake")
	ErrOngoingExit       = New(KindEconomic, "ongoing exit")
	ErrInsufficientFunds = New(KindEconomic, "insufficient funds")

	// timing
	ErrNotYetEligible  = New(KindTiming, "not yet eligible for withdrawal")
	ErrEpochNotExpired = New(KindTiming, "epoch deadline not reached")

	// authorization
	ErrWrongSigner   = New(KindAuthorization, "wrong signer")
	ErrLocked        = New(KindAuthorization, "validator is locked")
	ErrNotAuthorized = New(KindAuthorization, "caller not authorized")
	ErrPaused        = New(KindAuthorization, "staking is paused")
)
