package engine

import (
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/proofofgood/engine/pkg/model"
)

// Accounting holds per-challenge escrow balances, the single source of
// truth for fund conservation. Stored values are immutable snapshots
// replaced copy-on-write under the owning challenge's writer lock, so
// readers never observe a half-applied movement.
type Accounting struct {
	accounts *xsync.Map[string, *model.EscrowAccount]
}

func NewAccounting() *Accounting {
	return &Accounting{accounts: xsync.NewMap[string, *model.EscrowAccount]()}
}

// Open creates the escrow account for a new challenge.
func (a *Accounting) Open(challengeID string) {
	a.accounts.Store(challengeID, &model.EscrowAccount{ChallengeID: challengeID})
}

// Get returns a snapshot of the escrow account.
func (a *Accounting) Get(challengeID string) (model.EscrowAccount, bool) {
	acc, ok := a.accounts.Load(challengeID)
	if !ok {
		return model.EscrowAccount{}, false
	}
	return *acc, true
}

func (a *Accounting) mutate(challengeID string, fn func(*model.EscrowAccount) *Error) *Error {
	acc, ok := a.accounts.Load(challengeID)
	if !ok {
		return newError(KindConsistency, CodeConsistency, "no escrow account for challenge %s", challengeID)
	}
	next := *acc
	if err := fn(&next); err != nil {
		return err
	}
	a.accounts.Store(challengeID, &next)
	return nil
}

// Lock moves value into the challenge escrow.
func (a *Accounting) Lock(challengeID string, amount uint64) *Error {
	return a.mutate(challengeID, func(acc *model.EscrowAccount) *Error {
		acc.TotalIn += amount
		acc.Locked += amount
		return nil
	})
}

// PayOut releases a settled payout from escrow.
func (a *Accounting) PayOut(challengeID string, amount uint64) *Error {
	return a.mutate(challengeID, func(acc *model.EscrowAccount) *Error {
		if acc.Locked < amount {
			return newError(KindConsistency, CodeConsistency,
				"payout %d exceeds locked %d for challenge %s", amount, acc.Locked, challengeID)
		}
		acc.Locked -= amount
		acc.PaidOut += amount
		return nil
	})
}

// AccrueFee retains the protocol fee from the reward pool.
func (a *Accounting) AccrueFee(challengeID string, amount uint64) *Error {
	return a.mutate(challengeID, func(acc *model.EscrowAccount) *Error {
		if acc.Locked < amount {
			return newError(KindConsistency, CodeConsistency,
				"fee %d exceeds locked %d for challenge %s", amount, acc.Locked, challengeID)
		}
		acc.Locked -= amount
		acc.FeeAccrued += amount
		return nil
	})
}

// Slash forfeits undistributed pool value to the policy's slash destination.
func (a *Accounting) Slash(challengeID string, amount uint64) *Error {
	return a.mutate(challengeID, func(acc *model.EscrowAccount) *Error {
		if acc.Locked < amount {
			return newError(KindConsistency, CodeConsistency,
				"slash %d exceeds locked %d for challenge %s", amount, acc.Locked, challengeID)
		}
		acc.Locked -= amount
		acc.Slashed += amount
		return nil
	})
}

// RefundDeposit returns the creator bonus deposit on cancellation.
func (a *Accounting) RefundDeposit(challengeID string, amount uint64) *Error {
	return a.mutate(challengeID, func(acc *model.EscrowAccount) *Error {
		if acc.Locked < amount {
			return newError(KindConsistency, CodeConsistency,
				"deposit refund %d exceeds locked %d for challenge %s", amount, acc.Locked, challengeID)
		}
		acc.Locked -= amount
		acc.DepositRefunds += amount
		return nil
	})
}

// CheckConservation verifies that every unit ever locked into the
// challenge is still accounted for. Runs after every settlement chunk.
func (a *Accounting) CheckConservation(challengeID string) *Error {
	acc, ok := a.accounts.Load(challengeID)
	if !ok {
		return newError(KindConsistency, CodeConsistency, "no escrow account for challenge %s", challengeID)
	}
	out := acc.Locked + acc.PaidOut + acc.FeeAccrued + acc.Slashed + acc.DepositRefunds
	if acc.TotalIn != out {
		return newError(KindConsistency, CodeConsistency,
			"conservation violated for challenge %s: in=%d accounted=%d", challengeID, acc.TotalIn, out)
	}
	return nil
}
