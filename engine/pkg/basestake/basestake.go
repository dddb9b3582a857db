// Package basestake provides in-memory reference implementations of the
// engine's external collaborators: the base (non-locking) staking ledger, the
// dividend-eligible token, and the vaults and payer that move funds. The
// service wiring and the test suites run against these; an integration
// embedding the engine swaps in its own implementations.
package basestake

import (
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/ExcaliburExchange/yield-engine/engine/pkg/enginerr"
)

type stakeKey struct {
	pool string
	user string
}

// Ledger is the reference base staking ledger. Stakes earn nothing here; the
// lock ledger only needs balances it can debit, credit and harvest.
type Ledger struct {
	mu     sync.Mutex
	stakes map[stakeKey]sdkmath.Int
}

func NewLedger() *Ledger {
	return &Ledger{stakes: make(map[stakeKey]sdkmath.Int)}
}

func (l *Ledger) BaseStake(pool, user string) sdkmath.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stake(stakeKey{pool, user})
}

func (l *Ledger) stake(k stakeKey) sdkmath.Int {
	if s, ok := l.stakes[k]; ok {
		return s
	}
	return sdkmath.ZeroInt()
}

func (l *Ledger) DebitBaseStake(pool, user string, amount sdkmath.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := stakeKey{pool, user}
	have := l.stake(k)
	if have.LT(amount) {
		return enginerr.Wrap(enginerr.ErrInvalidArgument,
			"base stake %s of %s in pool %q is less than %s", have, user, pool, amount)
	}
	l.stakes[k] = have.Sub(amount)
	return nil
}

func (l *Ledger) CreditBaseStake(pool, user string, amount sdkmath.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := stakeKey{pool, user}
	l.stakes[k] = l.stake(k).Add(amount)
	return nil
}

// HarvestBase settles the user's base-stake rewards. The reference ledger
// accrues none, so this only records that the settlement point was honored.
func (l *Ledger) HarvestBase(pool, user string) error {
	return nil
}
