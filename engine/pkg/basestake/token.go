package basestake

import (
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/ExcaliburExchange/yield-engine/engine/pkg/enginerr"
)

// BalanceHook is invoked synchronously after every balance change, once per
// affected account, with the account's balance and the total supply as they
// were immediately before the change.
type BalanceHook func(account string, prevBalance, prevTotalSupply sdkmath.Int)

// Token is the reference dividend-eligible token. It tracks balances, the
// total supply, and which accounts are contracts, and fires the balance hook
// the dividend distributor keys its accounting on.
type Token struct {
	mu        sync.Mutex
	hook      BalanceHook
	total     sdkmath.Int
	balances  map[string]sdkmath.Int
	contracts map[string]bool
}

func NewToken() *Token {
	return &Token{
		total:     sdkmath.ZeroInt(),
		balances:  make(map[string]sdkmath.Int),
		contracts: make(map[string]bool),
	}
}

// SetBalanceHook installs the hook. Must be called before any balance
// changes. The hook fires after the mutation with the mutex released, so it
// may read balances and supply back from the Token but must not mutate it.
func (t *Token) SetBalanceHook(hook BalanceHook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hook = hook
}

// MarkContract flags an account as a contract address.
func (t *Token) MarkContract(account string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.contracts[account] = true
}

func (t *Token) TotalSupply() sdkmath.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

func (t *Token) BalanceOf(account string) sdkmath.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balance(account)
}

func (t *Token) balance(account string) sdkmath.Int {
	if b, ok := t.balances[account]; ok {
		return b
	}
	return sdkmath.ZeroInt()
}

func (t *Token) IsContract(account string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.contracts[account]
}

func (t *Token) Mint(account string, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return enginerr.Wrap(enginerr.ErrInvalidArgument, "mint amount must be positive")
	}
	t.mu.Lock()
	prevBalance := t.balance(account)
	prevTotal := t.total
	t.balances[account] = prevBalance.Add(amount)
	t.total = t.total.Add(amount)
	hook := t.hook
	t.mu.Unlock()

	if hook != nil {
		hook(account, prevBalance, prevTotal)
	}
	return nil
}

func (t *Token) Burn(account string, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return enginerr.Wrap(enginerr.ErrInvalidArgument, "burn amount must be positive")
	}
	t.mu.Lock()
	prevBalance := t.balance(account)
	if prevBalance.LT(amount) {
		t.mu.Unlock()
		return enginerr.Wrap(enginerr.ErrInvalidArgument,
			"balance %s of %s is less than %s", prevBalance, account, amount)
	}
	prevTotal := t.total
	t.balances[account] = prevBalance.Sub(amount)
	t.total = t.total.Sub(amount)
	hook := t.hook
	t.mu.Unlock()

	if hook != nil {
		hook(account, prevBalance, prevTotal)
	}
	return nil
}

// Transfer moves amount between accounts. The hook fires once per affected
// account; the total supply is unchanged.
func (t *Token) Transfer(from, to string, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return enginerr.Wrap(enginerr.ErrInvalidArgument, "transfer amount must be positive")
	}
	if from == to {
		return enginerr.Wrap(enginerr.ErrInvalidArgument, "transfer to self")
	}
	t.mu.Lock()
	prevFrom := t.balance(from)
	if prevFrom.LT(amount) {
		t.mu.Unlock()
		return enginerr.Wrap(enginerr.ErrInvalidArgument,
			"balance %s of %s is less than %s", prevFrom, from, amount)
	}
	prevTo := t.balance(to)
	prevTotal := t.total
	t.balances[from] = prevFrom.Sub(amount)
	t.balances[to] = prevTo.Add(amount)
	hook := t.hook
	t.mu.Unlock()

	if hook != nil {
		hook(from, prevFrom, prevTotal)
		hook(to, prevTo, prevTotal)
	}
	return nil
}
