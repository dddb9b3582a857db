package basestake

import (
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/ExcaliburExchange/yield-engine/engine/pkg/lockledger"
)

// StakeVault is the reference principal custodian for the lock ledger. It
// books pulled principal per pool and collected fees per pool.
type StakeVault struct {
	mu   sync.Mutex
	held map[string]sdkmath.Int
	fees map[string]sdkmath.Int
}

func NewStakeVault() *StakeVault {
	return &StakeVault{
		held: make(map[string]sdkmath.Int),
		fees: make(map[string]sdkmath.Int),
	}
}

func amountIn(m map[string]sdkmath.Int, key string) sdkmath.Int {
	if v, ok := m[key]; ok {
		return v
	}
	return sdkmath.ZeroInt()
}

func (v *StakeVault) Pull(pool, user string, amount sdkmath.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.held[pool] = amountIn(v.held, pool).Add(amount)
	return nil
}

func (v *StakeVault) Push(pool, user string, amount sdkmath.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.held[pool] = amountIn(v.held, pool).Sub(amount)
	return nil
}

func (v *StakeVault) CollectFee(pool string, amount sdkmath.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.held[pool] = amountIn(v.held, pool).Sub(amount)
	v.fees[pool] = amountIn(v.fees, pool).Add(amount)
	return nil
}

// Held returns the principal currently held for a pool.
func (v *StakeVault) Held(pool string) sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return amountIn(v.held, pool)
}

// Fees returns the accumulated deposit fees for a pool.
func (v *StakeVault) Fees(pool string) sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return amountIn(v.fees, pool)
}

// RewardPayer is the reference payer: it mints reward payouts into per-user
// tallies and books burns.
type RewardPayer struct {
	mu     sync.Mutex
	paid   map[string]map[lockledger.RewardToken]sdkmath.Int
	burned map[lockledger.RewardToken]sdkmath.Int
}

func NewRewardPayer() *RewardPayer {
	return &RewardPayer{
		paid:   make(map[string]map[lockledger.RewardToken]sdkmath.Int),
		burned: make(map[lockledger.RewardToken]sdkmath.Int),
	}
}

func (p *RewardPayer) Pay(user string, token lockledger.RewardToken, amount sdkmath.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	byToken, ok := p.paid[user]
	if !ok {
		byToken = make(map[lockledger.RewardToken]sdkmath.Int)
		p.paid[user] = byToken
	}
	prev, ok := byToken[token]
	if !ok {
		prev = sdkmath.ZeroInt()
	}
	byToken[token] = prev.Add(amount)
	return nil
}

func (p *RewardPayer) Burn(token lockledger.RewardToken, amount sdkmath.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev, ok := p.burned[token]
	if !ok {
		prev = sdkmath.ZeroInt()
	}
	p.burned[token] = prev.Add(amount)
	return nil
}

// PaidTo returns the total paid to a user in one reward token.
func (p *RewardPayer) PaidTo(user string, token lockledger.RewardToken) sdkmath.Int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if byToken, ok := p.paid[user]; ok {
		if v, ok := byToken[token]; ok {
			return v
		}
	}
	return sdkmath.ZeroInt()
}

// Burned returns the total burned in one reward token.
func (p *RewardPayer) Burned(token lockledger.RewardToken) sdkmath.Int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v, ok := p.burned[token]; ok {
		return v
	}
	return sdkmath.ZeroInt()
}

// DividendVault is the reference custodian for dividend funds, one balance
// per distribution token.
type DividendVault struct {
	mu       sync.Mutex
	balances map[string]sdkmath.Int
	paid     map[string]map[string]sdkmath.Int // token -> holder
}

func NewDividendVault() *DividendVault {
	return &DividendVault{
		balances: make(map[string]sdkmath.Int),
		paid:     make(map[string]map[string]sdkmath.Int),
	}
}

func (v *DividendVault) Balance(token string) sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return amountIn(v.balances, token)
}

func (v *DividendVault) Pull(token, source string, amount sdkmath.Int) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[token] = amountIn(v.balances, token).Add(amount)
	return amount, nil
}

func (v *DividendVault) Transfer(token, to string, amount sdkmath.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.balances[token] = amountIn(v.balances, token).Sub(amount)
	byHolder, ok := v.paid[token]
	if !ok {
		byHolder = make(map[string]sdkmath.Int)
		v.paid[token] = byHolder
	}
	prev, ok := byHolder[to]
	if !ok {
		prev = sdkmath.ZeroInt()
	}
	byHolder[to] = prev.Add(amount)
	return nil
}

// PaidOut returns the total dividends transferred to a holder in one token.
func (v *DividendVault) PaidOut(token, holder string) sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()

	if byHolder, ok := v.paid[token]; ok {
		if p, ok := byHolder[holder]; ok {
			return p
		}
	}
	return sdkmath.ZeroInt()
}
