package lockledger

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/ExcaliburExchange/yield-engine/engine/pkg/enginerr"
	enginetesting "github.com/ExcaliburExchange/yield-engine/utils/pkg/testing"
)

const (
	testOperator = "operator"
	testPool     = "wheat-lp"
	testUser     = "alice"
)

type stakeKey struct{ pool, user string }

type fakeBaseStake struct {
	stakes    map[stakeKey]sdkmath.Int
	harvested map[stakeKey]int
}

func newFakeBaseStake() *fakeBaseStake {
	return &fakeBaseStake{
		stakes:    make(map[stakeKey]sdkmath.Int),
		harvested: make(map[stakeKey]int),
	}
}

func (b *fakeBaseStake) BaseStake(pool, user string) sdkmath.Int {
	if s, ok := b.stakes[stakeKey{pool, user}]; ok {
		return s
	}
	return sdkmath.ZeroInt()
}

func (b *fakeBaseStake) DebitBaseStake(pool, user string, amount sdkmath.Int) error {
	k := stakeKey{pool, user}
	if b.BaseStake(pool, user).LT(amount) {
		return enginerr.Wrap(enginerr.ErrInvalidArgument, "insufficient base stake")
	}
	b.stakes[k] = b.stakes[k].Sub(amount)
	return nil
}

func (b *fakeBaseStake) CreditBaseStake(pool, user string, amount sdkmath.Int) error {
	k := stakeKey{pool, user}
	b.stakes[k] = b.BaseStake(pool, user).Add(amount)
	return nil
}

func (b *fakeBaseStake) HarvestBase(pool, user string) error {
	b.harvested[stakeKey{pool, user}]++
	return nil
}

type fakeStakeVault struct {
	pulled map[stakeKey]sdkmath.Int
	pushed map[stakeKey]sdkmath.Int
	fees   map[string]sdkmath.Int
}

func newFakeStakeVault() *fakeStakeVault {
	return &fakeStakeVault{
		pulled: make(map[stakeKey]sdkmath.Int),
		pushed: make(map[stakeKey]sdkmath.Int),
		fees:   make(map[string]sdkmath.Int),
	}
}

func get(m map[stakeKey]sdkmath.Int, k stakeKey) sdkmath.Int {
	if v, ok := m[k]; ok {
		return v
	}
	return sdkmath.ZeroInt()
}

func (v *fakeStakeVault) Pull(pool, user string, amount sdkmath.Int) error {
	k := stakeKey{pool, user}
	v.pulled[k] = get(v.pulled, k).Add(amount)
	return nil
}

func (v *fakeStakeVault) Push(pool, user string, amount sdkmath.Int) error {
	k := stakeKey{pool, user}
	v.pushed[k] = get(v.pushed, k).Add(amount)
	return nil
}

func (v *fakeStakeVault) CollectFee(pool string, amount sdkmath.Int) error {
	prev, ok := v.fees[pool]
	if !ok {
		prev = sdkmath.ZeroInt()
	}
	v.fees[pool] = prev.Add(amount)
	return nil
}

type fakeRewardPayer struct {
	paid   map[string]map[RewardToken]sdkmath.Int
	burned map[RewardToken]sdkmath.Int
}

func newFakeRewardPayer() *fakeRewardPayer {
	return &fakeRewardPayer{
		paid:   make(map[string]map[RewardToken]sdkmath.Int),
		burned: make(map[RewardToken]sdkmath.Int),
	}
}

func (p *fakeRewardPayer) Pay(user string, token RewardToken, amount sdkmath.Int) error {
	byToken, ok := p.paid[user]
	if !ok {
		byToken = make(map[RewardToken]sdkmath.Int)
		p.paid[user] = byToken
	}
	prev, ok := byToken[token]
	if !ok {
		prev = sdkmath.ZeroInt()
	}
	byToken[token] = prev.Add(amount)
	return nil
}

func (p *fakeRewardPayer) Burn(token RewardToken, amount sdkmath.Int) error {
	prev, ok := p.burned[token]
	if !ok {
		prev = sdkmath.ZeroInt()
	}
	p.burned[token] = prev.Add(amount)
	return nil
}

func (p *fakeRewardPayer) paidTo(user string, token RewardToken) sdkmath.Int {
	if byToken, ok := p.paid[user]; ok {
		if v, ok := byToken[token]; ok {
			return v
		}
	}
	return sdkmath.ZeroInt()
}

type testEnv struct {
	l     *Ledger
	clock *clockwork.FakeClock
	base  *fakeBaseStake
	vault *fakeStakeVault
	payer *fakeRewardPayer
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0).UTC())
	base := newFakeBaseStake()
	vault := newFakeStakeVault()
	payer := newFakeRewardPayer()
	cfg := Config{
		Logger:            enginetesting.NewLogger(),
		Clock:             clock,
		Operator:          testOperator,
		MinLockDuration:   24 * time.Hour,
		MaxLockDuration:   180 * 24 * time.Hour,
		MaxLockMultiplier: 20_000, // up to 3x weight
		RewardPerSecond:   sdkmath.NewInt(3_000),
	}
	cfg.BaseStake = base
	cfg.Vault = vault
	cfg.Payer = payer
	for _, m := range mutate {
		m(&cfg)
	}
	l, err := New(cfg)
	require.NoError(t, err)
	return &testEnv{l: l, clock: clock, base: base, vault: vault, payer: payer}
}

func (e *testEnv) addPool(t *testing.T, pool string, allocPoints uint64, feeBps uint16) {
	t.Helper()
	require.NoError(t, e.l.AddPool(testOperator, pool, allocPoints, feeBps, false))
}

const maxLock = 180 * 24 * time.Hour

func TestLockLedger_DepositAndFullTermHarvest(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.addPool(t, testPool, 100, 0)

	id, err := e.l.Deposit(testPool, testUser, sdkmath.NewInt(1_000_000), maxLock, false)
	require.NoError(t, err)
	require.Equal(t, 0, id)
	require.Equal(t, sdkmath.NewInt(1_000_000), get(e.vault.pulled, stakeKey{testPool, testUser}))

	// Nothing accrues at the instant of deposit.
	pending, err := e.l.PendingOnSlot(testPool, testUser, id)
	require.NoError(t, err)
	require.True(t, pending.Regular.IsZero())
	require.True(t, pending.Bonus.IsZero())
	require.False(t, pending.CanHarvestBonus)

	e.clock.Advance(maxLock)

	// 3000/s over 15552000s, all in one pool. The 3x weight puts two thirds
	// of it in the bonus bucket.
	pending, err = e.l.PendingOnSlot(testPool, testUser, id)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(15_552_000_000), pending.Regular)
	require.Equal(t, sdkmath.NewInt(31_104_000_000), pending.Bonus)
	require.True(t, pending.CanHarvestBonus)

	require.NoError(t, e.l.Harvest(testPool, testUser, id))
	require.Equal(t, sdkmath.NewInt(46_656_000_000), e.payer.paidTo(testUser, RewardTokenPrimary))

	// The matured slot is gone and its principal migrated to the base stake.
	require.Equal(t, 0, e.l.SlotCount(testPool, testUser))
	require.Equal(t, sdkmath.NewInt(1_000_000), e.base.BaseStake(testPool, testUser))
}

func TestLockLedger_MidLockHarvestBanksBonus(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.addPool(t, testPool, 100, 0)

	id, err := e.l.Deposit(testPool, testUser, sdkmath.NewInt(1_000_000), maxLock, false)
	require.NoError(t, err)

	e.clock.Advance(maxLock / 2)
	require.NoError(t, e.l.Harvest(testPool, testUser, id))

	// Only the regular third pays out mid-lock; the bonus banks on the slot.
	require.Equal(t, sdkmath.NewInt(7_776_000_000), e.payer.paidTo(testUser, RewardTokenPrimary))
	slot, err := e.l.SlotInfo(testPool, testUser, id)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(15_552_000_000), slot.BankedBonus)
	require.Equal(t, 1, e.l.SlotCount(testPool, testUser))

	// The banked bonus releases with the rest at maturity.
	e.clock.Advance(maxLock / 2)
	require.NoError(t, e.l.Harvest(testPool, testUser, id))
	require.Equal(t, sdkmath.NewInt(46_656_000_000), e.payer.paidTo(testUser, RewardTokenPrimary))
}

func TestLockLedger_LockIntegrity(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.addPool(t, testPool, 100, 0)

	id, err := e.l.Deposit(testPool, testUser, sdkmath.NewInt(1_000), maxLock, false)
	require.NoError(t, err)

	e.clock.Advance(maxLock / 2)
	require.ErrorIs(t, e.l.Withdraw(testPool, testUser, id), enginerr.ErrStillLocked)
	require.ErrorIs(t, e.l.EmergencyWithdraw(testPool, testUser, id), enginerr.ErrStillLocked)

	// Renewing or topping up restarts the window; the gate holds regardless.
	require.NoError(t, e.l.Renew(testPool, testUser, id, maxLock))
	e.clock.Advance(maxLock - time.Second)
	require.ErrorIs(t, e.l.Withdraw(testPool, testUser, id), enginerr.ErrStillLocked)

	require.NoError(t, e.l.Redeposit(testPool, testUser, id, sdkmath.NewInt(500), false))
	e.clock.Advance(maxLock - time.Second)
	require.ErrorIs(t, e.l.Withdraw(testPool, testUser, id), enginerr.ErrStillLocked)

	e.clock.Advance(time.Second)
	require.NoError(t, e.l.Withdraw(testPool, testUser, id))
	require.Equal(t, sdkmath.NewInt(1_500), get(e.vault.pushed, stakeKey{testPool, testUser}))
}

func TestLockLedger_RenewRules(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.addPool(t, testPool, 100, 0)

	id, err := e.l.Deposit(testPool, testUser, sdkmath.NewInt(1_000), maxLock, false)
	require.NoError(t, err)

	// An active lock cannot shorten.
	err = e.l.Renew(testPool, testUser, id, 30*24*time.Hour)
	require.ErrorIs(t, err, enginerr.ErrInvalidArgument)

	// Once matured it can restart at any valid duration.
	e.clock.Advance(maxLock)
	require.NoError(t, e.l.Renew(testPool, testUser, id, 30*24*time.Hour))

	slot, err := e.l.SlotInfo(testPool, testUser, id)
	require.NoError(t, err)
	require.Equal(t, 30*24*time.Hour, slot.LockDuration)
	require.Equal(t, e.clock.Now(), slot.DepositTime)
	require.ErrorIs(t, e.l.Withdraw(testPool, testUser, id), enginerr.ErrStillLocked)
}

func TestLockLedger_RenewReleasesBankedBonus(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.addPool(t, testPool, 100, 0)

	id, err := e.l.Deposit(testPool, testUser, sdkmath.NewInt(1_000_000), maxLock, false)
	require.NoError(t, err)

	e.clock.Advance(maxLock / 2)
	require.NoError(t, e.l.Harvest(testPool, testUser, id)) // banks 15_552_000_000

	require.NoError(t, e.l.Renew(testPool, testUser, id, maxLock))
	require.Equal(t, sdkmath.NewInt(23_328_000_000), e.payer.paidTo(testUser, RewardTokenPrimary))

	slot, err := e.l.SlotInfo(testPool, testUser, id)
	require.NoError(t, err)
	require.True(t, slot.BankedBonus.IsZero())
}

func TestLockLedger_DepositFunding(t *testing.T) {
	t.Parallel()

	t.Run("fresh capital pays the deposit fee", func(t *testing.T) {
		t.Parallel()
		e := newTestEnv(t)
		e.addPool(t, testPool, 100, 100) // 1%

		id, err := e.l.Deposit(testPool, testUser, sdkmath.NewInt(10_000), maxLock, false)
		require.NoError(t, err)

		slot, err := e.l.SlotInfo(testPool, testUser, id)
		require.NoError(t, err)
		require.Equal(t, sdkmath.NewInt(9_900), slot.Amount)
		require.Equal(t, sdkmath.NewInt(100), e.vault.fees[testPool])

		pool, err := e.l.PoolInfo(testPool)
		require.NoError(t, err)
		require.Equal(t, sdkmath.NewInt(9_900), pool.LpSupply)
	})

	t.Run("base stake migration skips the fee", func(t *testing.T) {
		t.Parallel()
		e := newTestEnv(t)
		e.addPool(t, testPool, 100, 100)
		require.NoError(t, e.base.CreditBaseStake(testPool, testUser, sdkmath.NewInt(10_000)))

		id, err := e.l.Deposit(testPool, testUser, sdkmath.NewInt(10_000), maxLock, true)
		require.NoError(t, err)

		slot, err := e.l.SlotInfo(testPool, testUser, id)
		require.NoError(t, err)
		require.Equal(t, sdkmath.NewInt(10_000), slot.Amount)
		require.True(t, e.base.BaseStake(testPool, testUser).IsZero())
		require.Equal(t, 1, e.base.harvested[stakeKey{testPool, testUser}])
		_, ok := e.vault.fees[testPool]
		require.False(t, ok)
	})

	t.Run("insufficient base stake fails", func(t *testing.T) {
		t.Parallel()
		e := newTestEnv(t)
		e.addPool(t, testPool, 100, 0)

		_, err := e.l.Deposit(testPool, testUser, sdkmath.NewInt(1), maxLock, true)
		require.Error(t, err)
		require.Equal(t, 0, e.l.SlotCount(testPool, testUser))
	})
}

func TestLockLedger_SlotCapacityAndReuse(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, func(cfg *Config) { cfg.MaxSlotsPerUser = 3 })
	e.addPool(t, testPool, 100, 0)

	for i, amount := range []int64{100, 200, 300} {
		id, err := e.l.Deposit(testPool, testUser, sdkmath.NewInt(amount), maxLock, false)
		require.NoError(t, err)
		require.Equal(t, i, id)
	}
	_, err := e.l.Deposit(testPool, testUser, sdkmath.NewInt(400), maxLock, false)
	require.ErrorIs(t, err, enginerr.ErrCapacityExceeded)

	// Removal swap-removes: the last slot takes the freed id.
	e.clock.Advance(maxLock)
	require.NoError(t, e.l.Withdraw(testPool, testUser, 0))
	require.Equal(t, 2, e.l.SlotCount(testPool, testUser))

	slot, err := e.l.SlotInfo(testPool, testUser, 0)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(300), slot.Amount)

	_, err = e.l.SlotInfo(testPool, testUser, 2)
	require.ErrorIs(t, err, enginerr.ErrNotFound)

	// The freed capacity can be refilled.
	id, err := e.l.Deposit(testPool, testUser, sdkmath.NewInt(400), maxLock, false)
	require.NoError(t, err)
	require.Equal(t, 2, id)
}

func TestLockLedger_EmergencyWithdrawForfeitsBonus(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.addPool(t, testPool, 100, 0)

	id, err := e.l.Deposit(testPool, testUser, sdkmath.NewInt(1_000_000), maxLock, false)
	require.NoError(t, err)

	e.clock.Advance(maxLock / 2)
	require.NoError(t, e.l.Harvest(testPool, testUser, id)) // banks 15_552_000_000
	paidBefore := e.payer.paidTo(testUser, RewardTokenPrimary)

	e.clock.Advance(maxLock / 2)
	require.NoError(t, e.l.EmergencyWithdraw(testPool, testUser, id))

	// Principal returns, the banked bonus burns, nothing extra pays out.
	require.Equal(t, sdkmath.NewInt(1_000_000), get(e.vault.pushed, stakeKey{testPool, testUser}))
	require.Equal(t, sdkmath.NewInt(15_552_000_000), e.payer.burned[RewardTokenPrimary])
	require.Equal(t, sdkmath.NewInt(15_552_000_000), e.l.BurnedBonus())
	require.Equal(t, paidBefore, e.payer.paidTo(testUser, RewardTokenPrimary))
	require.Equal(t, 0, e.l.SlotCount(testPool, testUser))
}

func TestLockLedger_PoolClosureUnlocks(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.addPool(t, testPool, 100, 0)

	id, err := e.l.Deposit(testPool, testUser, sdkmath.NewInt(1_000), maxLock, false)
	require.NoError(t, err)

	e.clock.Advance(time.Hour)
	require.ErrorIs(t, e.l.Withdraw(testPool, testUser, id), enginerr.ErrStillLocked)

	require.NoError(t, e.l.SetAllocPoints(testOperator, testPool, 0))

	pool, err := e.l.PoolInfo(testPool)
	require.NoError(t, err)
	require.True(t, pool.Closed())
	require.NoError(t, e.l.Withdraw(testPool, testUser, id))
}

func TestLockLedger_LocksDisabledSwitch(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.addPool(t, testPool, 100, 0)

	id, err := e.l.Deposit(testPool, testUser, sdkmath.NewInt(1_000), maxLock, false)
	require.NoError(t, err)

	require.NoError(t, e.l.SetLocksDisabled(testOperator, true))
	require.True(t, e.l.LocksDisabled())
	require.NoError(t, e.l.Withdraw(testPool, testUser, id))
}

func TestLockLedger_HarvestUnderDisabledLocksKeepsSlot(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.addPool(t, testPool, 100, 0)

	id, err := e.l.Deposit(testPool, testUser, sdkmath.NewInt(1_000), maxLock, false)
	require.NoError(t, err)

	e.clock.Advance(12 * time.Hour)
	require.NoError(t, e.l.SetLocksDisabled(testOperator, true))

	// Disabled locks make the slot withdrawable, but a routine harvest must
	// not liquidate it into the base stake.
	require.NoError(t, e.l.Harvest(testPool, testUser, id))
	require.Equal(t, 1, e.l.SlotCount(testPool, testUser))
	require.True(t, e.base.BaseStake(testPool, testUser).IsZero())

	slot, err := e.l.SlotInfo(testPool, testUser, id)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_000), slot.Amount)
}

func TestLockLedger_EmissionSplitsByAllocPoints(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t, func(cfg *Config) { cfg.RewardPerSecond = sdkmath.NewInt(1_200) })
	e.addPool(t, "pool-a", 300, 0)
	require.NoError(t, e.l.AddPool(testOperator, "pool-b", 100, 0, true))

	idA, err := e.l.Deposit("pool-a", testUser, sdkmath.NewInt(1_000), maxLock, false)
	require.NoError(t, err)
	idB, err := e.l.Deposit("pool-b", "bob", sdkmath.NewInt(1_000), maxLock, false)
	require.NoError(t, err)

	e.clock.Advance(4_000 * time.Second)

	a, err := e.l.PendingOnSlot("pool-a", testUser, idA)
	require.NoError(t, err)
	b, err := e.l.PendingOnSlot("pool-b", "bob", idB)
	require.NoError(t, err)

	// 1200/s split 3:1 by allocation points.
	require.Equal(t, sdkmath.NewInt(3_600_000), a.Regular.Add(a.Bonus))
	require.Equal(t, sdkmath.NewInt(1_200_000), b.Regular.Add(b.Bonus))
	require.Equal(t, "primary", a.RewardTokenLabel)
	require.Equal(t, "secondary", b.RewardTokenLabel)

	// Mid-lock harvest pays the regular third only.
	require.NoError(t, e.l.Harvest("pool-b", "bob", idB))
	require.Equal(t, sdkmath.NewInt(400_000), e.payer.paidTo("bob", RewardTokenSecondary))
}

func TestLockLedger_SetRewardPerSecondSettlesFirst(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.addPool(t, testPool, 100, 0)

	id, err := e.l.Deposit(testPool, testUser, sdkmath.NewInt(1_000_000), maxLock, false)
	require.NoError(t, err)

	e.clock.Advance(100 * time.Second)
	require.NoError(t, e.l.SetRewardPerSecond(testOperator, sdkmath.ZeroInt()))
	e.clock.Advance(100 * time.Second)

	pending, err := e.l.PendingOnSlot(testPool, testUser, id)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(300_000), pending.Regular.Add(pending.Bonus))
}

func TestLockLedger_AdminGates(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.addPool(t, testPool, 100, 0)

	require.ErrorIs(t, e.l.AddPool("mallory", "x", 1, 0, false), enginerr.ErrUnauthorized)
	require.ErrorIs(t, e.l.SetAllocPoints("mallory", testPool, 1), enginerr.ErrUnauthorized)
	require.ErrorIs(t, e.l.SetDepositFee("mallory", testPool, 1), enginerr.ErrUnauthorized)
	require.ErrorIs(t, e.l.SetRewardPerSecond("mallory", sdkmath.OneInt()), enginerr.ErrUnauthorized)
	require.ErrorIs(t, e.l.SetLocksDisabled("mallory", true), enginerr.ErrUnauthorized)

	require.ErrorIs(t, e.l.AddPool(testOperator, testPool, 1, 0, false), enginerr.ErrAlreadyInState)
	require.ErrorIs(t, e.l.AddPool(testOperator, "x", 1, 9_999, false), enginerr.ErrInvalidArgument)

	require.NoError(t, e.l.SetOperator(testOperator, "successor"))
	require.ErrorIs(t, e.l.SetLocksDisabled(testOperator, true), enginerr.ErrUnauthorized)
	require.NoError(t, e.l.SetLocksDisabled("successor", true))
}

func TestLockLedger_SnapshotRestore(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.addPool(t, testPool, 100, 0)

	id, err := e.l.Deposit(testPool, testUser, sdkmath.NewInt(1_000_000), maxLock, false)
	require.NoError(t, err)
	e.clock.Advance(maxLock / 2)
	require.NoError(t, e.l.Harvest(testPool, testUser, id))

	snap := e.l.Snapshot()

	restored, err := New(Config{
		Logger:            enginetesting.NewLogger(),
		Clock:             e.clock,
		Operator:          "placeholder",
		MinLockDuration:   24 * time.Hour,
		MaxLockDuration:   maxLock,
		MaxLockMultiplier: 20_000,
		BaseStake:         e.base,
		Vault:             e.vault,
		Payer:             e.payer,
	})
	require.NoError(t, err)
	require.NoError(t, restored.Restore(snap))
	require.ErrorIs(t, restored.Restore(snap), enginerr.ErrAlreadyInState)

	require.Equal(t, e.l.SlotCount(testPool, testUser), restored.SlotCount(testPool, testUser))

	want, err := e.l.SlotInfo(testPool, testUser, id)
	require.NoError(t, err)
	got, err := restored.SlotInfo(testPool, testUser, id)
	require.NoError(t, err)
	require.Equal(t, want, got)

	e.clock.Advance(maxLock / 2)
	wantPending, err := e.l.PendingOnSlot(testPool, testUser, id)
	require.NoError(t, err)
	gotPending, err := restored.PendingOnSlot(testPool, testUser, id)
	require.NoError(t, err)
	require.Equal(t, wantPending, gotPending)
}
