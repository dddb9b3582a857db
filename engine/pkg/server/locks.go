package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/go-chi/chi/v5"

	"github.com/ExcaliburExchange/yield-engine/engine/pkg/enginerr"
)

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return enginerr.Wrap(enginerr.ErrInvalidArgument, "invalid JSON body: %v", err)
	}
	return nil
}

func parseAmount(raw string) (sdkmath.Int, error) {
	amount, ok := sdkmath.NewIntFromString(raw)
	if !ok {
		return sdkmath.Int{}, enginerr.Wrap(enginerr.ErrInvalidArgument, "invalid amount %q", raw)
	}
	return amount, nil
}

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Locks.Pools())
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.engine.Locks.PoolInfo(chi.URLParam(r, "pool"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pool)
}

func (s *Server) handleListSlots(w http.ResponseWriter, r *http.Request) {
	pool := chi.URLParam(r, "pool")
	user := chi.URLParam(r, "user")

	count := s.engine.Locks.SlotCount(pool, user)
	slots := make([]any, 0, count)
	for i := 0; i < count; i++ {
		slot, err := s.engine.Locks.SlotInfo(pool, user, i)
		if err != nil {
			s.writeError(w, err)
			return
		}
		slots = append(slots, slot)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"count": count, "slots": slots})
}

func (s *Server) handleSlotPending(w http.ResponseWriter, r *http.Request) {
	slot, err := slotParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	pending, err := s.engine.Locks.PendingOnSlot(chi.URLParam(r, "pool"), chi.URLParam(r, "user"), slot)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pending)
}

func slotParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "slot")
	slot, err := strconv.Atoi(raw)
	if err != nil {
		return 0, enginerr.Wrap(enginerr.ErrInvalidArgument, "invalid slot id %q", raw)
	}
	return slot, nil
}

func (s *Server) handleAddPool(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pool            string `json:"pool"`
		AllocPoints     uint64 `json:"alloc_points"`
		DepositFeeBps   uint16 `json:"deposit_fee_bps"`
		SecondaryReward bool   `json:"secondary_reward"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.Locks.AddPool(caller(r), req.Pool, req.AllocPoints, req.DepositFeeBps, req.SecondaryReward); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"pool": req.Pool})
}

func (s *Server) handleSetAllocPoints(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AllocPoints uint64 `json:"alloc_points"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.Locks.SetAllocPoints(caller(r), chi.URLParam(r, "pool"), req.AllocPoints); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleSetDepositFee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DepositFeeBps uint16 `json:"deposit_fee_bps"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.Locks.SetDepositFee(caller(r), chi.URLParam(r, "pool"), req.DepositFeeBps); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleSetRewardPerSecond(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RewardPerSecond string `json:"reward_per_second"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount(req.RewardPerSecond)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.Locks.SetRewardPerSecond(caller(r), amount); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleSetLocksDisabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Disabled bool `json:"disabled"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.Locks.SetLocksDisabled(caller(r), req.Disabled); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount              string `json:"amount"`
		LockDurationSeconds int64  `json:"lock_duration_seconds"`
		FromBaseStake       bool   `json:"from_base_stake"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	id, err := s.engine.Locks.Deposit(chi.URLParam(r, "pool"), caller(r), amount,
		time.Duration(req.LockDurationSeconds)*time.Second, req.FromBaseStake)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]int{"slot": id})
}

func (s *Server) handleRenew(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LockDurationSeconds int64 `json:"lock_duration_seconds"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	slot, err := slotParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	err = s.engine.Locks.Renew(chi.URLParam(r, "pool"), caller(r), slot,
		time.Duration(req.LockDurationSeconds)*time.Second)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "renewed"})
}

func (s *Server) handleRedeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount        string `json:"amount"`
		FromBaseStake bool   `json:"from_base_stake"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	slot, err := slotParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.Locks.Redeposit(chi.URLParam(r, "pool"), caller(r), slot, amount, req.FromBaseStake); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "redeposited"})
}

func (s *Server) handleLockHarvest(w http.ResponseWriter, r *http.Request) {
	slot, err := slotParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.Locks.Harvest(chi.URLParam(r, "pool"), caller(r), slot); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "harvested"})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	slot, err := slotParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.Locks.Withdraw(chi.URLParam(r, "pool"), caller(r), slot); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

func (s *Server) handleEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	slot, err := slotParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.Locks.EmergencyWithdraw(chi.URLParam(r, "pool"), caller(r), slot); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}
