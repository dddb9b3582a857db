package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListDividendTokens(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Dividends.Tokens())
}

func (s *Server) handleGetDividendToken(w http.ResponseWriter, r *http.Request) {
	info, err := s.engine.Dividends.TokenInfo(chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleHolderPending(w http.ResponseWriter, r *http.Request) {
	holder := chi.URLParam(r, "holder")
	s.writeJSON(w, http.StatusOK, map[string]any{
		"holder":   holder,
		"excluded": s.engine.Dividends.IsExcluded(holder),
		"pending":  s.engine.Dividends.PendingAll(holder),
	})
}

func (s *Server) handleEnableToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CycleReleasePct int64 `json:"cycle_release_pct"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.Dividends.EnableToken(caller(r), chi.URLParam(r, "token"), req.CycleReleasePct); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

func (s *Server) handleDisableToken(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Dividends.DisableToken(caller(r), chi.URLParam(r, "token")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}

func (s *Server) handleRemoveToken(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Dividends.RemoveToken(caller(r), chi.URLParam(r, "token")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleSetCycleReleasePct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CycleReleasePct int64 `json:"cycle_release_pct"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.Dividends.SetCycleReleasePct(caller(r), chi.URLParam(r, "token"), req.CycleReleasePct); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleAddToPending(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount string `json:"amount"`
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
	received, err := s.engine.Dividends.AddToPending(caller(r), chi.URLParam(r, "token"), amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"received": received.String()})
}

func (s *Server) handleDividendHarvest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"` // empty harvests all tokens
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	if req.Token != "" {
		paid, err := s.engine.Dividends.Harvest(caller(r), req.Token)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{req.Token: paid.String()})
		return
	}

	paid, err := s.engine.Dividends.HarvestAll(caller(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make(map[string]string, len(paid))
	for token, amount := range paid {
		out[token] = amount.String()
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetExcluded(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Holder   string `json:"holder"`
		Excluded bool   `json:"excluded"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.Dividends.SetExcluded(caller(r), req.Holder, req.Excluded); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
