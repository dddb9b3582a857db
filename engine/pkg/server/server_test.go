package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ExcaliburExchange/yield-engine/engine/pkg/engine"
	enginetesting "github.com/ExcaliburExchange/yield-engine/utils/pkg/testing"
)

const testOperator = "operator"

func newTestServer(t *testing.T, mutate ...func(*Config)) (*Server, *engine.Engine) {
	t.Helper()

	e, err := engine.New(engine.Config{
		Logger:            enginetesting.NewLogger(),
		Clock:             clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0).UTC()),
		Operator:          testOperator,
		MinLockDuration:   24 * time.Hour,
		MaxLockDuration:   180 * 24 * time.Hour,
		MaxLockMultiplier: 20_000,
		RewardPerSecond:   sdkmath.NewInt(3_000),
		CycleDuration:     24 * time.Hour,
		TrustedSources:    []string{"treasury"},
	})
	require.NoError(t, err)

	cfg := Config{
		Logger:  enginetesting.NewLogger(),
		Engine:  e,
		Version: VersionInfo{Version: "test"},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s, e
}

func doRequest(t *testing.T, s *Server, method, path, callerID, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if callerID != "" {
		req.Header.Set("X-Caller", callerID)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/version", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var v VersionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	require.Equal(t, "test", v.Version)
}

func TestServer_LockFlow(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)

	// Operator gate.
	rec := doRequest(t, s, http.MethodPost, "/api/v1/locks/pools", "mallory",
		`{"pool":"wheat-lp","alloc_points":100}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/api/v1/locks/pools", testOperator,
		`{"pool":"wheat-lp","alloc_points":100}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Deposit into an unknown pool.
	rec = doRequest(t, s, http.MethodPost, "/api/v1/locks/pools/nope/deposit", "alice",
		`{"amount":"1000","lock_duration_seconds":86400}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// Bad amount.
	rec = doRequest(t, s, http.MethodPost, "/api/v1/locks/pools/wheat-lp/deposit", "alice",
		`{"amount":"not-a-number","lock_duration_seconds":86400}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/api/v1/locks/pools/wheat-lp/deposit", "alice",
		`{"amount":"1000000","lock_duration_seconds":86400}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, 0, created["slot"])

	// Early withdraw conflicts.
	rec = doRequest(t, s, http.MethodPost, "/api/v1/locks/pools/wheat-lp/slots/0/withdraw", "alice", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	// Reads.
	rec = doRequest(t, s, http.MethodGet, "/api/v1/locks/pools/wheat-lp", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/v1/locks/pools/wheat-lp/slots/alice", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var slots struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &slots))
	require.Equal(t, 1, slots.Count)

	rec = doRequest(t, s, http.MethodGet, "/api/v1/locks/pools/wheat-lp/slots/alice/0/pending", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/v1/locks/pools/wheat-lp/slots/alice/nope/pending", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_DividendFlow(t *testing.T) {
	t.Parallel()

	s, e := newTestServer(t)
	require.NoError(t, e.Token.Mint("alice", sdkmath.NewInt(1_000)))

	// Funding requires a trusted caller.
	rec := doRequest(t, s, http.MethodPost, "/api/v1/dividends/tokens/USDC/fund", "mallory",
		`{"amount":"1000"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/api/v1/dividends/tokens/USDC/fund", "treasury",
		`{"amount":"1000"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/api/v1/dividends/tokens/USDC/enable", testOperator,
		`{"cycle_release_pct":10}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// Double enable conflicts.
	rec = doRequest(t, s, http.MethodPost, "/api/v1/dividends/tokens/USDC/enable", testOperator,
		`{"cycle_release_pct":10}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/v1/dividends/tokens", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/v1/dividends/tokens/USDC", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info struct {
		PendingAmount string `json:"pending_amount"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Equal(t, "1000", info.PendingAmount)

	rec = doRequest(t, s, http.MethodGet, "/api/v1/dividends/pending/alice", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Exclusion requires a contract address.
	rec = doRequest(t, s, http.MethodPost, "/api/v1/dividends/excluded", testOperator,
		`{"holder":"alice","excluded":true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/api/v1/dividends/harvest", "alice", `{"token":"USDC"}`)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RateLimitsMutations(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, func(cfg *Config) {
		cfg.MutationRate = rate.Every(time.Hour)
		cfg.MutationBurst = 1
	})

	rec := doRequest(t, s, http.MethodPost, "/api/v1/locks/pools", testOperator,
		`{"pool":"a","alloc_points":1}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/api/v1/locks/pools", testOperator,
		`{"pool":"b","alloc_points":1}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Reads stay unthrottled.
	for i := 0; i < 5; i++ {
		rec = doRequest(t, s, http.MethodGet, "/api/v1/locks/pools", "", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
}
