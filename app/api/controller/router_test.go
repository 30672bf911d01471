package controller

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/proofofgood/engine/app/api/types"
	"github.com/proofofgood/engine/pkg/engine"
	"github.com/proofofgood/engine/pkg/evidence"
	"github.com/proofofgood/engine/pkg/journal"
	"github.com/proofofgood/engine/pkg/model"
	"github.com/proofofgood/engine/pkg/policy"
)

// stubClock is a settable clock so handler tests can close vote windows.
type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type apiFixture struct {
	router http.Handler
	clock  *stubClock
	policy *policy.Static
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	t.Setenv("ADMIN_TOKEN", "test-token")
	t.Setenv("ADMIN_USER", "root")
	t.Setenv("ADMIN_PASSWORD", "hunter2")

	clock := &stubClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	pol := policy.NewStatic()
	store := evidence.NewStatic()
	store.AcceptAll = true

	eng, err := engine.New(context.Background(), engine.Config{
		Logger:         zaptest.NewLogger(t),
		Clock:          clock,
		Journal:        journal.NewMemory(),
		Eligibility:    pol,
		BootstrapAdmin: "admin1",
	})
	require.NoError(t, err)

	ctrl := NewController(&types.App{
		Engine:   eng,
		Evidence: store,
		Logger:   zaptest.NewLogger(t),
	})
	router, err := ctrl.NewRouter()
	require.NoError(t, err)

	return &apiFixture{router: router, clock: clock, policy: pol}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
	}
	return rec
}

func (f *apiFixture) createChallenge(t *testing.T) model.Challenge {
	t.Helper()
	var ch model.Challenge
	rec := f.do(t, http.MethodPost, "/challenges", map[string]any{
		"creator":         "alice",
		"title":           "meditate daily",
		"kind":            "community",
		"stakeAmount":     1_000_000,
		"deadline":        f.clock.Now().Add(time.Hour),
		"maxParticipants": 10,
	}, &ch)
	require.Equal(t, http.StatusCreated, rec.Code)
	return ch
}

func TestCreateChallengeEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	ch := f.createChallenge(t)
	assert.NotEmpty(t, ch.ID)
	assert.Equal(t, model.StateActive, ch.State)

	t.Run("unknown kind", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/challenges", map[string]any{
			"creator": "alice", "kind": "extreme",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "unknown challenge kind")
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/challenges", bytes.NewBufferString("{nope"))
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("validation errors map to 400", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/challenges", map[string]any{
			"creator": "", "kind": "community", "stakeAmount": 1,
			"deadline": f.clock.Now().Add(time.Hour), "maxParticipants": 5,
		}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetAndListChallenges(t *testing.T) {
	f := newAPIFixture(t)
	ch := f.createChallenge(t)

	var got model.Challenge
	rec := f.do(t, http.MethodGet, "/challenges/"+ch.ID, nil, &got)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ch.ID, got.ID)

	rec = f.do(t, http.MethodGet, "/challenges/c999999", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var listing struct {
		Challenges []model.Challenge `json:"challenges"`
	}
	rec = f.do(t, http.MethodGet, "/challenges?state=active", nil, &listing)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, listing.Challenges, 1)

	rec = f.do(t, http.MethodGet, "/challenges?state=finalized", nil, &listing)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, listing.Challenges)
}

func TestJoinAndProofEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	ch := f.createChallenge(t)

	var part model.Participation
	rec := f.do(t, http.MethodPost, "/challenges/"+ch.ID+"/join", map[string]any{
		"participant": "bob", "stake": ch.StakeAmount,
	}, &part)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "bob", part.Participant)

	t.Run("stake mismatch maps to 400", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/challenges/"+ch.ID+"/join", map[string]any{
			"participant": "carol", "stake": 1,
		}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), engine.CodeStakeMismatch)
	})

	t.Run("duplicate join maps to 409", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/challenges/"+ch.ID+"/join", map[string]any{
			"participant": "bob", "stake": ch.StakeAmount,
		}, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	rec = f.do(t, http.MethodPost, "/challenges/"+ch.ID+"/proof", map[string]any{
		"participant": "bob", "evidenceRef": "ipfs://bob-proof",
	}, &part)
	require.Equal(t, http.StatusOK, rec.Code)

	var parts struct {
		Participants []model.Participation `json:"participants"`
	}
	rec = f.do(t, http.MethodGet, "/challenges/"+ch.ID+"/participants", nil, &parts)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, parts.Participants, 1)
	assert.Equal(t, model.ProofSubmitted, parts.Participants[0].ProofState)
}

func TestProofRejectedWhenEvidenceUnresolvable(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "test-token")
	clock := &stubClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	eng, err := engine.New(context.Background(), engine.Config{
		Clock:       clock,
		Journal:     journal.NewMemory(),
		Eligibility: policy.NewStatic(),
	})
	require.NoError(t, err)

	// A store that knows nothing rejects every reference.
	ctrl := NewController(&types.App{
		Engine:   eng,
		Evidence: evidence.NewStatic(),
		Logger:   zaptest.NewLogger(t),
	})
	router, err := ctrl.NewRouter()
	require.NoError(t, err)
	f := &apiFixture{router: router, clock: clock}

	ch := f.createChallenge(t)
	f.do(t, http.MethodPost, "/challenges/"+ch.ID+"/join", map[string]any{
		"participant": "bob", "stake": ch.StakeAmount,
	}, nil)
	rec := f.do(t, http.MethodPost, "/challenges/"+ch.ID+"/proof", map[string]any{
		"participant": "bob", "evidenceRef": "ipfs://unknown",
	}, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestVoteEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	f.policy.Eligible["v1"] = true
	ch := f.createChallenge(t)
	f.do(t, http.MethodPost, "/challenges/"+ch.ID+"/join", map[string]any{
		"participant": "bob", "stake": ch.StakeAmount,
	}, nil)
	f.do(t, http.MethodPost, "/challenges/"+ch.ID+"/proof", map[string]any{
		"participant": "bob", "evidenceRef": "ipfs://bob",
	}, nil)

	var vote model.VerificationVote
	rec := f.do(t, http.MethodPost, "/challenges/"+ch.ID+"/votes", map[string]any{
		"participant": "bob", "verifier": "v1", "decision": "approve",
	}, &vote)
	require.Equal(t, http.StatusCreated, rec.Code)

	t.Run("bad decision", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/challenges/"+ch.ID+"/votes", map[string]any{
			"participant": "bob", "verifier": "v1", "decision": "maybe",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("ineligible verifier maps to 403", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/challenges/"+ch.ID+"/votes", map[string]any{
			"participant": "bob", "verifier": "rando", "decision": "approve",
		}, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	var votes struct {
		Votes []model.VerificationVote `json:"votes"`
	}
	rec = f.do(t, http.MethodGet, "/challenges/"+ch.ID+"/participants/bob/votes", nil, &votes)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, votes.Votes, 1)
	assert.Equal(t, "v1", votes.Votes[0].Verifier)
}

func TestSettlementEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	ch := f.createChallenge(t)
	f.do(t, http.MethodPost, "/challenges/"+ch.ID+"/join", map[string]any{
		"participant": "bob", "stake": ch.StakeAmount,
	}, nil)

	t.Run("premature finalize maps to 409", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/challenges/"+ch.ID+"/finalize", map[string]any{}, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	var dueResp struct {
		Due []string `json:"due"`
	}
	rec := f.do(t, http.MethodGet, "/challenges/due", nil, &dueResp)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, dueResp.Due)

	f.clock.Advance(26 * time.Hour) // default grace window is a day

	rec = f.do(t, http.MethodGet, "/challenges/due", nil, &dueResp)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, dueResp.Due, ch.ID)

	var res engine.FinalizeResult
	rec = f.do(t, http.MethodPost, "/challenges/"+ch.ID+"/finalize", map[string]any{"caller": "tester"}, &res)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, res.Done)

	var settlement model.SettlementRecord
	rec = f.do(t, http.MethodGet, "/challenges/"+ch.ID+"/participants/bob/settlement", nil, &settlement)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.OutcomeLost, settlement.Outcome)

	var account model.EscrowAccount
	rec = f.do(t, http.MethodGet, "/challenges/"+ch.ID+"/escrow", nil, &account)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ch.StakeAmount, account.TotalIn)
	assert.Zero(t, account.Locked)

	var summary model.ChallengeSummary
	rec = f.do(t, http.MethodGet, "/challenges/"+ch.ID+"/summary", nil, &summary)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StateFinalized, summary.State)
	assert.Equal(t, 1, summary.Lost)
}

func TestRoleEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	grant := map[string]any{"role": model.RoleRelayer, "target": "ops1", "caller": "admin1"}

	t.Run("requires admin auth", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/roles", grant, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	authed := func(method string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		req := httptest.NewRequest(method, "/api/roles", &buf)
		req.Header.Set("Authorization", "Bearer test-token")
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		return rec
	}

	rec := authed(http.MethodPost, grant)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"granted":true`)

	checkRec := f.do(t, http.MethodGet, fmt.Sprintf("/api/roles/%s/ops1", model.RoleRelayer), nil, nil)
	require.Equal(t, http.StatusOK, checkRec.Code)
	assert.Contains(t, checkRec.Body.String(), `"granted":true`)

	rec = authed(http.MethodDelete, grant)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"granted":false`)

	t.Run("engine authorization surfaces as 403", func(t *testing.T) {
		rec := authed(http.MethodPost, map[string]any{
			"role": model.RoleRelayer, "target": "ops2", "caller": "not-an-admin",
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestAdminLogin(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/auth/login", map[string]any{
		"username": "root", "password": "wrong",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/auth/login", map[string]any{
		"username": "root", "password": "hunter2",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var session *http.Cookie
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == sessionCookie {
			session = ck
		}
	}
	require.NotNil(t, session, "login must set a session cookie")

	// The session cookie alone satisfies the admin middleware.
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(map[string]any{
		"role": model.RoleRelayer, "target": "ops1", "caller": "admin1",
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/roles", &buf)
	req.AddCookie(session)
	authRec := httptest.NewRecorder()
	f.router.ServeHTTP(authRec, req)
	assert.Equal(t, http.StatusOK, authRec.Code)
}

func TestOptionalBackendsUnavailable(t *testing.T) {
	f := newAPIFixture(t)
	ch := f.createChallenge(t)

	for _, path := range []string{
		"/leaderboard",
		"/activity",
		"/participants/bob/history",
		"/challenges/" + ch.ID + "/events",
	} {
		rec := f.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}
