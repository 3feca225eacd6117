package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eggtrack/eggtrack/internal/api"
	"github.com/eggtrack/eggtrack/internal/api/handler"
	"github.com/eggtrack/eggtrack/internal/auth"
	"github.com/eggtrack/eggtrack/internal/config"
	"github.com/eggtrack/eggtrack/internal/controller"
	"github.com/eggtrack/eggtrack/internal/engine"
	"github.com/eggtrack/eggtrack/internal/store"
	"github.com/eggtrack/eggtrack/internal/upstream"
)

// --------------------------------------------------------------------------
// Fakes
// --------------------------------------------------------------------------

type fakeRunner struct {
	tickResult   controller.TickResult
	tickErr      error
	importResult controller.ImportResult
	importErr    error
	importOpts   *controller.ImportOptions
}

func (f *fakeRunner) Tick(ctx context.Context) (controller.TickResult, error) {
	return f.tickResult, f.tickErr
}

func (f *fakeRunner) Import(ctx context.Context, opts controller.ImportOptions) (controller.ImportResult, error) {
	f.importOpts = &opts
	return f.importResult, f.importErr
}

type fakeFetcher struct {
	records []upstream.PlayerRecord
	err     error
	calls   int
}

func (f *fakeFetcher) Fetch(ctx context.Context) ([]upstream.PlayerRecord, error) {
	f.calls++
	return f.records, f.err
}

type fakeStore struct {
	entries     []store.CacheEntry
	lastUpdated time.Time
	replaced    int

	deletedDate string
	deletedBy   string
	deleteCount int64

	emailLog []store.EmailLogEntry
	weeks    []store.WeeklyStatRow
}

func (f *fakeStore) ReadCache(ctx context.Context) ([]store.CacheEntry, error) {
	out := make([]store.CacheEntry, len(f.entries))
	copy(out, f.entries)
	return out, nil
}

func (f *fakeStore) ReadCacheRow(ctx context.Context, id string) (*store.CacheEntry, error) {
	for _, e := range f.entries {
		if e.ID == id {
			c := e
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CacheLastUpdated(ctx context.Context) (time.Time, error) {
	return f.lastUpdated, nil
}

func (f *fakeStore) ReplaceCache(ctx context.Context, records []upstream.PlayerRecord, now time.Time) (store.CacheResult, error) {
	f.replaced++
	return store.CacheResult{Inserted: len(records)}, nil
}

func (f *fakeStore) DeleteSnapshot(ctx context.Context, snapshotDate, performedBy string) (int64, error) {
	f.deletedDate = snapshotDate
	f.deletedBy = performedBy
	return f.deleteCount, nil
}

func (f *fakeStore) CountSnapshotRows(ctx context.Context, snapshotDate string) (int, error) {
	return int(f.deleteCount), nil
}

func (f *fakeStore) ListEmailLog(ctx context.Context, limit, offset int) ([]store.EmailLogEntry, error) {
	return f.emailLog, nil
}

func (f *fakeStore) WeeklyStatistics(ctx context.Context) ([]store.WeeklyStatRow, error) {
	return f.weeks, nil
}

type fakeExchange struct {
	result auth.ExchangeResult
	err    error
}

func (f *fakeExchange) Exchange(ctx context.Context, code, redirectURI string) (auth.ExchangeResult, error) {
	return f.result, f.err
}

type fakePinger struct{ err error }

func (f *fakePinger) HealthCheck(ctx context.Context) error { return f.err }

// --------------------------------------------------------------------------
// Harness
// --------------------------------------------------------------------------

type harness struct {
	router   http.Handler
	runner   *fakeRunner
	fetcher  *fakeFetcher
	store    *fakeStore
	exchange *fakeExchange
	tokens   *auth.TokenManager
	now      time.Time
}

func intPtr(n int) *int { return &n }

func newHarness(t *testing.T) *harness {
	t.Helper()

	now := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	cfg := &config.Config{
		Environment:      "test",
		CORSAllowOrigins: []string{"*"},
		RateLimitEnabled: false,
		CacheDuration:    15 * time.Minute,
		SecretToken:      "op-secret",
		ServiceRoleKey:   "service-key",
	}
	tokens := auth.NewTokenManager("test-secret", "https://proj.supabase.co", time.Hour)

	h := &harness{
		runner:  &fakeRunner{},
		fetcher: &fakeFetcher{},
		store: &fakeStore{
			entries: []store.CacheEntry{
				{ID: "p1", IGN: "alpha", EB: 2.5e18, Grade: "AAA", NumPrestiges: intPtr(41), Active: true},
				{ID: "p2", IGN: "beta", EB: 1.0e18, Grade: "AA", NumPrestiges: intPtr(17), Active: true},
			},
			lastUpdated: now.Add(-5 * time.Minute),
		},
		exchange: &fakeExchange{},
		tokens:   tokens,
		now:      now,
	}

	hd := handler.New(handler.Deps{
		Runner:   h.runner,
		Fetcher:  h.fetcher,
		Store:    h.store,
		Tokens:   tokens,
		Exchange: h.exchange,
		DB:       &fakePinger{},
		Config:   cfg,
		Now:      func() time.Time { return h.now },
	})
	h.router = api.NewRouter(hd, cfg)
	return h
}

func (h *harness) token(t *testing.T, id, level string) string {
	t.Helper()
	signed, _, err := h.tokens.Mint(auth.User{ID: id, Username: "u-" + id}, level, h.now)
	require.NoError(t, err)
	return signed
}

func (h *harness) do(method, path, token string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// --------------------------------------------------------------------------
// Leaderboard reads
// --------------------------------------------------------------------------

func TestGetLeaderboardRequiresSession(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/functions/v1/get-leaderboard", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodGet, "/functions/v1/get-leaderboard", "not-a-jwt", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetLeaderboardMasksPrestigesForUsers(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/functions/v1/get-leaderboard", h.token(t, "p1", auth.AccessUser), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	players := body["players"].([]any)
	require.Len(t, players, 2)
	for _, p := range players {
		assert.Nil(t, p.(map[string]any)["numPrestiges"])
	}
	assert.Equal(t, float64(2), body["playerCount"])
	assert.Equal(t, true, body["fromCache"])
}

func TestGetLeaderboardAdminSeesPrestiges(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/functions/v1/get-leaderboard", h.token(t, "p1", auth.AccessAdmin), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	players := decodeBody(t, rec)["players"].([]any)
	assert.Equal(t, float64(41), players[0].(map[string]any)["numPrestiges"])
}

func TestGetLeaderboardRefreshesStaleCache(t *testing.T) {
	h := newHarness(t)
	h.store.lastUpdated = h.now.Add(-30 * time.Minute)
	h.fetcher.records = []upstream.PlayerRecord{{ID: "p1", IGN: "alpha"}}

	rec := h.do(http.MethodGet, "/functions/v1/get-leaderboard", h.token(t, "p1", auth.AccessUser), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1, h.fetcher.calls)
	assert.Equal(t, 1, h.store.replaced)
	assert.Equal(t, false, decodeBody(t, rec)["fromCache"])
}

func TestGetLeaderboardRefreshesAtExactCacheAge(t *testing.T) {
	h := newHarness(t)
	h.store.lastUpdated = h.now.Add(-15 * time.Minute)
	h.fetcher.records = []upstream.PlayerRecord{{ID: "p1", IGN: "alpha"}}

	rec := h.do(http.MethodGet, "/functions/v1/get-leaderboard", h.token(t, "p1", auth.AccessUser), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Cache age equal to the freshness duration is already stale.
	assert.Equal(t, 1, h.fetcher.calls)
	assert.Equal(t, false, decodeBody(t, rec)["fromCache"])
}

func TestGetLeaderboardServesStaleOnUpstreamFailure(t *testing.T) {
	h := newHarness(t)
	h.store.lastUpdated = h.now.Add(-30 * time.Minute)
	h.fetcher.err = fmt.Errorf("connection refused")

	rec := h.do(http.MethodGet, "/functions/v1/get-leaderboard", h.token(t, "p1", auth.AccessUser), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["fromCache"])
	assert.Len(t, body["players"].([]any), 2)
}

func TestGetPlayerStatsSelf(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/functions/v1/get-player-current-stats", h.token(t, "p2", auth.AccessUser), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	player := decodeBody(t, rec)["player"].(map[string]any)
	assert.Equal(t, "p2", player["id"])
	assert.Nil(t, player["numPrestiges"])
}

func TestGetPlayerStatsOtherRequiresAdmin(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/functions/v1/get-player-current-stats?discord_id=p1",
		h.token(t, "p2", auth.AccessUser), nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodGet, "/functions/v1/get-player-current-stats?discord_id=p1",
		h.token(t, "p2", auth.AccessAdmin), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	player := decodeBody(t, rec)["player"].(map[string]any)
	assert.Equal(t, "p1", player["id"])
	assert.Equal(t, float64(41), player["numPrestiges"])
}

func TestGetPlayerStatsNotFound(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/functions/v1/get-player-current-stats?discord_id=nobody",
		h.token(t, "p1", auth.AccessAdmin), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --------------------------------------------------------------------------
// Cron trigger
// --------------------------------------------------------------------------

func TestCronRequiresCredentials(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/functions/v1/refresh-leaderboard-cron", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCronWithServiceRole(t *testing.T) {
	h := newHarness(t)
	h.runner.tickResult = controller.TickResult{
		TickID:       "tick-1",
		Timestamp:    h.now,
		CacheUpdated: true,
		PlayerCount:  150,
		Decision:     engine.Decision{ShouldSave: true, SyncPercentage: 100, Reason: "All conditions met"},
	}

	rec := h.do(http.MethodPost, "/functions/v1/refresh-leaderboard-cron", "service-key", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["leaderboardCacheUpdated"])
	assert.Equal(t, float64(150), body["playerCount"])
	assert.Equal(t, "All conditions met", body["decision"].(map[string]any)["reason"])
}

func TestCronWithSessionToken(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/functions/v1/refresh-leaderboard-cron",
		h.token(t, "p1", auth.AccessUser), nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCronTickFailure(t *testing.T) {
	h := newHarness(t)
	h.runner.tickErr = fmt.Errorf("upstream fetch: connection refused")

	rec := h.do(http.MethodPost, "/functions/v1/refresh-leaderboard-cron", "service-key", nil, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

// --------------------------------------------------------------------------
// Manual import
// --------------------------------------------------------------------------

func TestUpdatePlayerDataRequiresSecret(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/functions/v1/update-player-data", "", map[string]any{}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Session tokens are not enough for this endpoint.
	rec = h.do(http.MethodPost, "/functions/v1/update-player-data",
		h.token(t, "p1", auth.AccessAdmin), map[string]any{}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUpdatePlayerDataWithOperatorSecret(t *testing.T) {
	h := newHarness(t)
	h.runner.importResult = controller.ImportResult{
		SnapshotDate: "2026-03-07",
		PlayerCount:  150,
		Save: store.SaveResult{
			SnapshotDate:     "2026-03-07",
			SnapshotsWritten: 150,
			GainsWritten:     300,
			RefreshResult:    "ok",
		},
	}

	rec := h.do(http.MethodPost, "/functions/v1/update-player-data", "",
		map[string]any{"forceUpdate": true},
		map[string]string{"x-secret-token": "op-secret"})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "2026-03-07", body["snapshotDate"])
	assert.Equal(t, float64(150), body["snapshots"].(map[string]any)["inserted"])
	assert.Equal(t, float64(300), body["eggdayGains"].(map[string]any)["inserted"])
	assert.Equal(t, "ok", body["refreshMaterializedViewsResponse"])

	require.NotNil(t, h.runner.importOpts)
	assert.True(t, h.runner.importOpts.ForceUpdate)
}

func TestUpdatePlayerDataServiceRoleNeedsInternalMarker(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/functions/v1/update-player-data", "service-key",
		map[string]any{}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/functions/v1/update-player-data", "service-key",
		map[string]any{}, map[string]string{"x-internal-call": "true"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdatePlayerDataRejectsBadDate(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/functions/v1/update-player-data", "",
		map[string]any{"snapshotDate": "03/07/2026"},
		map[string]string{"x-secret-token": "op-secret"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdatePlayerDataPassesWireRecords(t *testing.T) {
	h := newHarness(t)
	h.runner.importResult = controller.ImportResult{SnapshotDate: "2026-03-07", PlayerCount: 1}

	rec := h.do(http.MethodPost, "/functions/v1/update-player-data", "",
		map[string]any{
			"players": []map[string]any{
				{"ID": "p1", "IGN": "alpha", "EB": 1.5e18, "updatedAt": "2026-03-07T11:30:00Z"},
			},
		},
		map[string]string{"x-secret-token": "op-secret"})
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, h.runner.importOpts)
	require.Len(t, h.runner.importOpts.Records, 1)
	rec0 := h.runner.importOpts.Records[0]
	assert.Equal(t, "p1", rec0.ID)
	require.NotNil(t, rec0.UpdatedAt)
	assert.Equal(t, time.Date(2026, 3, 7, 11, 30, 0, 0, time.UTC), rec0.UpdatedAt.UTC())
}

// --------------------------------------------------------------------------
// Snapshot deletion
// --------------------------------------------------------------------------

func TestDeleteSnapshotAuth(t *testing.T) {
	h := newHarness(t)
	h.store.deleteCount = 150
	body := map[string]any{"snapshot_date": "2026-03-01"}

	rec := h.do(http.MethodPost, "/functions/v1/delete-snapshot", "", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/functions/v1/delete-snapshot",
		h.token(t, "p1", auth.AccessUser), body, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/functions/v1/delete-snapshot",
		h.token(t, "p1", auth.AccessAdmin), body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p1", h.store.deletedBy)

	resp := decodeBody(t, rec)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, float64(150), resp["deletedRecords"])
	assert.Equal(t, "p1", resp["performedBy"])
}

func TestDeleteSnapshotWithOperatorSecret(t *testing.T) {
	h := newHarness(t)
	h.store.deleteCount = 10

	rec := h.do(http.MethodPost, "/functions/v1/delete-snapshot", "",
		map[string]any{"snapshot_date": "2026-03-01"},
		map[string]string{"x-secret-token": "op-secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "operator-secret", h.store.deletedBy)
}

func TestDeleteSnapshotRejectsBadDate(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/functions/v1/delete-snapshot",
		h.token(t, "p1", auth.AccessAdmin),
		map[string]any{"snapshot_date": "yesterday"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, h.store.deletedDate)
}

// --------------------------------------------------------------------------
// Identity exchange
// --------------------------------------------------------------------------

func TestDiscordAuthSuccess(t *testing.T) {
	h := newHarness(t)
	name := "Alpha"
	h.exchange.result = auth.ExchangeResult{
		Token:       "signed-jwt",
		User:        auth.User{ID: "p1", Username: "alpha", GlobalName: &name},
		AccessLevel: auth.AccessAdmin,
		ExpiresAt:   h.now.Add(time.Hour),
	}

	rec := h.do(http.MethodPost, "/functions/v1/discord-auth", "",
		map[string]any{"code": "oauth-code", "redirect_uri": "https://app/callback"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "signed-jwt", body["jwt"])
	assert.Equal(t, "admin", body["access_level"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "p1", user["discord_id"])
	assert.Equal(t, "Alpha", user["global_name"])
}

func TestDiscordAuthDenied(t *testing.T) {
	h := newHarness(t)
	h.exchange.err = &auth.AccessDeniedError{Message: "You must be a member of the Discord server to sign in."}

	rec := h.do(http.MethodPost, "/functions/v1/discord-auth", "",
		map[string]any{"code": "oauth-code", "redirect_uri": "https://app/callback"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "access_denied", envelope.Error.Code)
}

func TestDiscordAuthMissingFields(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/functions/v1/discord-auth", "",
		map[string]any{"code": "oauth-code"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDiscordAuthUpstreamFailure(t *testing.T) {
	h := newHarness(t)
	h.exchange.err = fmt.Errorf("token exchange: 500")

	rec := h.do(http.MethodPost, "/functions/v1/discord-auth", "",
		map[string]any{"code": "oauth-code", "redirect_uri": "https://app/callback"}, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// --------------------------------------------------------------------------
// Admin reads and health
// --------------------------------------------------------------------------

func TestEmailLogRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	h.store.emailLog = []store.EmailLogEntry{{Kind: "snapshot_saved", Success: true}}

	rec := h.do(http.MethodGet, "/functions/v1/email-log", h.token(t, "p1", auth.AccessUser), nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodGet, "/functions/v1/email-log", h.token(t, "p1", auth.AccessAdmin), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])
}

func TestWeeklyStatisticsRequiresAdmin(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/functions/v1/weekly-statistics", h.token(t, "p1", auth.AccessUser), nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodGet, "/functions/v1/weekly-statistics", h.token(t, "p1", auth.AccessAdmin), nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodGet, "/health/db", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
