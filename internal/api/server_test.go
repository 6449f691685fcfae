package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fxlabs-dev/signalgate/internal/authz"
	"github.com/fxlabs-dev/signalgate/internal/fire"
	"github.com/fxlabs-dev/signalgate/internal/mission"
	"github.com/fxlabs-dev/signalgate/internal/risk"
	"github.com/fxlabs-dev/signalgate/internal/wire"
)

type nopDispatcher struct{ count int }

func (d *nopDispatcher) Dispatch(ctx context.Context, cmd wire.OrderCommand, symbol string) error {
	d.count++
	return nil
}

type apiFixture struct {
	ts       *httptest.Server
	signer   *authz.Signer
	missions *mission.Store
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	dir := t.TempDir()

	missions, err := mission.Open(filepath.Join(dir, "missions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { missions.Close() })

	fires, err := fire.Open(filepath.Join(dir, "fires.db"))
	require.NoError(t, err)
	t.Cleanup(func() { fires.Close() })

	profiles := risk.NewMemoryProfiles()
	profiles.Put(risk.Profile{UserID: "user-1", Tier: "pro", RiskPct: 0.02, Balance: 10000})

	signer := authz.NewSigner([]byte("test-secret"))
	book := risk.NewBook([]string{"EURUSD"})
	authority := fire.NewAuthority(signer, fires, missions, profiles, book, &nopDispatcher{}, zap.NewNop())

	server := NewServer(":0", authority, signer, missions, zap.NewNop())
	ts := httptest.NewServer(server.httpServer.Handler)
	t.Cleanup(ts.Close)

	return &apiFixture{ts: ts, signer: signer, missions: missions}
}

func (f *apiFixture) addMission(t *testing.T, id string, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, f.missions.Put(context.Background(), mission.Mission{
		MissionID: id,
		Symbol:    "EURUSD",
		Direction: "BUY",
		Entry:     1.10000,
		Stop:      1.09850,
		Target:    1.10450,
		Pattern:   "breakout",
		Status:    mission.StatusPending,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}))
}

func (f *apiFixture) fireURL(user, missionID string) string {
	exp := time.Now().Add(10 * time.Minute).Truncate(time.Second)
	sig := f.signer.Sign(user, missionID, exp)
	return fmt.Sprintf("%s/api/v1/fire?u=%s&exp=%d&sig=%s", f.ts.URL, user, exp.Unix(), sig)
}

func postFire(t *testing.T, url, missionID, userID, key string) (*http.Response, map[string]any) {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"mission_id":      missionID,
		"user_id":         userID,
		"idempotency_key": key,
	})
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestFireEndpoint_Success(t *testing.T) {
	f := newAPIFixture(t)
	f.addMission(t, "m-1", time.Now().Add(time.Hour))

	resp, body := postFire(t, f.fireURL("user-1", "m-1"), "m-1", "user-1", "key-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
	assert.NotEmpty(t, body["fire_id"])
	assert.Equal(t, 1.33, body["lot"])
}

func TestFireEndpoint_DuplicateCarriesOriginalFireID(t *testing.T) {
	f := newAPIFixture(t)
	f.addMission(t, "m-1", time.Now().Add(time.Hour))
	url := f.fireURL("user-1", "m-1")

	_, first := postFire(t, url, "m-1", "user-1", "key-1")
	resp, second := postFire(t, url, "m-1", "user-1", "key-1")

	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, false, second["ok"])
	assert.Equal(t, "duplicate", second["error"])
	assert.Equal(t, first["fire_id"], second["fire_id"])
}

func TestFireEndpoint_MissingCapabilityParams(t *testing.T) {
	f := newAPIFixture(t)
	f.addMission(t, "m-1", time.Now().Add(time.Hour))

	resp, body := postFire(t, f.ts.URL+"/api/v1/fire?u=user-1", "m-1", "user-1", "key-1")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "forbidden", body["error"])
}

func TestFireEndpoint_QueryUserMustMatchBody(t *testing.T) {
	f := newAPIFixture(t)
	f.addMission(t, "m-1", time.Now().Add(time.Hour))

	// Capability signed for user-2, body claims user-1.
	resp, body := postFire(t, f.fireURL("user-2", "m-1"), "m-1", "user-1", "key-1")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "forbidden", body["error"])
}

func TestFireEndpoint_ErrorCodes(t *testing.T) {
	f := newAPIFixture(t)

	// Unknown mission.
	resp, body := postFire(t, f.fireURL("user-1", "m-missing"), "m-missing", "user-1", "k1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "mission_not_found", body["error"])

	// Expired mission.
	f.addMission(t, "m-old", time.Now().Add(-time.Minute))
	resp, body = postFire(t, f.fireURL("user-1", "m-old"), "m-old", "user-1", "k2")
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	assert.Equal(t, "mission_expired", body["error"])

	// Already fired mission.
	f.addMission(t, "m-live", time.Now().Add(time.Hour))
	_, _ = postFire(t, f.fireURL("user-1", "m-live"), "m-live", "user-1", "k3")
	resp, body = postFire(t, f.fireURL("user-1", "m-live"), "m-live", "user-1", "k4")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "mission_conflict", body["error"])
}

func TestFireEndpoint_BadJSONBody(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Post(f.fireURL("user-1", "m-1"), "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMissionEndpoint_CapabilityGated(t *testing.T) {
	f := newAPIFixture(t)
	f.addMission(t, "m-1", time.Now().Add(time.Hour))

	exp := time.Now().Add(10 * time.Minute).Truncate(time.Second)
	sig := f.signer.Sign("user-1", "m-1", exp)

	// Valid capability.
	url := fmt.Sprintf("%s/api/v1/missions/m-1?u=user-1&exp=%d&sig=%s", f.ts.URL, exp.Unix(), sig)
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	m := body["mission"].(map[string]any)
	assert.Equal(t, "EURUSD", m["symbol"])
	assert.Equal(t, "PENDING", m["status"])

	// Capability for a different mission does not open this one.
	wrong := fmt.Sprintf("%s/api/v1/missions/m-1?u=user-1&exp=%d&sig=%s",
		f.ts.URL, exp.Unix(), f.signer.Sign("user-1", "m-other", exp))
	resp2, err := http.Get(wrong)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp2.StatusCode)
}
