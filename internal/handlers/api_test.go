// internal/handlers/api_test.go
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markreid/faceoff/internal/models"
	"github.com/markreid/faceoff/internal/notify"
	"github.com/markreid/faceoff/internal/room"
	"github.com/markreid/faceoff/internal/service"
	"github.com/markreid/faceoff/internal/session"
)

// stubStore satisfies the store interface with no-op persistence.
type stubStore struct{}

func (stubStore) EnqueueNotification(ctx context.Context, n models.PendingNotification) (models.PendingNotification, error) {
	return n, nil
}

func (stubStore) UndeliveredFor(ctx context.Context, sessionID string) ([]models.PendingNotification, error) {
	return nil, nil
}

func (stubStore) DuePending(ctx context.Context, now time.Time, maxAttempts int) ([]models.PendingNotification, error) {
	return nil, nil
}

func (stubStore) MarkDelivered(ctx context.Context, id int64) error { return nil }

func (stubStore) Reschedule(ctx context.Context, id int64, attempts int, next time.Time) error {
	return nil
}

func (stubStore) ArchiveMatch(ctx context.Context, rec models.MatchRecord) error { return nil }

func (stubStore) PlayerStats(ctx context.Context, name string) (models.PlayerStats, bool, error) {
	return models.PlayerStats{PlayerName: name, TotalGames: 3, Wins: 2, Losses: 1, WinRate: 2.0 / 3.0}, true, nil
}

func (stubStore) UpsertPlayerStats(ctx context.Context, s models.PlayerStats) error { return nil }

func setupAPI() (*API, *session.Registry) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	reg := session.NewRegistry(l)
	rooms := room.NewStore(l)
	st := stubStore{}
	notifier := notify.New(reg, st, l)
	svc := service.New(reg, rooms, st, notifier, nil, l)
	return NewAPI(svc, reg, l), reg
}

func postJSON(t *testing.T, h http.HandlerFunc, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	w := httptest.NewRecorder()
	h(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestJoinEndpointQuickMatch(t *testing.T) {
	api, _ := setupAPI()

	w, out := postJSON(t, api.Join, "/api/join", map[string]string{
		"sessionId": "s1", "name": "alice", "game": "tictactoe",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "waiting", out["status"])

	w, out = postJSON(t, api.Join, "/api/join", map[string]string{
		"sessionId": "s2", "name": "bob", "game": "tictactoe",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "matched", out["status"])
	assert.NotEmpty(t, out["matchId"])
}

func TestJoinEndpointValidation(t *testing.T) {
	api, _ := setupAPI()

	w, out := postJSON(t, api.Join, "/api/join", map[string]string{"name": "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, out["error"])

	req := httptest.NewRequest("GET", "/api/join", nil)
	rec := httptest.NewRecorder()
	api.Join(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCreateListJoinMatchEndpoints(t *testing.T) {
	api, _ := setupAPI()

	w, out := postJSON(t, api.CreateMatch, "/api/create", map[string]string{
		"sessionId": "s1", "name": "alice", "game": "duckhunt", "label": "ducks",
	})
	require.Equal(t, http.StatusOK, w.Code)
	matchID := out["matchId"].(string)
	require.NotEmpty(t, matchID)

	req := httptest.NewRequest("GET", "/api/matches?game=duckhunt", nil)
	rec := httptest.NewRecorder()
	api.ListMatches(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Matches []map[string]interface{} `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Matches, 1)
	assert.Equal(t, matchID, listing.Matches[0]["matchId"])
	assert.Equal(t, "alice", listing.Matches[0]["hostName"])
	assert.Equal(t, float64(1), listing.Matches[0]["playersCount"])
	assert.Equal(t, float64(2), listing.Matches[0]["maxPlayers"])

	w, out = postJSON(t, api.JoinMatch, "/api/join-match", map[string]string{
		"sessionId": "s2", "name": "bob", "matchId": matchID,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "joined", out["status"])

	// A third player finds the match gone from listings and full on join.
	w, out = postJSON(t, api.JoinMatch, "/api/join-match", map[string]string{
		"sessionId": "s3", "name": "carol", "matchId": matchID,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rejected", out["status"])
	assert.Equal(t, "ALREADY_FULL", out["reason"])
}

func TestMoveAndStateEndpoints(t *testing.T) {
	api, _ := setupAPI()

	postJSON(t, api.Join, "/api/join", map[string]string{"sessionId": "s1", "name": "alice", "game": "tictactoe"})
	postJSON(t, api.Join, "/api/join", map[string]string{"sessionId": "s2", "name": "bob", "game": "tictactoe"})

	// A move addressed to a match the caller isn't in is refused and leaves
	// the real board untouched.
	w, out := postJSON(t, api.Move, "/api/move", map[string]interface{}{
		"sessionId": "s1", "matchId": "M-bogus", "cell": 0,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, out["accepted"])
	assert.Equal(t, "NO_MATCH", out["reason"])

	req := httptest.NewRequest("GET", "/api/state?sessionId=s1", nil)
	rec := httptest.NewRecorder()
	api.State(rec, req)
	var untouched map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &untouched))
	assert.Equal(t, ".........", untouched["board"])

	w, out = postJSON(t, api.Move, "/api/move", map[string]interface{}{
		"sessionId": "s1", "cell": 4,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, out["accepted"])

	w, out = postJSON(t, api.Move, "/api/move", map[string]interface{}{
		"sessionId": "s1", "cell": 5,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, out["accepted"])
	assert.Equal(t, "NOT_YOUR_TURN", out["reason"])

	req = httptest.NewRequest("GET", "/api/state?sessionId=s2", nil)
	rec = httptest.NewRecorder()
	api.State(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var view map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, true, view["hasMatch"])
	assert.Equal(t, "....X....", view["board"])
	assert.Equal(t, "O", view["yourMark"])
}

func TestStatsEndpoint(t *testing.T) {
	api, _ := setupAPI()

	req := httptest.NewRequest("GET", "/api/stats?player=alice", nil)
	rec := httptest.NewRecorder()
	api.Stats(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats models.PlayerStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, "alice", stats.PlayerName)
	assert.Equal(t, 3, stats.TotalGames)
	assert.Equal(t, 2, stats.Wins)

	// Missing player parameter.
	req = httptest.NewRequest("GET", "/api/stats", nil)
	rec = httptest.NewRecorder()
	api.Stats(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConnectionEndpoint(t *testing.T) {
	api, reg := setupAPI()
	reg.Touch("s1", "alice")

	req := httptest.NewRequest("GET", "/api/connection?sessionId=s1", nil)
	rec := httptest.NewRecorder()
	api.Connection(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var health models.ConnectionHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "s1", health.SessionID)
	assert.Equal(t, 1.0, health.QualityScore)

	req = httptest.NewRequest("GET", "/api/connection?sessionId=ghost", nil)
	rec = httptest.NewRecorder()
	api.Connection(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
