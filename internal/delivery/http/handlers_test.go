package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	delivery "oraculus-server/internal/delivery/http"
	"oraculus-server/internal/domain"
	"oraculus-server/internal/repository"
	"oraculus-server/internal/service"
	"oraculus-server/internal/storygraph"
	"oraculus-server/internal/template"
	"oraculus-server/pkg/taskmanager"
)

type noopStore struct {
	mu      sync.Mutex
	records map[uuid.UUID][]byte
}

func (s *noopStore) Create(ctx context.Context, rec *repository.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec.State
	return nil
}

func (s *noopStore) SaveState(ctx context.Context, id uuid.UUID, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = state
	return nil
}

func (s *noopStore) AppendFeedback(ctx context.Context, ev repository.FeedbackEvent) error {
	return nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store := &noopStore{records: make(map[uuid.UUID][]byte)}
	factory := func(p domain.Protagonist) storygraph.Provider {
		return storygraph.NewSeedProvider(p, 1)
	}
	tasks := taskmanager.NewManager()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = tasks.Shutdown(ctx)
	})

	svc := service.NewGameService(store, factory, tasks, zap.NewNop())
	handler := delivery.New(svc, template.NewManager(), tasks)

	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()
	handler.RegisterRoutes(api)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, into interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func createSession(t *testing.T, srv *httptest.Server) service.SessionView {
	t.Helper()
	resp := postJSON(t, srv.URL+"/api/sessions", domain.Protagonist{
		Name: "Kira", Gender: "female", Age: 30, StartingSituation: "a wandering scholar",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var view service.SessionView
	decode(t, resp, &view)
	return view
}

func TestCreateSessionEndpoint(t *testing.T) {
	srv := newTestServer(t)

	view := createSession(t, srv)
	assert.NotEqual(t, uuid.Nil, view.ID)
	require.NotNil(t, view.State.Node)
	assert.Equal(t, "start", view.State.Node.ID)

	t.Run("invalid age is a 400", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/sessions", domain.Protagonist{Name: "Kid", Age: 10})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("malformed body is a 400", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/api/sessions", "application/json", bytes.NewReader([]byte("{")))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestGetSessionEndpoint(t *testing.T) {
	srv := newTestServer(t)
	view := createSession(t, srv)

	resp, err := http.Get(srv.URL + "/api/sessions/" + view.ID.String())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got service.SessionView
	decode(t, resp, &got)
	assert.Equal(t, view.ID, got.ID)

	t.Run("unknown session is a 404", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/sessions/" + uuid.NewString())
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("bad id is a 400", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/sessions/not-a-uuid")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestChoiceEndpoint(t *testing.T) {
	srv := newTestServer(t)
	view := createSession(t, srv)
	base := fmt.Sprintf("%s/api/sessions/%s", srv.URL, view.ID)

	resp := postJSON(t, base+"/choice", map[string]int{"choice_id": 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var outcome service.ChoiceOutcome
	decode(t, resp, &outcome)
	assert.True(t, outcome.Resolved)
	require.NotNil(t, outcome.State.Node)
	assert.Equal(t, "examine_mirror", outcome.State.Node.ID)

	t.Run("invalid choice is a 409", func(t *testing.T) {
		resp := postJSON(t, base+"/choice", map[string]int{"choice_id": 42})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestGestureEndpoint(t *testing.T) {
	srv := newTestServer(t)
	view := createSession(t, srv)
	base := fmt.Sprintf("%s/api/sessions/%s", srv.URL, view.ID)

	t.Run("sub-threshold gesture is 200 unresolved", func(t *testing.T) {
		resp := postJSON(t, base+"/gesture", map[string]float64{"offset_x": 20, "velocity_x": 50})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var outcome service.ChoiceOutcome
		decode(t, resp, &outcome)
		assert.False(t, outcome.Resolved)
		assert.Equal(t, 0, outcome.State.Index)
	})

	t.Run("committed right swipe advances", func(t *testing.T) {
		resp := postJSON(t, base+"/gesture", map[string]float64{"offset_x": 180})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var outcome service.ChoiceOutcome
		decode(t, resp, &outcome)
		assert.True(t, outcome.Resolved)
		assert.Equal(t, 1, outcome.ChoiceID)
	})
}

func TestKeyEndpoint(t *testing.T) {
	srv := newTestServer(t)
	view := createSession(t, srv)
	base := fmt.Sprintf("%s/api/sessions/%s", srv.URL, view.ID)

	resp := postJSON(t, base+"/key", map[string]string{"key": "ArrowLeft"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var outcome service.ChoiceOutcome
	decode(t, resp, &outcome)
	assert.True(t, outcome.Resolved)
	assert.Equal(t, 2, outcome.ChoiceID)
}

func TestResetAndRestartEndpoints(t *testing.T) {
	srv := newTestServer(t)
	view := createSession(t, srv)
	base := fmt.Sprintf("%s/api/sessions/%s", srv.URL, view.ID)

	resp := postJSON(t, base+"/choice", map[string]int{"choice_id": 1})
	resp.Body.Close()

	resp = postJSON(t, base+"/reset", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var afterReset service.SessionView
	decode(t, resp, &afterReset)
	assert.Nil(t, afterReset.State.Node)
	assert.Empty(t, afterReset.State.History)
	assert.Equal(t, domain.Protagonist{}, afterReset.Protagonist)

	resp = postJSON(t, base+"/restart", map[string]interface{}{
		"name": "Bram", "gender": "male", "age": 52,
		"starting_situation": "a retired soldier",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var afterRestart service.SessionView
	decode(t, resp, &afterRestart)
	require.NotNil(t, afterRestart.State.Node)
	assert.Equal(t, "start", afterRestart.State.Node.ID)
	assert.Equal(t, "Bram", afterRestart.Protagonist.Name)

	t.Run("restart rejects an invalid protagonist", func(t *testing.T) {
		resp := postJSON(t, base+"/restart", map[string]interface{}{"name": "Kid", "age": 10})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestTemplateEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/templates")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []template.Summary
	decode(t, resp, &list)
	require.Len(t, list, 2)

	resp, err = http.Get(srv.URL + "/api/templates/fantasy_adventure")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	t.Run("unknown template is a 404", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/templates/nope")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("story generation", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/templates/fantasy_adventure/story", map[string]interface{}{
			"values": map[string]string{
				"setting":      "enchanted_forest",
				"magical_item": "glowing_crystal",
			},
			"protagonist": domain.Protagonist{Name: "Kira", Gender: "female", Age: 30},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body map[string]string
		decode(t, resp, &body)
		assert.Contains(t, body["story"], "enchanted_forest")
	})

	t.Run("bad values are a 400 with problems", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/templates/fantasy_adventure/story", map[string]interface{}{
			"values": map[string]string{"setting": "volcano"},
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestTaskStatusEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/tasks/" + uuid.NewString())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
