package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testexec/types"
)

type fakeStatus struct {
	runs []RunRecord
}

func (f *fakeStatus) Runs() []RunRecord { return f.runs }

func (f *fakeStatus) Run(runID string) (RunRecord, bool) {
	for _, r := range f.runs {
		if r.RunID == runID {
			return r, true
		}
	}
	return RunRecord{}, false
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	h := NewHealthzServer(nil).Handler()

	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	// status routes only exist with a provider
	assert.Equal(t, http.StatusNotFound, get(t, h, "/runs").Code)
}

func TestRunStatusEndpoints(t *testing.T) {
	status := &fakeStatus{runs: []RunRecord{
		{RunID: "second", Summary: types.RunSummary{Total: 3, Failed: 1}, Failed: true, StartTime: time.Unix(20, 0).UTC()},
		{RunID: "first", Summary: types.RunSummary{Total: 3}, StartTime: time.Unix(10, 0).UTC()},
	}}
	h := NewHealthzServer(status).Handler()

	rec := get(t, h, "/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var runs []RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Equal(t, status.runs, runs)

	rec = get(t, h, "/runs/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	var latest RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	assert.Equal(t, "second", latest.RunID)

	rec = get(t, h, "/runs/first")
	require.Equal(t, http.StatusOK, rec.Code)
	var first RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.False(t, first.Failed)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/runs/missing").Code)
}

func TestRunStatusWithoutRuns(t *testing.T) {
	h := NewHealthzServer(&fakeStatus{}).Handler()

	rec := get(t, h, "/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
	assert.Equal(t, http.StatusNotFound, get(t, h, "/runs/latest").Code)
}

func TestServiceWithEverythingDisabled(t *testing.T) {
	s := New(Config{}, nil, log.NewLogger(log.DiscardHandler()))
	s.Start(context.Background())
	s.Shutdown()
}
