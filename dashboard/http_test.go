package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamview/protocol"
	"github.com/c360/streamview/series"
)

func TestGraphsHandler(t *testing.T) {
	d, _, _ := newTestDashboard(t)
	d.AddGraph(cpuMax)
	d.AddGraph(memSum)
	d.Report("a:1", protocol.Report{MetricSpec: cpuMax, Timestamp: 990_000, Value: 4})

	store := NewFrameStore()
	store.DrawFrame(series.Frame{ID: memSum.ID(), Name: "cached"})

	rec := httptest.NewRecorder()
	GraphsHandler(d, store).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/graphs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var frames []series.Frame
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &frames))
	require.Len(t, frames, 2)
	assert.Equal(t, "cpu (max)", frames[0].Name)
	require.Len(t, frames[0].Series, 1)
	assert.Equal(t, "a:1", frames[0].Series[0].Server)
	assert.Equal(t, "cached", frames[1].Name)
}

func TestGraphsHandler_MethodNotAllowed(t *testing.T) {
	d, _, _ := newTestDashboard(t)
	rec := httptest.NewRecorder()
	GraphsHandler(d, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/graphs", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestFragmentHandler(t *testing.T) {
	src, _, _ := newTestDashboard(t)
	src.AddGraph(cpuMax)

	rec := httptest.NewRecorder()
	FragmentHandler(src).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/fragment", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	fragment := body["fragment"]
	require.True(t, strings.HasPrefix(fragment, FragmentPrefix))

	dst, _, _ := newTestDashboard(t)
	rec = httptest.NewRecorder()
	FragmentHandler(dst).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/fragment", strings.NewReader(fragment+"\n")))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []protocol.MetricSpec{cpuMax}, dst.Subscriptions())

	rec = httptest.NewRecorder()
	FragmentHandler(dst).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/fragment", strings.NewReader("#graph/{oops")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFrameStore(t *testing.T) {
	s := NewFrameStore()
	s.DrawFrame(series.Frame{ID: "b"})
	s.DrawFrame(series.Frame{ID: "a"})
	s.DrawFrame(series.Frame{ID: "b", Name: "newer"})

	frames := s.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, "a", frames[0].ID)
	assert.Equal(t, "newer", frames[1].Name)

	s.Forget("a")
	_, ok := s.Frame("a")
	assert.False(t, ok)
}
