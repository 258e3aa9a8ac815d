package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLister struct {
	filter Filter
	events []Event
}

func (l *recordingLister) List(_ context.Context, filter Filter) ([]Event, error) {
	l.filter = filter
	return l.events, nil
}

func TestLogsHandlerParsesFilters(t *testing.T) {
	lister := &recordingLister{events: []Event{{ID: 1, Type: TypeAlarmHigh, SensorID: "S1"}}}
	handler, err := NewLogsHandler(lister)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/logs/alarmas?desde=2026-01-01&hasta=2026-01-31&sensor_id=S1&username=todos", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, CategoryAlarm, lister.filter.Category)
	require.NotNil(t, lister.filter.From)
	require.NotNil(t, lister.filter.To)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), *lister.filter.From)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), *lister.filter.To)
	assert.Equal(t, "S1", lister.filter.SensorID)
	assert.Empty(t, lister.filter.Username)

	var body []Event
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Len(t, body, 1)
}

func TestLogsHandlerUnknownCategory(t *testing.T) {
	handler, err := NewLogsHandler(&recordingLister{})
	require.NoError(t, err)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/logs/otros", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestLogsHandlerRejectsBadDate(t *testing.T) {
	handler, err := NewLogsHandler(&recordingLister{})
	require.NoError(t, err)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/logs/accesos?desde=ayer", nil))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestLogsHandlerEmptyListIsArray(t *testing.T) {
	handler, err := NewLogsHandler(&recordingLister{})
	require.NoError(t, err)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/logs/auditoria", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, "[]", resp.Body.String())
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:5555"
	assert.Equal(t, "10.0.0.5", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ClientIP(req))
}
