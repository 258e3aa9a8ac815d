package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hisens-cloud/internal/audit"
	"hisens-cloud/internal/auth"
	"hisens-cloud/internal/telemetry/application"
	telemetry "hisens-cloud/internal/telemetry/domain"
	"hisens-cloud/internal/telemetry/infrastructure/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)

type fixture struct {
	store   *memory.Store
	ingest  *IngestHandler
	handler *Handler
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.NewStore()
	clock := fixedClock{now: testNow}
	ingestSvc, err := application.NewIngestService(store, application.WithClock(clock))
	require.NoError(t, err)
	nodes, err := application.NewNodeService(store, clock, nil)
	require.NoError(t, err)
	query, err := application.NewQueryService(store, nil, clock)
	require.NoError(t, err)

	ingest, err := NewIngestHandler(ingestSvc, nil)
	require.NoError(t, err)
	handler, err := NewHandler(query, nodes)
	require.NoError(t, err)
	return fixture{store: store, ingest: ingest, handler: handler}
}

func (f fixture) post(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.ingest.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/lectura", strings.NewReader(body)))
	return rec
}

func (f fixture) call(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.RoleAdmin, "ana"))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestIngestAcceptsBothSpellings(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, `{"node_id":"N1","sensor_id":"S1","value":21.5,"battery":80}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = f.post(t, `{"id_nodo":"N1","id_sensor":"S1","valor":22,"bateria_nodo":79}`)
	require.Equal(t, http.StatusOK, rec.Code)

	readings := f.store.Readings()
	require.Len(t, readings, 2)
	nodes, err := f.store.ListNodes(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, 79, nodes[0].Battery)
}

func TestIngestRejectsBadInputWithoutTouchingStore(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{
		`not json`,
		`{"node_id":"N1","sensor_id":"S1"}`,
		`{"node_id":"","sensor_id":"S1","value":1}`,
		`{"node_id":"N1","sensor_id":"S1","value":1,"battery":150}`,
		`{"node_id":"N1","sensor_id":"S1","value":1} {"junk":true`,
	} {
		rec := f.post(t, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Empty(t, f.store.Readings())
	assert.Empty(t, f.store.Events())

	rec := httptest.NewRecorder()
	f.ingest.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/lectura", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type failingIngester struct{}

func (failingIngester) Ingest(context.Context, application.IngestCommand) (application.IngestResult, error) {
	return application.IngestResult{}, errors.New("connection reset")
}

func TestIngestPersistenceFailureIs500(t *testing.T) {
	h, err := NewIngestHandler(failingIngester{}, nil)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/lectura", strings.NewReader(`{"node_id":"N1","sensor_id":"S1","value":1}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestStatusAndHistory(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.post(t, `{"node_id":"N1","sensor_id":"S1","value":10,"battery":64}`).Code)
	require.Equal(t, http.StatusOK, f.post(t, `{"node_id":"N1","sensor_id":"S1","value":12}`).Code)

	rec := f.call(t, http.MethodGet, "/api/sensores/estado-actual", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Len(t, status, 1)
	assert.Equal(t, "S1", status[0]["id"])
	assert.Equal(t, 12.0, status[0]["valor"])
	assert.Equal(t, 64.0, status[0]["bateria"])
	assert.Equal(t, true, status[0]["conectado"])

	rec = f.call(t, http.MethodGet, "/api/sensor/S1/historial?hours=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var points []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
	require.Len(t, points, 2)
	assert.Equal(t, 10.0, points[0]["valor"])
	assert.Equal(t, 12.0, points[1]["valor"])

	rec = f.call(t, http.MethodGet, "/api/sensor/S1/historial?hours=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.call(t, http.MethodGet, "/api/sensor/UNKNOWN/historial", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestNodeManagementFlow(t *testing.T) {
	f := newFixture(t)

	rec := f.call(t, http.MethodPost, "/api/nodos", `{"id":"N1","area":"Laboratorio","direccion":"Roma 123","piso":"2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = f.call(t, http.MethodPost, "/api/nodos", `{"id":"N1","area":"Laboratorio"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.call(t, http.MethodPost, "/api/nodos", `{"id":"N2","area":"Pendiente"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.call(t, http.MethodPost, "/api/sensores", `{"id":"T1","nombre_tarjeta":"Temp","tipo":"Temperatura","unidad":"°C","id_nodo":"N1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.call(t, http.MethodPost, "/api/sensores", `{"id":"T2","nombre_tarjeta":"Temp","id_nodo":"MISSING"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.call(t, http.MethodPost, "/api/sensor/config/T1", `{"limite_alto":30,"limite_bajo":0,"visible":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.call(t, http.MethodPut, "/api/nodos/N1", `{"area":"Bodega","direccion":"Roma 125","piso":"1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var edited map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &edited))
	assert.Equal(t, "Bodega", edited["area"])

	rec = f.call(t, http.MethodPut, "/api/nodos/NOPE", `{"area":"Bodega"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.call(t, http.MethodGet, "/api/nodos", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var nodes []nodeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "Roma 125", nodes[0].Address)
	require.Len(t, nodes[0].Sensors, 1)
	assert.Equal(t, "Temperatura", nodes[0].Sensors[0].Type)
	require.NotNil(t, nodes[0].Sensors[0].HighLimit)
	assert.Equal(t, 30.0, *nodes[0].Sensors[0].HighLimit)
	assert.True(t, nodes[0].Sensors[0].Visible)

	limitEvents := 0
	for _, event := range f.store.Events() {
		if event.Type == audit.TypeLimitChanged {
			limitEvents++
			assert.Equal(t, "ana", event.Username)
		}
	}
	assert.Equal(t, 1, limitEvents)

	rec = f.call(t, http.MethodDelete, "/api/nodos", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestReplaceNode(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.call(t, http.MethodPost, "/api/nodos", `{"id":"OLD","area":"Sala","direccion":"A","piso":"1"}`).Code)
	require.Equal(t, http.StatusOK, f.call(t, http.MethodPost, "/api/sensores", `{"id":"T1","nombre_tarjeta":"Temp","id_nodo":"OLD"}`).Code)
	require.Equal(t, http.StatusOK, f.post(t, `{"node_id":"NEW","sensor_id":"X9","value":1}`).Code)

	rec := f.call(t, http.MethodPost, "/api/nodos/reemplazar", `{"id_viejo":"NEW","id_nuevo":"OLD"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.call(t, http.MethodPost, "/api/nodos/reemplazar", `{"id_viejo":"GHOST","id_nuevo":"NEW"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.call(t, http.MethodPost, "/api/nodos/reemplazar", `{"id_viejo":"OLD","id_nuevo":"NEW"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","sensores_movidos":1,"sensores_descartados":1,"lecturas_descartadas":1}`, rec.Body.String())

	nodes, err := f.store.ListNodes(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "NEW", nodes[0].ID)
	assert.Equal(t, "Sala", nodes[0].Area)
	assert.NotEqual(t, telemetry.AreaPending, nodes[0].Area)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.call(t, http.MethodGet, "/api/otra", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.call(t, http.MethodGet, "/api/sensores", "").Code)
}

func TestFrontendNodePaths(t *testing.T) {
	f := newFixture(t)

	rec := f.call(t, http.MethodPost, "/api/nodos/crear", `{"id":"N1","area":"Laboratorio","direccion":"Roma 123","piso":"2"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.call(t, http.MethodPost, "/api/sensores/crear", `{"id":"T1","nombre_tarjeta":"Temp","id_nodo":"N1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.call(t, http.MethodPut, "/api/nodos/editar/N1", `{"area":"Bodega","direccion":"Roma 125","piso":"1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.call(t, http.MethodGet, "/api/nodos/all", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var nodes []nodeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "N1", nodes[0].ID)
	assert.Equal(t, "Bodega", nodes[0].Area)
	require.Len(t, nodes[0].Sensors, 1)

	assert.Equal(t, http.StatusMethodNotAllowed, f.call(t, http.MethodPut, "/api/nodos/all", "").Code)
	assert.Equal(t, http.StatusNotFound, f.call(t, http.MethodPut, "/api/nodos/editar/", `{"area":"X"}`).Code)
}
