package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hisens-cloud/internal/auth"
	"hisens-cloud/internal/telemetry/application"
	telemetry "hisens-cloud/internal/telemetry/domain"
)

const (
	pathStatus      = "/api/sensores/estado-actual"
	pathSensors     = "/api/sensores"
	pathSensor      = "/api/sensor/"
	pathSensorCfg   = "/api/sensor/config/"
	pathNodes       = "/api/nodos"
	pathNodeReplace = "/api/nodos/reemplazar"

	// Paths called by the bundled web frontend.
	pathNodesAll      = "/api/nodos/all"
	pathNodesCreate   = "/api/nodos/crear"
	pathNodesEdit     = "/api/nodos/editar/"
	pathSensorsCreate = "/api/sensores/crear"
)

var statusOK = map[string]string{"status": "ok"}

// Handler serves the dashboard read paths and operator changes to nodes and sensors.
type Handler struct {
	query *application.QueryService
	nodes *application.NodeService
}

// NewHandler constructs a handler.
func NewHandler(query *application.QueryService, nodes *application.NodeService) (*Handler, error) {
	if query == nil {
		return nil, errors.New("telemetry handler: nil query service")
	}
	if nodes == nil {
		return nil, errors.New("telemetry handler: nil node service")
	}
	return &Handler{query: query, nodes: nodes}, nil
}

// ServeHTTP routes /api/sensores, /api/sensor/ and /api/nodos subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == pathStatus:
		h.only(w, r, http.MethodGet, h.handleStatus)
	case path == pathSensors, path == pathSensorsCreate:
		h.only(w, r, http.MethodPost, h.handleCreateSensor)
	case strings.HasPrefix(r.URL.Path, pathSensorCfg):
		h.only(w, r, http.MethodPost, h.handleSensorConfig)
	case strings.HasPrefix(path, pathSensor) && strings.HasSuffix(path, "/historial"):
		h.only(w, r, http.MethodGet, h.handleHistory)
	case path == pathNodeReplace:
		h.only(w, r, http.MethodPost, h.handleReplace)
	case path == pathNodes:
		switch r.Method {
		case http.MethodGet:
			h.handleListNodes(w, r)
		case http.MethodPost:
			h.handleCreateNode(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case path == pathNodesAll:
		h.only(w, r, http.MethodGet, h.handleListNodes)
	case path == pathNodesCreate:
		h.only(w, r, http.MethodPost, h.handleCreateNode)
	case strings.HasPrefix(path, pathNodesEdit):
		h.only(w, r, http.MethodPut, h.editNode(pathNodesEdit))
	case strings.HasPrefix(path, pathNodes+"/"):
		h.only(w, r, http.MethodPut, h.editNode(pathNodes+"/"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) only(w http.ResponseWriter, r *http.Request, method string, next http.HandlerFunc) {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	next(w, r)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	list, err := h.query.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []telemetry.SensorStatus{}
	}
	writeJSON(w, http.StatusOK, list)
}

type historyPoint struct {
	TS    time.Time `json:"ts"`
	Value float64   `json:"valor"`
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSuffix(r.URL.Path, "/"), pathSensor), "/historial")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	window := application.DefaultHistoryWindow
	if raw := r.URL.Query().Get("hours"); raw != "" {
		hours, err := strconv.ParseFloat(raw, 64)
		if err != nil || hours <= 0 {
			http.Error(w, "hours must be a positive number", http.StatusBadRequest)
			return
		}
		window = time.Duration(hours * float64(time.Hour))
	}

	readings, err := h.query.History(r.Context(), id, window)
	if err != nil {
		writeError(w, err)
		return
	}
	points := make([]historyPoint, 0, len(readings))
	for _, reading := range readings {
		points = append(points, historyPoint{TS: reading.TS.UTC(), Value: reading.Value})
	}
	writeJSON(w, http.StatusOK, points)
}

type sensorRequest struct {
	ID        string   `json:"id"`
	Name      string   `json:"nombre_tarjeta"`
	Type      string   `json:"tipo"`
	Unit      string   `json:"unidad"`
	NodeID    string   `json:"id_nodo"`
	HighLimit *float64 `json:"limite_alto"`
	LowLimit  *float64 `json:"limite_bajo"`
	Visible   *bool    `json:"visible"`
}

func (h *Handler) handleCreateSensor(w http.ResponseWriter, r *http.Request) {
	var req sensorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sensorType := strings.TrimSpace(req.Type)
	if sensorType == "" {
		sensorType = telemetry.SensorTypeGeneric
	}
	visible := true
	if req.Visible != nil {
		visible = *req.Visible
	}
	sensor := telemetry.Sensor{
		ID:        req.ID,
		NodeID:    strings.TrimSpace(req.NodeID),
		Name:      strings.TrimSpace(req.Name),
		Type:      sensorType,
		Unit:      req.Unit,
		HighLimit: req.HighLimit,
		LowLimit:  req.LowLimit,
		Visible:   visible,
	}
	if err := h.nodes.CreateSensor(r.Context(), sensor, auth.SubjectFromContext(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

func (h *Handler) handleSensorConfig(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, pathSensorCfg), "/")
	if id == "" || strings.Contains(id, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var cfg telemetry.SensorConfig
	if !decodeJSON(w, r, &cfg) {
		return
	}
	if err := h.nodes.ConfigureSensor(r.Context(), id, cfg, auth.SubjectFromContext(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

type replaceRequest struct {
	OldID string `json:"id_viejo"`
	NewID string `json:"id_nuevo"`
}

type replaceResponse struct {
	Status             string `json:"status"`
	SensorsMoved       int    `json:"sensores_movidos"`
	PlaceholdersPurged int    `json:"sensores_descartados"`
	ReadingsPurged     int    `json:"lecturas_descartadas"`
}

func (h *Handler) handleReplace(w http.ResponseWriter, r *http.Request) {
	var req replaceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.nodes.Replace(r.Context(), req.OldID, req.NewID, auth.SubjectFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, replaceResponse{
		Status:             "ok",
		SensorsMoved:       result.SensorsMoved,
		PlaceholdersPurged: result.PlaceholdersPurged,
		ReadingsPurged:     result.ReadingsPurged,
	})
}

type nodeResponse struct {
	ID      string           `json:"id"`
	Area    string           `json:"area"`
	Address string           `json:"direccion"`
	Floor   string           `json:"piso"`
	Battery int              `json:"bateria"`
	Sensors []sensorResponse `json:"sensores"`
}

type sensorResponse struct {
	ID        string   `json:"id"`
	NodeID    string   `json:"id_nodo"`
	Name      string   `json:"nombre_tarjeta"`
	Type      string   `json:"tipo"`
	Unit      string   `json:"unidad"`
	HighLimit *float64 `json:"limite_alto"`
	LowLimit  *float64 `json:"limite_bajo"`
	Visible   bool     `json:"visible"`
}

func toNodeResponse(node telemetry.Node, sensors []telemetry.Sensor) nodeResponse {
	out := nodeResponse{
		ID:      node.ID,
		Area:    node.Area,
		Address: node.Address,
		Floor:   node.Floor,
		Battery: node.Battery,
		Sensors: make([]sensorResponse, 0, len(sensors)),
	}
	for _, s := range sensors {
		out.Sensors = append(out.Sensors, sensorResponse{
			ID:        s.ID,
			NodeID:    s.NodeID,
			Name:      s.Name,
			Type:      s.Type,
			Unit:      s.Unit,
			HighLimit: s.HighLimit,
			LowLimit:  s.LowLimit,
			Visible:   s.Visible,
		})
	}
	return out
}

func (h *Handler) handleListNodes(w http.ResponseWriter, r *http.Request) {
	views, err := h.query.Nodes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]nodeResponse, 0, len(views))
	for _, view := range views {
		out = append(out, toNodeResponse(view.Node, view.Sensors))
	}
	writeJSON(w, http.StatusOK, out)
}

type nodeRequest struct {
	ID string `json:"id"`
	telemetry.Location
}

func (h *Handler) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var req nodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := h.nodes.CreateNode(r.Context(), req.ID, req.Location, auth.SubjectFromContext(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

func (h *Handler) editNode(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
		if id == "" || strings.Contains(id, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var location telemetry.Location
		if !decodeJSON(w, r, &location) {
			return
		}
		node, err := h.nodes.EditNode(r.Context(), id, location, auth.SubjectFromContext(r.Context()))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toNodeResponse(node, nil))
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, telemetry.ErrValidation), errors.Is(err, telemetry.ErrNodeNotPending):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, telemetry.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, telemetry.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
