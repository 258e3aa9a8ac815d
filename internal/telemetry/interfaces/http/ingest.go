package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"hisens-cloud/internal/logging"
	"hisens-cloud/internal/telemetry/application"
	telemetry "hisens-cloud/internal/telemetry/domain"
	"hisens-cloud/internal/telemetry/interfaces/wire"
)

const maxIngestBody = 64 << 10

// Ingester runs the ingestion pipeline for one reading.
type Ingester interface {
	Ingest(ctx context.Context, cmd application.IngestCommand) (application.IngestResult, error)
}

// IngestHandler handles POST /api/lectura. The API key is checked by middleware.
type IngestHandler struct {
	service Ingester
	logger  *zap.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(service Ingester, logger *zap.Logger) (*IngestHandler, error) {
	if service == nil {
		return nil, errors.New("telemetry ingest: nil service")
	}
	return &IngestHandler{service: service, logger: logging.OrNop(logger)}, nil
}

// ServeHTTP ingests one reading.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		h.logger.Warn("telemetry ingest: read body error", zap.Error(err))
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	payload, err := wire.Decode(body)
	if err != nil {
		h.logger.Debug("telemetry ingest: decode error", zap.Error(err))
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	cmd, err := payload.Command()
	if err != nil {
		h.logger.Debug("telemetry ingest: invalid payload", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if _, err := h.service.Ingest(r.Context(), cmd); err != nil {
		if errors.Is(err, telemetry.ErrValidation) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("telemetry ingest: persist error", zap.String("node_id", cmd.NodeID), zap.String("sensor_id", cmd.SensorID), zap.Error(err))
		http.Error(w, "insert error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}
