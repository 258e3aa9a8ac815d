package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	logsPathPrefix = "/api/logs/"
	dateLayout     = "2006-01-02"
	allFilterValue = "todos"
)

// Lister queries the event log.
type Lister interface {
	List(ctx context.Context, filter Filter) ([]Event, error)
}

// LogsHandler serves GET /api/logs/{category}.
type LogsHandler struct {
	lister Lister
}

// NewLogsHandler constructs a logs handler.
func NewLogsHandler(lister Lister) (*LogsHandler, error) {
	if lister == nil {
		return nil, errors.New("audit logs handler: nil lister")
	}
	return &LogsHandler{lister: lister}, nil
}

// ServeHTTP handles GET /api/logs/{accesos|auditoria|alarmas|conexiones}.
func (h *LogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	category, ok := ParseCategory(strings.TrimPrefix(r.URL.Path, logsPathPrefix))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	filter, err := parseFilter(r, category)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	events, err := h.lister.List(r.Context(), filter)
	if err != nil {
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []Event{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(events)
}

func parseFilter(r *http.Request, category Category) (Filter, error) {
	q := r.URL.Query()
	filter := Filter{Category: category, Limit: DefaultListLimit}

	if value := q.Get("desde"); value != "" {
		from, _, err := parseDay(value)
		if err != nil {
			return Filter{}, errors.New("desde must be YYYY-MM-DD or RFC3339")
		}
		filter.From = &from
	}
	if value := q.Get("hasta"); value != "" {
		to, dateOnly, err := parseDay(value)
		if err != nil {
			return Filter{}, errors.New("hasta must be YYYY-MM-DD or RFC3339")
		}
		// A bare date includes the whole day.
		if dateOnly {
			to = to.AddDate(0, 0, 1)
		}
		filter.To = &to
	}
	if filter.From != nil && filter.To != nil && !filter.To.After(*filter.From) {
		return Filter{}, errors.New("hasta must be after desde")
	}
	if value := q.Get("username"); value != "" && value != allFilterValue {
		filter.Username = value
	}
	if value := q.Get("sensor_id"); value != "" && value != allFilterValue {
		filter.SensorID = value
	}
	return filter, nil
}

func parseDay(value string) (time.Time, bool, error) {
	if parsed, err := time.Parse(dateLayout, value); err == nil {
		return parsed.UTC(), true, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false, err
	}
	return parsed.UTC(), false, nil
}

// ClientIP extracts client ip from common headers or RemoteAddr.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
