// kpistream - real-time e-commerce KPI pipeline
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kpistream/pipeline/internal/store"
)

// QueryStore is the subset of the store the read-side query API depends on.
type QueryStore interface {
	LatestPoint(ctx context.Context, bucket string) (store.KPIPoint, bool, error)
	SeriesRange(ctx context.Context, bucket string, from, to time.Time, limit int) ([]store.KPIPoint, error)
	AlertsRange(ctx context.Context, from, to time.Time, limit int) ([]store.AlertRow, error)
}

// MountQueryRoutes adds the read-side KPI and alert query endpoints to r.
// This is the "read-side API" referenced by the error handling design's SLO
// statement; it never writes to the store.
func MountQueryRoutes(r chi.Router, db QueryStore) {
	r.Get("/kpi/latest", latestHandler(db))
	r.Get("/kpi/minute", seriesHandler(db, "minute", 2*time.Hour, 2000))
	r.Get("/kpi/hour", seriesHandler(db, "hour", 72*time.Hour, 2000))
	r.Get("/alerts", alertsHandler(db))
}

func latestHandler(db QueryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bucket := r.URL.Query().Get("bucket")
		if bucket == "" {
			bucket = "minute"
		}
		point, ok, err := db.LatestPoint(r.Context(), bucket)
		if err != nil {
			writeQueryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"bucket": bucket,
			"point":  queryPointOrNil(point, ok),
		})
	}
}

func seriesHandler(db QueryStore, bucket string, defaultWindow time.Duration, defaultLimit int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UTC()
		to := parseTimeParam(r, "to", now)
		from := parseTimeParam(r, "from", to.Add(-defaultWindow))
		limit := parseIntParam(r, "limit", defaultLimit, 1, 5000)

		if from.After(to) {
			http.Error(w, "from must be <= to", http.StatusBadRequest)
			return
		}

		points, err := db.SeriesRange(r.Context(), bucket, from, to, limit)
		if err != nil {
			writeQueryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"bucket": bucket,
			"from":   from,
			"to":     to,
			"points": points,
		})
	}
}

func alertsHandler(db QueryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UTC()
		to := parseTimeParam(r, "to", now)
		from := parseTimeParam(r, "from", to.Add(-24*time.Hour))
		limit := parseIntParam(r, "limit", 500, 1, 2000)

		if from.After(to) {
			http.Error(w, "from must be <= to", http.StatusBadRequest)
			return
		}

		items, err := db.AlertsRange(r.Context(), from, to, limit)
		if err != nil {
			writeQueryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"from":  from,
			"to":    to,
			"items": items,
		})
	}
}

func queryPointOrNil(p store.KPIPoint, ok bool) interface{} {
	if !ok {
		return nil
	}
	return p
}

func parseTimeParam(r *http.Request, name string, fallback time.Time) time.Time {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fallback
	}
	return t.UTC()
}

func parseIntParam(r *http.Request, name string, fallback, min, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeQueryError(w http.ResponseWriter, err error) {
	var unknownKPI *store.UnknownKPIError
	if errors.As(err, &unknownKPI) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
