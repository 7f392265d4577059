package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/thisdougb/runlog/internal/config"
	"github.com/thisdougb/runlog/internal/core"
	"github.com/thisdougb/runlog/internal/storage"
	"go.uber.org/zap"
)

// RunInterface defines what the handlers need from a run
type RunInterface interface {
	Dump() string
	IsClosed() bool
}

// TimeSeriesParams holds parsed query parameters
type TimeSeriesParams struct {
	Window    time.Duration
	Lookback  *time.Duration
	Lookahead *time.Duration
	Date      *time.Time
	Time      *time.Time
}

// RequestParams represents the original query parameters from the request
type RequestParams struct {
	Run       string `json:"run,omitempty"`
	Window    string `json:"window,omitempty"`
	Lookback  string `json:"lookback,omitempty"`
	Lookahead string `json:"lookahead,omitempty"`
	Date      string `json:"date,omitempty"`
	Time      string `json:"time,omitempty"`
}

// WindowStats aggregates the numeric points of one time window
type WindowStats struct {
	Start time.Time `json:"start"`
	Min   float64   `json:"min"`
	Max   float64   `json:"max"`
	Avg   float64   `json:"avg"`
	Count int       `json:"count"`
}

// SeriesResponse carries one key's points, raw or aggregated by window
type SeriesResponse struct {
	Key           string          `json:"key"`
	StartTime     *time.Time      `json:"start_time,omitempty"`
	EndTime       *time.Time      `json:"end_time,omitempty"`
	RequestParams RequestParams   `json:"request_params"`
	Points        []storage.Point `json:"points,omitempty"`
	Windows       []WindowStats   `json:"windows,omitempty"`
}

// HealthHandler serves the run dump as JSON
func HealthHandler(run RunInterface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "%s\n", run.Dump())
	}
}

// StatusHandler returns UP while the run is open and DOWN with 503 after
// it was closed
func StatusHandler(run RunInterface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if run.IsClosed() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "DOWN\n")
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "UP\n")
	}
}

// SeriesHandler serves stored points of the key in the {key...} path
// wildcard. Query parameters: run, window, lookback or lookahead, date and
// time. Without lookback or lookahead the whole series is returned; with a
// window the numeric points are aggregated per window.
func SeriesHandler(manager *storage.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")
		if key == "" {
			http.Error(w, "metric key is required", http.StatusBadRequest)
			return
		}

		params, err := parseTimeSeriesParams(r)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid parameters: %v", err), http.StatusBadRequest)
			return
		}
		if params.Lookback != nil && params.Lookahead != nil {
			http.Error(w, "lookback and lookahead are mutually exclusive", http.StatusBadRequest)
			return
		}

		if manager == nil || !manager.IsEnabled() {
			http.Error(w, "series queries require persistence to be enabled", http.StatusServiceUnavailable)
			return
		}

		query := r.URL.Query()
		response := SeriesResponse{
			Key: key,
			RequestParams: RequestParams{
				Run:       query.Get("run"),
				Window:    query.Get("window"),
				Lookback:  query.Get("lookback"),
				Lookahead: query.Get("lookahead"),
				Date:      query.Get("date"),
				Time:      query.Get("time"),
			},
		}

		var startTime, endTime time.Time
		if params.Lookback != nil || params.Lookahead != nil {
			referenceTime := calculateReferenceTime(params)
			if params.Lookback != nil {
				startTime = referenceTime.Add(-*params.Lookback)
				endTime = referenceTime
			} else {
				startTime = referenceTime
				endTime = referenceTime.Add(*params.Lookahead)
			}
			response.StartTime = &startTime
			response.EndTime = &endTime
		}

		points, err := manager.ReadSeries(query.Get("run"), key, startTime, endTime)
		if err != nil {
			config.LogError(r.Context(), "series read failed", zap.String("key", key), zap.Error(err))
			http.Error(w, fmt.Sprintf("Failed to read series: %v", err), http.StatusInternalServerError)
			return
		}

		if params.Window > 0 {
			response.Windows = AggregateByWindow(points, params.Window)
		} else {
			response.Points = points
		}

		writeJSON(w, response)
	}
}

// KeysHandler lists the stored keys of the run named by the run query
// parameter, or of every run.
func KeysHandler(manager *storage.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if manager == nil || !manager.IsEnabled() {
			http.Error(w, "key listing requires persistence to be enabled", http.StatusServiceUnavailable)
			return
		}

		keys, err := manager.ListKeys(r.URL.Query().Get("run"))
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to list keys: %v", err), http.StatusInternalServerError)
			return
		}
		if keys == nil {
			keys = []string{}
		}
		writeJSON(w, keys)
	}
}

// SummaryHandler serves the per-key summary of the {run} path value.
func SummaryHandler(manager *storage.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := GetRunSummary(manager, r.PathValue("run"))
		if errors.Is(err, storage.ErrPersistenceDisabled) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to summarise run: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, summary)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

// parseTimeSeriesParams parses query parameters for time series requests
func parseTimeSeriesParams(r *http.Request) (*TimeSeriesParams, error) {
	params := &TimeSeriesParams{}

	// Parse window parameter (optional)
	windowStr := r.URL.Query().Get("window")
	if windowStr != "" {
		window, err := time.ParseDuration(windowStr)
		if err != nil {
			return nil, fmt.Errorf("invalid window duration: %v", err)
		}
		if window <= 0 {
			return nil, fmt.Errorf("window must be positive")
		}
		params.Window = window
	}

	// Parse lookback parameter (optional)
	lookbackStr := r.URL.Query().Get("lookback")
	if lookbackStr != "" {
		lookback, err := time.ParseDuration(lookbackStr)
		if err != nil {
			return nil, fmt.Errorf("invalid lookback duration: %v", err)
		}
		params.Lookback = &lookback
	}

	// Parse lookahead parameter (optional)
	lookaheadStr := r.URL.Query().Get("lookahead")
	if lookaheadStr != "" {
		lookahead, err := time.ParseDuration(lookaheadStr)
		if err != nil {
			return nil, fmt.Errorf("invalid lookahead duration: %v", err)
		}
		params.Lookahead = &lookahead
	}

	// Parse date parameter (optional, defaults to today)
	dateStr := r.URL.Query().Get("date")
	if dateStr != "" {
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			return nil, fmt.Errorf("invalid date format, use YYYY-MM-DD: %v", err)
		}
		params.Date = &date
	}

	// Parse time parameter (optional, defaults to current time)
	timeStr := r.URL.Query().Get("time")
	if timeStr != "" {
		timeParts := strings.Split(timeStr, ":")
		if len(timeParts) < 2 || len(timeParts) > 3 {
			return nil, fmt.Errorf("invalid time format, use HH:MM:SS or HH:MM")
		}

		hour, err := strconv.Atoi(timeParts[0])
		if err != nil || hour < 0 || hour > 23 {
			return nil, fmt.Errorf("invalid hour: %s", timeParts[0])
		}

		minute, err := strconv.Atoi(timeParts[1])
		if err != nil || minute < 0 || minute > 59 {
			return nil, fmt.Errorf("invalid minute: %s", timeParts[1])
		}

		second := 0
		if len(timeParts) == 3 {
			second, err = strconv.Atoi(timeParts[2])
			if err != nil || second < 0 || second > 59 {
				return nil, fmt.Errorf("invalid second: %s", timeParts[2])
			}
		}

		// fixed date, combined with the date parameter later
		parsedTime := time.Date(2000, 1, 1, hour, minute, second, 0, time.UTC)
		params.Time = &parsedTime
	}

	return params, nil
}

// calculateReferenceTime combines date and time parameters to create reference time
func calculateReferenceTime(params *TimeSeriesParams) time.Time {
	now := time.Now().UTC()

	referenceDate := now
	if params.Date != nil {
		referenceDate = *params.Date
	}

	referenceTime := now
	if params.Time != nil {
		referenceTime = *params.Time
	}

	return time.Date(
		referenceDate.Year(), referenceDate.Month(), referenceDate.Day(),
		referenceTime.Hour(), referenceTime.Minute(), referenceTime.Second(),
		0, time.UTC,
	)
}

// AggregateByWindow groups numeric points into windows aligned on the
// window duration, oldest first. Labels are skipped.
func AggregateByWindow(points []storage.Point, window time.Duration) []WindowStats {
	var order []int64
	groups := make(map[int64][]float64)

	for _, p := range points {
		if p.IsText {
			continue
		}
		start := p.Timestamp.Truncate(window).Unix()
		if _, ok := groups[start]; !ok {
			order = append(order, start)
		}
		groups[start] = append(groups[start], p.Value)
	}

	slices.Sort(order)

	stats := make([]WindowStats, 0, len(order))
	for _, start := range order {
		min, max, avg, count := core.CalculateStats(groups[start])
		stats = append(stats, WindowStats{
			Start: time.Unix(start, 0).UTC(),
			Min:   min,
			Max:   max,
			Avg:   avg,
			Count: count,
		})
	}
	return stats
}
