package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/kwv/vecalign/align"
)

const defaultDictionaryLimit = 100

// resultSummary is /api/result without the bulky mapping and pairs.
type resultSummary struct {
	Name          string  `json:"name"`
	Status        string  `json:"status"`
	Error         string  `json:"error,omitempty"`
	Iterations    int     `json:"iterations"`
	BestIteration int     `json:"bestIteration"`
	MatchedScore  float64 `json:"matchedScore"`
	MatchedCosine float64 `json:"matchedCosine"`
	Structural    float64 `json:"structural"`
	Dimension     int     `json:"dimension"`
	Pairs         int     `json:"pairs"`
	LastUpdated   int64   `json:"lastUpdated"`
}

func newHTTPServer(state *align.ResultState) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		status := struct {
			Status     string    `json:"status"`
			Timestamp  time.Time `json:"timestamp"`
			HasResults bool      `json:"hasResults"`
		}{
			Status:     "ok",
			Timestamp:  time.Now(),
			HasResults: state.HasResults(),
		}
		writeJSON(w, status)
	})

	mux.HandleFunc("/api/result", func(w http.ResponseWriter, r *http.Request) {
		name, rec, ok := lookupResult(w, r, state)
		if !ok {
			return
		}
		writeJSON(w, resultSummary{
			Name:          name,
			Status:        rec.Status,
			Error:         rec.Error,
			Iterations:    rec.Iterations,
			BestIteration: rec.BestIteration,
			MatchedScore:  rec.MatchedScore,
			MatchedCosine: rec.MatchedCosine,
			Structural:    rec.Structural,
			Dimension:     rec.Dimension,
			Pairs:         len(rec.Pairs),
			LastUpdated:   rec.LastUpdated,
		})
	})

	mux.HandleFunc("/api/dictionary", func(w http.ResponseWriter, r *http.Request) {
		_, rec, ok := lookupResult(w, r, state)
		if !ok {
			return
		}
		limit := defaultDictionaryLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
				return
			}
			limit = n
		}
		writeJSON(w, rec.TopPairs(limit))
	})

	mux.HandleFunc("/api/translate", func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "token is required", http.StatusBadRequest)
			return
		}
		_, rec, ok := lookupResult(w, r, state)
		if !ok {
			return
		}
		pair, found := rec.Translate(token)
		if !found {
			http.Error(w, "token not in dictionary", http.StatusNotFound)
			return
		}
		writeJSON(w, pair)
	})

	return mux
}

// lookupResult resolves ?name=, falling back to the only stored result. It
// writes the error response itself and returns ok=false on failure.
func lookupResult(w http.ResponseWriter, r *http.Request, state *align.ResultState) (string, *align.ResultRecord, bool) {
	if !state.HasResults() {
		http.Error(w, "No results available", http.StatusServiceUnavailable)
		return "", nil, false
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		n, rec, ok := state.Default()
		if !ok {
			http.Error(w, "name is required when several results are loaded", http.StatusBadRequest)
			return "", nil, false
		}
		return n, rec, true
	}
	rec, ok := state.Get(name)
	if !ok {
		http.Error(w, "unknown result name", http.StatusNotFound)
		return "", nil, false
	}
	return name, rec, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
