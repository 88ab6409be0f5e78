package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/devblac/slot-scout/internal/metrics"
)

type Checker struct {
	DBPing  func(ctx context.Context) error
	Sources func(ctx context.Context) map[string]error
	// Metrics mounts /metrics on the same listener.
	Metrics bool
}

type report struct {
	Status  string            `json:"status"`
	DB      string            `json:"db,omitempty"`
	Sources map[string]string `json:"sources,omitempty"`
}

// Handler serves /healthz (and /metrics when enabled).
func Handler(checker Checker) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		rep := report{Status: "ok"}
		code := http.StatusOK

		if checker.DBPing != nil {
			rep.DB = "ok"
			if err := checker.DBPing(ctx); err != nil {
				rep.DB = "fail"
				code = http.StatusServiceUnavailable
			}
		}
		if checker.Sources != nil {
			results := checker.Sources(ctx)
			rep.Sources = make(map[string]string, len(results))
			for id, err := range results {
				rep.Sources[id] = "ok"
				if err != nil {
					rep.Sources[id] = "fail"
					code = http.StatusServiceUnavailable
				}
			}
		}
		if code != http.StatusOK {
			rep.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(rep)
	})
	if checker.Metrics {
		mux.Handle("/metrics", metrics.Handler())
	}
	return mux
}

// Serve starts the health listener in the background.
func Serve(addr string, checker Checker) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(checker),
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// Shutdown gracefully shuts down the health server.
func Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
