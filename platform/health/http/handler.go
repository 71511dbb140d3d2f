package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Check - одна проверка готовности (postgres, redis, ...)
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler возвращает HTTP handler для health check endpoint.
// Все проверки выполняются параллельно с общим timeout.
// 200 OK {"status":"ok"} если проверок нет или все прошли,
// 503 Service Unavailable {"status":"not ready","checks":{...}} если хотя бы одна упала.
func Handler(timeout time.Duration, checks ...Check) http.HandlerFunc {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		resp := response{Status: "ok"}
		status := http.StatusOK

		if len(checks) > 0 {
			resp.Checks = make(map[string]string, len(checks))

			var mu sync.Mutex
			var wg sync.WaitGroup
			for _, c := range checks {
				wg.Add(1)
				go func(c Check) {
					defer wg.Done()
					result := "ok"
					if err := c.Probe(ctx); err != nil {
						result = err.Error()
					}
					mu.Lock()
					resp.Checks[c.Name] = result
					mu.Unlock()
				}(c)
			}
			wg.Wait()

			for _, result := range resp.Checks {
				if result != "ok" {
					resp.Status = "not ready"
					status = http.StatusServiceUnavailable
					break
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	}
}
