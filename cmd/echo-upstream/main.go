package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// Upstream mínimo para validar o gateway à mão:
//
//	UPSTREAM_URL=http://localhost:8081 go run ./cmd/gateway
//	for i in $(seq 12); do curl -s -o /dev/null -w '%{http_code}\n' localhost:8080/; done
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Hello from rate limiter\n"))
		logger.Info("upstream hit", "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	logger.Info("echo upstream listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
