package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/thisdougb/runlog/internal/config"
	"github.com/thisdougb/runlog/internal/handlers"
	"github.com/thisdougb/runlog/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

var startTime = time.Now()

// NewMux serves the stored series routes, /healthz and the Prometheus
// metrics gathered from g.
func NewMux(manager *storage.Manager, g prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime).Round(time.Second))
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /series/{key...}", handlers.SeriesHandler(manager))
	mux.HandleFunc("GET /keys", handlers.KeysHandler(manager))
	mux.HandleFunc("GET /runs/{run}/summary", handlers.SummaryHandler(manager))

	return mux
}

// withCorrelationID gives every request a correlation id for log lines,
// extended with the caller's X-Correlation-Id when present.
func withCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := config.SetContextCorrelationId(r.Context(), "http")
		if id := r.Header.Get("X-Correlation-Id"); id != "" {
			ctx = config.AppendToContextCorrelationId(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// NewServeCmd serves stored runs over HTTP until interrupted.
func NewServeCmd(managerFn ManagerFunc, g prometheus.Gatherer) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored runs over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			manager, err := managerFn()
			if err != nil {
				return err
			}
			defer manager.Close()

			server := &http.Server{
				Addr:              addr,
				Handler:           otelhttp.NewHandler(withCorrelationID(NewMux(manager, g)), "runlog"),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				config.LogInfo(ctx, "listening", zap.String("addr", addr))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			config.LogInfo(ctx, "shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8091", "Listen address")

	return cmd
}
