package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadtrace/internal/ingest"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the CSV upload API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		ing := ingest.New(env.Store, env.Bus, cfg.Ingest.BatchSize)
		router := newRouter(ing, cfg.Server.MaxUploadMB<<20, cfg.Server.CORSOrigins)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		}

		// Graceful shutdown
		go waitShutdown(ctx, srv, 10*time.Second)

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// waitShutdown blocks until ctx is cancelled, then drains the server. The
// signal context is already cancelled at that point, so Shutdown gets a
// fresh timeout-bound context to let in-flight uploads finish.
func waitShutdown(ctx context.Context, srv *http.Server, drainTimeout time.Duration) {
	<-ctx.Done()
	zap.L().Info("shutting down server")
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		zap.L().Warn("server shutdown", zap.Error(err))
	}
}

// newRouter builds the HTTP API around an ingestor.
func newRouter(ing *ingest.Ingestor, maxUploadBytes int64, corsOrigins []string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/api/v1/upload-csv", uploadHandler(ing, maxUploadBytes))

	return r
}

// uploadHandler accepts a multipart form with a csvFile part and a userId
// field, ingests the rows, and reports how many leads entered the
// pipeline.
func uploadHandler(ing *ingest.Ingestor, maxUploadBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid multipart form data."})
			return
		}

		ownerID := r.FormValue("userId")
		if ownerID == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "User ID is required."})
			return
		}

		file, _, err := r.FormFile("csvFile")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "CSV file is required."})
			return
		}
		defer file.Close()

		result, err := ing.Ingest(r.Context(), ownerID, file)
		switch {
		case eris.Is(err, ingest.ErrNoValidLeads):
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "No valid leads found in CSV file after parsing."})
			return
		case eris.Is(err, ingest.ErrInvalidCSV):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Failed to parse CSV file."})
			return
		case err != nil:
			zap.L().Error("csv upload failed", zap.String("ownerId", ownerID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Server error: " + err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"message":    "CSV processed successfully. Skip-tracing will begin shortly.",
			"leadsCount": result.Created,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
