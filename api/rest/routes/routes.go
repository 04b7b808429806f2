package routes

import (
	"net/http"

	"kjandoc-demoware/api/rest/handlers"
	"kjandoc-demoware/api/rest/middleware"
	"kjandoc-demoware/core/executor"
	"kjandoc-demoware/core/monitoring"
	"kjandoc-demoware/storage"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Dependencies are the components the HTTP layer calls into
type Dependencies struct {
	Uploads     *storage.UploadStore
	Executor    *executor.MergeExecutor
	Metrics     *monitoring.MetricsExporter
	Logger      logrus.FieldLogger
	WebDir      string
	OutputDir   string
	CORSOrigins string
}

// SetupRoutes configures all routes
func SetupRoutes(r *mux.Router, deps Dependencies) {
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.CORS(deps.CORSOrigins))

	jobHandler := handlers.NewJobHandler(deps.Uploads, deps.Executor, deps.Metrics, deps.Logger)
	dashboardHandler := handlers.NewDashboardHandler(deps.Metrics)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/upload", jobHandler.Upload).Methods("POST", "PUT", "OPTIONS")
	api.HandleFunc("/merge", jobHandler.Merge).Methods("POST", "OPTIONS")
	api.HandleFunc("/status/{job_id}", jobHandler.Status).Methods("GET", "OPTIONS")

	r.HandleFunc("/health", dashboardHandler.Health).Methods("GET")
	r.HandleFunc("/metrics", dashboardHandler.GetMetrics).Methods("GET")

	// Finished decks and the web UI
	r.PathPrefix("/output/").Handler(
		http.StripPrefix("/output/", http.FileServer(http.Dir(deps.OutputDir))),
	).Methods("GET", "HEAD")
	r.PathPrefix("/").Handler(http.FileServer(http.Dir(deps.WebDir))).Methods("GET", "HEAD")
}
