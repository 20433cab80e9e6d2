package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/LandHubTZ/LandHub-Backend/internal/config"
	"github.com/LandHubTZ/LandHub-Backend/internal/db"
	"github.com/LandHubTZ/LandHub-Backend/internal/ingest"
	"github.com/LandHubTZ/LandHub-Backend/internal/middleware"
	"github.com/LandHubTZ/LandHub-Backend/internal/plots"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
)

func RootHandler(w http.ResponseWriter, r *http.Request) {
	response := "Server is up!"
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, response)
}

func main() {
	_ = godotenv.Load(".env.local")

	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}

	db.Connect()
	plots.Init()

	repo := plots.NewRepository(db.DB)
	manager := plots.NewReservationManager(repo, cfg.LockTTL())
	store := ingest.NewStore()
	runner := ingest.NewRunner(repo, store, cfg.BatchSize, cfg.ErrorSampleSize)
	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute)

	ctx := context.Background()
	manager.StartSweeper(ctx, cfg.SweepInterval())
	go jobJanitor(store, cfg)

	plotHandler := plots.NewHandler(repo, manager)
	ingestHandler := ingest.NewHandler(runner, store, cfg.MaxUploadBytes)

	r := chi.NewRouter()
	r.Use(middleware.CORSMiddleware)
	r.Get("/", RootHandler)

	r.Mount("/plots", plots.SetupRoutes(plotHandler, limiter))
	r.Mount("/geo", ingest.SetupRoutes(ingestHandler))

	log.Printf("Server listening on port :%s...", cfg.Port)

	if err := http.ListenAndServe("0.0.0.0:"+cfg.Port, r); err != nil {
		log.Fatal(err)
	}
}

// jobJanitor evicts terminal jobs past the retention window and force-fails
// Processing jobs whose worker died without reporting.
func jobJanitor(store *ingest.Store, cfg config.Config) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		if n := store.FailStale(cfg.StaleJobTimeout()); n > 0 {
			log.Printf("[ingest] force-failed %d stale jobs", n)
		}
		if n := store.Prune(cfg.JobRetention()); n > 0 {
			log.Printf("[ingest] pruned %d finished jobs", n)
		}
	}
}
