// Offline bulk ingestion: feeds a local .shp/.dbf(/.prj) trio through the
// same validation and batch-insert pipeline the upload endpoint uses.
package main

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/LandHubTZ/LandHub-Backend/internal/ingest"
	"github.com/LandHubTZ/LandHub-Backend/internal/plots"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load(".env.local")

	var (
		shpPath    = flag.String("shp", "", "path to the .shp geometry file (required)")
		dbfPath    = flag.String("dbf", "", "path to the .dbf attribute file (required)")
		prjPath    = flag.String("prj", "", "path to the .prj projection file (optional)")
		locationID = flag.String("location", "", "location UUID to assign to all plots (optional)")
		dsn        = flag.String("dsn", os.Getenv("DATABASE_URL"), "Postgres DSN (default: env DATABASE_URL)")
		batchSize  = flag.Int("batch", 25, "features per atomic batch")
	)
	flag.Parse()

	if *shpPath == "" || *dbfPath == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *dsn == "" {
		log.Fatal("--dsn not provided and DATABASE_URL not set")
	}

	bundle := ingest.UploadBundle{}
	var err error
	if bundle.SHP, err = os.ReadFile(*shpPath); err != nil {
		log.Fatal("read shp: ", err)
	}
	if bundle.DBF, err = os.ReadFile(*dbfPath); err != nil {
		log.Fatal("read dbf: ", err)
	}
	if *prjPath != "" {
		if bundle.PRJ, err = os.ReadFile(*prjPath); err != nil {
			log.Fatal("read prj: ", err)
		}
	}

	var locID *uuid.UUID
	if *locationID != "" {
		id, err := uuid.Parse(*locationID)
		if err != nil {
			log.Fatal("invalid --location uuid: ", err)
		}
		locID = &id
	}

	gdb, err := gorm.Open(postgres.Open(*dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("connect: ", err)
	}

	repo := plots.NewRepository(gdb)
	store := ingest.NewStore()
	runner := ingest.NewRunner(repo, store, *batchSize, 50)

	jobID, err := runner.Submit(bundle, locID, "shapefile-import-cli")
	if err != nil {
		log.Fatal("submit: ", err)
	}

	for {
		time.Sleep(500 * time.Millisecond)
		status, err := store.Get(jobID)
		if err != nil {
			log.Fatal("job vanished: ", err)
		}
		log.Printf("job %s: %s (%d/%d processed, %d skipped, %d plots created)",
			jobID, status.State, status.Processed, status.TotalFeatures,
			status.InvalidSkipped, len(status.CreatedPlotIDs))

		switch status.State {
		case ingest.StateSucceeded:
			return
		case ingest.StateFailed:
			for _, fe := range status.FeatureErrors {
				log.Printf("  feature %d: %s: %s", fe.FeatureIndex, fe.Reason, fe.Message)
			}
			log.Fatalf("job failed: %s: %s", status.Error.Reason, status.Error.Message)
		}
	}
}
