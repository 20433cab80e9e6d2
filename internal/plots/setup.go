package plots

import (
	"log"

	"github.com/LandHubTZ/LandHub-Backend/internal/db"
)

func Init() {
	if err := db.EnsureSchema(db.DB, "marketplace"); err != nil {
		log.Fatal("Failed to ensure schema marketplace: ", err)
	}

	if err := db.EnsurePostGIS(db.DB); err != nil {
		log.Fatal("Failed to ensure PostGIS extension: ", err)
	}

	if err := db.DB.AutoMigrate(&Plot{}); err != nil {
		log.Fatal("Failed to auto-migrate tables", err)
	}
}
