package db

import "gorm.io/gorm"

func EnsureSchema(d *gorm.DB, schema string) error {
	return d.Exec(`CREATE SCHEMA IF NOT EXISTS "` + schema + `"`).Error
}

// EnsurePostGIS installs the PostGIS extension if missing. Plot geometries
// live in geometry(Polygon,4326) columns, so migrations need it first.
func EnsurePostGIS(d *gorm.DB) error {
	return d.Exec(`CREATE EXTENSION IF NOT EXISTS postgis`).Error
}
