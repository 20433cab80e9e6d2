package plots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LandHubTZ/LandHub-Backend/internal/geo"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Repository is the single source of truth for plot rows. Lock transitions
// go through conditional UPDATEs so concurrent service instances sharing the
// database cannot both acquire the same plot.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateBatch inserts one batch of validated features as plots inside a
// single transaction; either every plot in the batch becomes visible or none
// does. Returns the new plot ids in feature order.
func (r *Repository) CreateBatch(ctx context.Context, feats []geo.ValidatedFeature, locationID *uuid.UUID, uploadedBy string) ([]uuid.UUID, error) {
	if len(feats) == 0 {
		return nil, nil
	}

	batch := make([]Plot, len(feats))
	ids := make([]uuid.UUID, len(feats))
	for i, f := range feats {
		id := uuid.New()
		ids[i] = id
		p := Plot{
			ID:          id,
			Title:       f.Title,
			Description: f.Description,
			AreaSqm:     f.AreaSqm,
			Price:       f.Price,
			UsageType:   f.UsageType,
			Status:      StatusAvailable,
			LocationID:  locationID,
			Geom:        f.Geometry,
		}
		if f.PlotNumber != "" {
			n := f.PlotNumber
			p.PlotNumber = &n
		}
		if uploadedBy != "" {
			u := uploadedBy
			p.UploadedBy = &u
		}
		batch[i] = p
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&batch).Error; err != nil {
			return fmt.Errorf("insert plot batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Get fetches a plot by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Plot, error) {
	var p Plot
	err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plot %s: %w", id, err)
	}
	return &p, nil
}

// SearchFilters narrows plot listings. Zero values mean "no filter".
type SearchFilters struct {
	Search     string
	MinPrice   *decimal.Decimal
	MaxPrice   *decimal.Decimal
	MinArea    *float64
	MaxArea    *float64
	LocationID *uuid.UUID
	UsageType  string
	Status     Status
}

func (r *Repository) Search(ctx context.Context, f SearchFilters, limit, offset int) ([]Plot, error) {
	q := r.db.WithContext(ctx).Model(&Plot{})

	if f.Search != "" {
		term := "%" + f.Search + "%"
		q = q.Where("title ILIKE ? OR description ILIKE ? OR plot_number ILIKE ?", term, term, term)
	}
	if f.MinPrice != nil {
		q = q.Where("price >= ?", f.MinPrice)
	}
	if f.MaxPrice != nil {
		q = q.Where("price <= ?", f.MaxPrice)
	}
	if f.MinArea != nil {
		q = q.Where("area_sqm >= ?", *f.MinArea)
	}
	if f.MaxArea != nil {
		q = q.Where("area_sqm <= ?", *f.MaxArea)
	}
	if f.LocationID != nil {
		q = q.Where("location_id = ?", *f.LocationID)
	}
	if f.UsageType != "" {
		q = q.Where("usage_type = ?", f.UsageType)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	if limit <= 0 || limit > 200 {
		limit = 100
	}

	var out []Plot
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("search plots: %w", err)
	}
	return out, nil
}

// WithinArea returns available plots whose boundary lies entirely inside the
// given polygon. The area arrives as GeoJSON on the wire and goes to PostGIS
// as EWKT via the Valuer.
func (r *Repository) WithinArea(ctx context.Context, area geo.Polygon, limit int) ([]Plot, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}

	var out []Plot
	err := r.db.WithContext(ctx).Raw(`
		SELECT * FROM marketplace.plots
		WHERE status = 'available'
		  AND ST_Within(geom, ST_GeomFromEWKT(?))
		ORDER BY created_at DESC
		LIMIT ?
	`, area, limit).Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("plots within area: %w", err)
	}
	return out, nil
}

// NearPoint returns available plots within radiusMeters of a point, nearest
// first. The geography cast makes the radius real meters rather than degrees.
func (r *Repository) NearPoint(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]Plot, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var out []Plot
	err := r.db.WithContext(ctx).Raw(`
		SELECT * FROM marketplace.plots
		WHERE status = 'available'
		  AND ST_DWithin(geom::geography, ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography, ?)
		ORDER BY ST_Distance(geom::geography, ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography)
		LIMIT ?
	`, lng, lat, radiusMeters, lng, lat, limit).Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("plots near point: %w", err)
	}
	return out, nil
}

// PriceRange is the min/max price spread in a stats summary.
type PriceRange struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

// PlotStats summarizes the inventory, optionally scoped to one location.
type PlotStats struct {
	TotalPlots     int64           `json:"total_plots"`
	AvailablePlots int64           `json:"available_plots"`
	SoldPlots      int64           `json:"sold_plots"`
	TotalAreaSqm   float64         `json:"total_area_sqm"`
	AveragePrice   decimal.Decimal `json:"average_price"`
	PriceRange     PriceRange      `json:"price_range"`
}

func (r *Repository) Stats(ctx context.Context, locationID *uuid.UUID) (*PlotStats, error) {
	query := `
		SELECT count(*),
		       count(*) FILTER (WHERE status = 'available'),
		       count(*) FILTER (WHERE status = 'sold'),
		       coalesce(sum(area_sqm), 0),
		       coalesce(avg(price), 0),
		       coalesce(min(price), 0),
		       coalesce(max(price), 0)
		FROM marketplace.plots`
	var args []interface{}
	if locationID != nil {
		query += ` WHERE location_id = ?`
		args = append(args, *locationID)
	}

	var s PlotStats
	row := r.db.WithContext(ctx).Raw(query, args...).Row()
	if err := row.Scan(&s.TotalPlots, &s.AvailablePlots, &s.SoldPlots,
		&s.TotalAreaSqm, &s.AveragePrice, &s.PriceRange.Min, &s.PriceRange.Max); err != nil {
		return nil, fmt.Errorf("plot stats: %w", err)
	}
	return &s, nil
}

// AcquireLock attempts the reservation compare-and-set in one conditional
// UPDATE: the plot must be available, or locked with an expired hold. At
// most one concurrent caller can match the row.
func (r *Repository) AcquireLock(ctx context.Context, id uuid.UUID, userID string, until time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE marketplace.plots
		SET status = 'locked', locked_by = ?, locked_until = ?
		WHERE id = ?
		  AND (status = 'available' OR (status = 'locked' AND locked_until <= now()))
	`, userID, until, id)
	if res.Error != nil {
		return false, fmt.Errorf("acquire lock on plot %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReleaseLock releases a hold if and only if userID currently owns it.
func (r *Repository) ReleaseLock(ctx context.Context, id uuid.UUID, userID string) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE marketplace.plots
		SET status = 'available', locked_by = NULL, locked_until = NULL
		WHERE id = ? AND status = 'locked' AND locked_by = ?
	`, id, userID)
	if res.Error != nil {
		return false, fmt.Errorf("release lock on plot %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReleaseExpired returns every plot whose hold has lapsed to available.
// Idempotent: a second run with no intervening locks releases nothing.
func (r *Repository) ReleaseExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE marketplace.plots
		SET status = 'available', locked_by = NULL, locked_until = NULL
		WHERE status = 'locked' AND locked_until <= now()
	`)
	if res.Error != nil {
		return 0, fmt.Errorf("release expired locks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// SetStatus is the administrative/order-driven transition (e.g. to sold).
// Deliberately unconditional: an admin override may displace a live hold.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE marketplace.plots
		SET status = ?, locked_by = NULL, locked_until = NULL
		WHERE id = ?
	`, status, id)
	if res.Error != nil {
		return fmt.Errorf("set plot %s status: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrPlotNotFound
	}
	return nil
}
