package plots

import (
	"time"

	"github.com/LandHubTZ/LandHub-Backend/internal/geo"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusAvailable      Status = "available"
	StatusLocked         Status = "locked"
	StatusPendingPayment Status = "pending_payment"
	StatusSold           Status = "sold"
)

// Plot is a parcel of land offered for sale. Lock fields (LockedBy,
// LockedUntil) are set iff Status is locked; a locked plot whose LockedUntil
// has passed is logically expired even before the sweeper releases it.
type Plot struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	PlotNumber  *string         `gorm:"uniqueIndex" json:"plot_number,omitempty"`
	Title       string          `gorm:"not null" json:"title"`
	Description string          `json:"description,omitempty"`
	AreaSqm     float64         `gorm:"not null" json:"area_sqm"`
	Price       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	ImageURLs   pq.StringArray  `gorm:"type:text[]" json:"image_urls,omitempty"`
	UsageType   string          `gorm:"default:Residential" json:"usage_type"`
	Status      Status          `gorm:"type:text;not null;default:available;index" json:"status"`
	LockedBy    *string         `json:"locked_by,omitempty"`
	LockedUntil *time.Time      `json:"locked_until,omitempty"`
	LocationID  *uuid.UUID      `gorm:"type:uuid;index" json:"location_id,omitempty"`
	Geom        geo.Polygon     `gorm:"type:geometry(Polygon,4326)" json:"geometry"`
	UploadedBy  *string         `json:"uploaded_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (Plot) TableName() string {
	return "marketplace.plots"
}
