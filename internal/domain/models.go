// Package domain defines the persistence models for the ingestion queue and
// the catalog: jobs, products, plants, retailers, canonical offers, raw
// ingestion entities with their canonical mapping, mapping overrides and
// audit runs. These types are mapped with GORM.
package domain

import (
	"time"

	"gorm.io/datatypes"

	"github.com/tbourn/go-catalog-ingest/internal/jobs"
)

// Job is a unit of ingestion work.
//
// Fields:
//   - ID: UUID primary key (varchar(64)).
//   - Kind: one of the registered job kinds.
//   - Payload: JSON payload matching Kind's shape.
//   - IdempotencyKey: optional; unique among queued/running jobs (partial
//     index created by AutoMigrate).
//   - Priority: lower value leases first.
//   - Status: queued|running|succeeded|failed.
//   - RunAfter: earliest lease time.
//   - LockedAt / LockedBy: set while running.
//   - Attempts: incremented on every lease.
//   - LastError: message from the last failure.
type Job struct {
	ID             string         `json:"id"              gorm:"type:varchar(64);primaryKey"`
	Kind           jobs.Kind      `json:"kind"            gorm:"type:varchar(64);not null;index"`
	Payload        datatypes.JSON `json:"payload"         gorm:"not null" swaggertype:"object"`
	IdempotencyKey *string        `json:"idempotency_key,omitempty" gorm:"type:varchar(255);index:idx_jobs_idem_key"`
	Priority       int            `json:"priority"        gorm:"not null;default:100;index:idx_jobs_lease,priority:2"`
	Status         jobs.Status    `json:"status"          gorm:"type:varchar(16);not null;index:idx_jobs_lease,priority:1;check:status IN ('queued','running','succeeded','failed')"`
	RunAfter       time.Time      `json:"run_after"       gorm:"not null;index:idx_jobs_lease,priority:3"`
	LockedAt       *time.Time     `json:"locked_at,omitempty"`
	LockedBy       *string        `json:"locked_by,omitempty" gorm:"type:varchar(128)"`
	Attempts       int            `json:"attempts"        gorm:"not null;default:0"`
	LastError      *string        `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TableName returns the database table name for Job.
func (Job) TableName() string { return "jobs" }

// Retailer is a merchant whose listings become offers.
type Retailer struct {
	ID        string    `json:"id"     gorm:"type:varchar(64);primaryKey"`
	Name      string    `json:"name"   gorm:"type:varchar(255);not null"`
	Domain    string    `json:"domain" gorm:"type:varchar(255);uniqueIndex"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Retailer.
func (Retailer) TableName() string { return "retailers" }

// Product is a catalog product. MinPriceCents and InStockCount cache the
// offer summary and are recomputed after offer writes and prunes.
type Product struct {
	ID            string            `json:"id"          gorm:"type:varchar(64);primaryKey"`
	Name          string            `json:"name"        gorm:"type:varchar(255);not null"`
	Specs         datatypes.JSONMap `json:"specs"       swaggertype:"object"`
	SourceURL     string            `json:"source_url"  gorm:"type:text"`
	Active        bool              `json:"active"      gorm:"not null;default:false;index"`
	MinPriceCents *int64            `json:"min_price_cents,omitempty"`
	InStockCount  int               `json:"in_stock_count" gorm:"not null;default:0"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// TableName returns the database table name for Product.
func (Product) TableName() string { return "products" }

// Plant is a catalog plant record.
type Plant struct {
	ID          string                      `json:"id"          gorm:"type:varchar(64);primaryKey"`
	CommonName  string                      `json:"common_name" gorm:"type:varchar(255);not null"`
	ImageURL    string                      `json:"image_url"   gorm:"type:text"`
	ImageURLs   datatypes.JSONSlice[string] `json:"image_urls"  swaggertype:"array,string"`
	Sources     datatypes.JSONSlice[string] `json:"sources"     swaggertype:"array,string"`
	Description string                      `json:"description" gorm:"type:text"`
	Active      bool                        `json:"active"      gorm:"not null;default:false;index"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

// TableName returns the database table name for Plant.
func (Plant) TableName() string { return "plants" }

// Offer is a canonical retailer offer for a product. Its logical identity
// is (ProductID, RetailerID, NormalizedURL); the raw URL is kept as last seen.
// InStock is tri-state: nil means unknown.
type Offer struct {
	ID            string     `json:"id"             gorm:"type:varchar(64);primaryKey"`
	ProductID     string     `json:"product_id"     gorm:"type:varchar(64);not null;uniqueIndex:ux_offers_identity,priority:1"`
	RetailerID    string     `json:"retailer_id"    gorm:"type:varchar(64);not null;uniqueIndex:ux_offers_identity,priority:2"`
	URL           string     `json:"url"            gorm:"type:text;not null"`
	NormalizedURL string     `json:"normalized_url" gorm:"type:varchar(2048);not null;uniqueIndex:ux_offers_identity,priority:3"`
	PriceCents    *int64     `json:"price_cents,omitempty"`
	InStock       *bool      `json:"in_stock,omitempty"`
	LastStatus    int        `json:"last_status"    gorm:"not null;default:0"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty" gorm:"index"`
	ContentHash   string     `json:"content_hash"   gorm:"type:varchar(64)"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	Product Product `json:"-" gorm:"foreignKey:ProductID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Offer.
func (Offer) TableName() string { return "offers" }

// Canonical record types an ingestion entity can map to.
const (
	CanonicalOffer   = "offer"
	CanonicalProduct = "product"
	CanonicalPlant   = "plant"
)

// IngestionEntity is a raw record as received from a source, plus an
// optional pointer to the canonical record it resolved to. (Source,
// ExternalID) is unique. PayloadHash fingerprints Payload for change
// detection.
type IngestionEntity struct {
	ID              string         `json:"id"               gorm:"type:varchar(64);primaryKey"`
	Source          string         `json:"source"           gorm:"type:varchar(64);not null;uniqueIndex:ux_ingestion_source_ext,priority:1"`
	ExternalID      string         `json:"external_id"      gorm:"type:varchar(255);not null;uniqueIndex:ux_ingestion_source_ext,priority:2"`
	EntityType      string         `json:"entity_type"      gorm:"type:varchar(32);not null"`
	Payload         datatypes.JSON `json:"payload"          swaggertype:"object"`
	PayloadHash     string         `json:"payload_hash"     gorm:"type:varchar(64);not null"`
	CanonicalType   *string        `json:"canonical_type,omitempty" gorm:"type:varchar(32)"`
	CanonicalID     *string        `json:"canonical_id,omitempty"   gorm:"type:varchar(64);index"`
	MatchMethod     string         `json:"match_method"     gorm:"type:varchar(64)"`
	MatchConfidence float64        `json:"match_confidence"`
	ManualOverride  bool           `json:"manual_override"  gorm:"not null;default:false"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// TableName returns the database table name for IngestionEntity.
func (IngestionEntity) TableName() string { return "ingestion_entities" }

// Mapping override actions.
const (
	ActionMap   = "map"
	ActionUnmap = "unmap"
)

// MappingOverride is an append-only audit entry for a manual map or unmap.
type MappingOverride struct {
	ID                string    `json:"id"                  gorm:"type:varchar(64);primaryKey"`
	IngestionEntityID string    `json:"ingestion_entity_id" gorm:"type:varchar(64);not null;index"`
	Action            string    `json:"action"              gorm:"type:varchar(8);not null;check:action IN ('map','unmap')"`
	CanonicalType     *string   `json:"canonical_type,omitempty" gorm:"type:varchar(32)"`
	CanonicalID       *string   `json:"canonical_id,omitempty"   gorm:"type:varchar(64)"`
	Actor             string    `json:"actor"               gorm:"type:varchar(128);not null"`
	Reason            string    `json:"reason"              gorm:"type:text;not null"`
	CreatedAt         time.Time `json:"created_at"`
}

// TableName returns the database table name for MappingOverride.
func (MappingOverride) TableName() string { return "mapping_overrides" }

// AuditRun records one execution of a catalog audit.
type AuditRun struct {
	ID             string    `json:"id"              gorm:"type:varchar(64);primaryKey"`
	Kind           string    `json:"kind"            gorm:"type:varchar(32);not null;index"`
	Checked        int       `json:"checked"`
	ViolationCount int       `json:"violation_count"`
	HasViolations  bool      `json:"has_violations"`
	ReportHash     string    `json:"report_hash"     gorm:"type:varchar(64)"`
	SnapshotKey    string    `json:"snapshot_key,omitempty" gorm:"type:varchar(255)"`
	CreatedAt      time.Time `json:"created_at"      gorm:"index"`
}

// TableName returns the database table name for AuditRun.
func (AuditRun) TableName() string { return "audit_runs" }
