// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for raw ingestion
// entities, their canonical mapping, the append-only mapping override log and
// audit run history.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-catalog-ingest/internal/domain"
)

// GetIngestionEntity fetches an entity by id, or ErrNotFound.
func GetIngestionEntity(ctx context.Context, db *gorm.DB, id string) (*domain.IngestionEntity, error) {
	var e domain.IngestionEntity
	if err := db.WithContext(ctx).Where("id = ?", id).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// FindIngestionEntity fetches the entity a source knows by externalID, or
// ErrNotFound.
func FindIngestionEntity(ctx context.Context, db *gorm.DB, source, externalID string) (*domain.IngestionEntity, error) {
	var e domain.IngestionEntity
	err := db.WithContext(ctx).
		Where("source = ? AND external_id = ?", source, externalID).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateIngestionEntity inserts e. A duplicate (source, external id) is
// reported by IsUniqueViolation.
func CreateIngestionEntity(ctx context.Context, db *gorm.DB, e *domain.IngestionEntity) error {
	now := time.Now().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = now
	e.UpdatedAt = now
	return db.WithContext(ctx).Create(e).Error
}

// UpdateIngestionPayload stores a new raw payload and its hash.
func UpdateIngestionPayload(ctx context.Context, db *gorm.DB, id string, payload []byte, hash string) error {
	res := db.WithContext(ctx).
		Model(&domain.IngestionEntity{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"payload":      datatypes.JSON(payload),
			"payload_hash": hash,
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Mapping is the canonical pointer of an ingestion entity. Nil type and id
// mean unmapped.
type Mapping struct {
	CanonicalType *string
	CanonicalID   *string
	Method        string
	Confidence    float64
	Manual        bool
}

// SetIngestionMapping overwrites the canonical mapping of an entity.
func SetIngestionMapping(ctx context.Context, db *gorm.DB, id string, m Mapping) error {
	res := db.WithContext(ctx).
		Model(&domain.IngestionEntity{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"canonical_type":   m.CanonicalType,
			"canonical_id":     m.CanonicalID,
			"match_method":     m.Method,
			"match_confidence": m.Confidence,
			"manual_override":  m.Manual,
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateMappingOverride appends one override log entry.
func CreateMappingOverride(ctx context.Context, db *gorm.DB, o *domain.MappingOverride) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.CreatedAt = time.Now().UTC()
	return db.WithContext(ctx).Create(o).Error
}

// ListMappingOverrides returns the override history of an entity, oldest first.
func ListMappingOverrides(ctx context.Context, db *gorm.DB, entityID string) ([]domain.MappingOverride, error) {
	var out []domain.MappingOverride
	err := db.WithContext(ctx).
		Where("ingestion_entity_id = ?", entityID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// CreateAuditRun records one audit execution.
func CreateAuditRun(ctx context.Context, db *gorm.DB, r *domain.AuditRun) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(r).Error
}

// LatestAuditRun returns the most recent run of kind, or ErrNotFound.
func LatestAuditRun(ctx context.Context, db *gorm.DB, kind string) (*domain.AuditRun, error) {
	var r domain.AuditRun
	err := db.WithContext(ctx).
		Where("kind = ?", kind).
		Order("created_at DESC, id DESC").
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}
