// Package services – MappingService
//
// This file implements manual mapping overrides for ingestion entities. Each
// map or unmap updates the entity's canonical pointer and appends a
// MappingOverride row in the same transaction, so the override log never
// disagrees with the current mapping.
package services

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-catalog-ingest/internal/domain"
	"github.com/tbourn/go-catalog-ingest/internal/observability"
	"github.com/tbourn/go-catalog-ingest/internal/repo"
)

// MethodManual is the match method recorded for operator mappings.
const MethodManual = "manual"

// MappingService applies operator overrides.
type MappingService struct {
	DB *gorm.DB
}

// NewMappingService constructs a MappingService.
func NewMappingService(db *gorm.DB) *MappingService {
	return &MappingService{DB: db}
}

func (s *MappingService) tracer() trace.Tracer {
	return observability.Tracer("services/MappingService")
}

// MapIngestionEntityToCanonical pins an entity to an existing canonical
// record. Later ingests of the entity keep this mapping.
func (s *MappingService) MapIngestionEntityToCanonical(ctx context.Context, entityID, canonicalType, canonicalID, actor, reason string) (*domain.IngestionEntity, error) {
	ctx, span := s.tracer().Start(ctx, "MapIngestionEntityToCanonical",
		trace.WithAttributes(
			attribute.String("entity.id", entityID),
			attribute.String("canonical.type", canonicalType),
			attribute.String("canonical.id", canonicalID),
		),
	)
	defer span.End()

	actor, reason, err := checkOverride(actor, reason)
	if err != nil {
		return nil, err
	}
	model, ok := canonicalModel(canonicalType)
	if !ok {
		return nil, ErrInvalidCanonicalType
	}
	canonicalID = strings.TrimSpace(canonicalID)
	if canonicalID == "" {
		return nil, ErrCanonicalNotFound
	}

	var out *domain.IngestionEntity
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureEntity(ctx, tx, entityID); err != nil {
			return err
		}
		var n int64
		if err := tx.Model(model).Where("id = ?", canonicalID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrCanonicalNotFound
		}
		if err := repo.SetIngestionMapping(ctx, tx, entityID, repo.Mapping{
			CanonicalType: &canonicalType,
			CanonicalID:   &canonicalID,
			Method:        MethodManual,
			Confidence:    1,
			Manual:        true,
		}); err != nil {
			return err
		}
		if err := repo.CreateMappingOverride(ctx, tx, &domain.MappingOverride{
			IngestionEntityID: entityID,
			Action:            domain.ActionMap,
			CanonicalType:     &canonicalType,
			CanonicalID:       &canonicalID,
			Actor:             actor,
			Reason:            reason,
		}); err != nil {
			return err
		}
		out, err = repo.GetIngestionEntity(ctx, tx, entityID)
		return err
	})
	if err != nil {
		return nil, observability.RecordError(span, err)
	}

	log.Ctx(ctx).Info().
		Str("entity_id", entityID).
		Str("canonical_type", canonicalType).
		Str("canonical_id", canonicalID).
		Str("actor", actor).
		Msg("ingestion entity mapped")
	return out, nil
}

// UnmapIngestionEntity clears an entity's mapping and keeps it unmapped:
// ingest skips it until an operator maps it again.
func (s *MappingService) UnmapIngestionEntity(ctx context.Context, entityID, actor, reason string) (*domain.IngestionEntity, error) {
	ctx, span := s.tracer().Start(ctx, "UnmapIngestionEntity",
		trace.WithAttributes(attribute.String("entity.id", entityID)),
	)
	defer span.End()

	actor, reason, err := checkOverride(actor, reason)
	if err != nil {
		return nil, err
	}

	var out *domain.IngestionEntity
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureEntity(ctx, tx, entityID); err != nil {
			return err
		}
		if err := repo.SetIngestionMapping(ctx, tx, entityID, repo.Mapping{
			Method: MethodManual,
			Manual: true,
		}); err != nil {
			return err
		}
		if err := repo.CreateMappingOverride(ctx, tx, &domain.MappingOverride{
			IngestionEntityID: entityID,
			Action:            domain.ActionUnmap,
			Actor:             actor,
			Reason:            reason,
		}); err != nil {
			return err
		}
		out, err = repo.GetIngestionEntity(ctx, tx, entityID)
		return err
	})
	if err != nil {
		return nil, observability.RecordError(span, err)
	}

	log.Ctx(ctx).Info().Str("entity_id", entityID).Str("actor", actor).Msg("ingestion entity unmapped")
	return out, nil
}

// History returns the override log of an entity, oldest first.
func (s *MappingService) History(ctx context.Context, entityID string) ([]domain.MappingOverride, error) {
	if err := ensureEntity(ctx, s.DB, entityID); err != nil {
		return nil, err
	}
	return repo.ListMappingOverrides(ctx, s.DB, entityID)
}

func checkOverride(actor, reason string) (string, string, error) {
	actor, reason = strings.TrimSpace(actor), strings.TrimSpace(reason)
	if actor == "" {
		return "", "", ErrActorRequired
	}
	if reason == "" {
		return "", "", ErrReasonRequired
	}
	return actor, reason, nil
}

func canonicalModel(t string) (any, bool) {
	switch t {
	case domain.CanonicalOffer:
		return &domain.Offer{}, true
	case domain.CanonicalProduct:
		return &domain.Product{}, true
	case domain.CanonicalPlant:
		return &domain.Plant{}, true
	}
	return nil, false
}

func ensureEntity(ctx context.Context, db *gorm.DB, id string) error {
	_, err := repo.GetIngestionEntity(ctx, db, id)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrEntityNotFound
	}
	return err
}
