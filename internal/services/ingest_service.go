// Package services – IngestService
//
// This file implements IngestService, which resolves one ingested retailer
// offer against the canonical catalog. The raw record is kept as an
// IngestionEntity keyed by (source, external id) and fingerprinted, so
// replaying an unchanged payload is a no-op. The matcher proposes a
// canonical offer; this service performs the writes and then recomputes the
// owning product's summary and visibility in the same transaction.
//
// Manual overrides win over the matcher: an entity pinned to an offer keeps
// that offer, and an entity manually unmapped is not re-matched.
package services

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-catalog-ingest/internal/catalog"
	"github.com/tbourn/go-catalog-ingest/internal/domain"
	"github.com/tbourn/go-catalog-ingest/internal/hashing"
	"github.com/tbourn/go-catalog-ingest/internal/jobs"
	"github.com/tbourn/go-catalog-ingest/internal/matching"
	"github.com/tbourn/go-catalog-ingest/internal/observability"
	"github.com/tbourn/go-catalog-ingest/internal/repo"
)

// IngestService resolves ingested offers.
type IngestService struct {
	DB  *gorm.DB
	Now func() time.Time
}

// NewIngestService constructs an IngestService.
func NewIngestService(db *gorm.DB) *IngestService {
	return &IngestService{DB: db, Now: time.Now}
}

func (s *IngestService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// ResolveResult describes what ResolveOffer did.
type ResolveResult struct {
	EntityID   string          `json:"entityId"`
	OfferID    string          `json:"offerId,omitempty"`
	Method     matching.Method `json:"method,omitempty"`
	Confidence float64         `json:"confidence"`
	Created    bool            `json:"created"`
	Unchanged  bool            `json:"unchanged"`
	Skipped    bool            `json:"skipped"`
}

// ResolveOffer records the ingested payload and maps it to a canonical
// offer, creating one when the matcher finds none.
func (s *IngestService) ResolveOffer(ctx context.Context, p jobs.IngestOffer) (ResolveResult, error) {
	ctx, span := observability.Tracer("services/IngestService").Start(ctx, "ResolveOffer",
		trace.WithAttributes(
			attribute.String("ingest.source", p.Source),
			attribute.String("ingest.external_id", p.ExternalID),
			attribute.String("product.id", p.ProductID),
			attribute.String("retailer.id", p.RetailerID),
		),
	)
	defer span.End()

	if err := p.Validate(); err != nil {
		return ResolveResult{}, err
	}
	normalized, err := matching.NormalizeOfferURL(p.URL)
	if err != nil {
		return ResolveResult{}, &jobs.ValidationError{Kind: jobs.KindIngestOffer, Field: "url", Reason: err.Error()}
	}
	raw, err := hashing.StableJSONStringify(p)
	if err != nil {
		return ResolveResult{}, observability.RecordError(span, err)
	}
	hash := hashing.SHA256Hex(raw)

	var res ResolveResult
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entity, err := s.upsertEntity(ctx, tx, p, raw, hash)
		if err != nil {
			return err
		}
		res.EntityID = entity.ID

		if entity.ManualOverride && (entity.CanonicalID == nil || entity.CanonicalType == nil || *entity.CanonicalType != domain.CanonicalOffer) {
			res.Skipped = true
			return nil
		}
		if !entity.ManualOverride && entity.PayloadHash == hash && entity.CanonicalID != nil && offerUnchanged(ctx, tx, entity) {
			res.OfferID, res.Method, res.Confidence, res.Unchanged = *entity.CanonicalID, matching.Method(entity.MatchMethod), entity.MatchConfidence, true
			return nil
		}

		if _, err := repo.GetProduct(ctx, tx, p.ProductID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrProductNotFound
			}
			return err
		}

		existing, err := repo.ListOffersFor(ctx, tx, p.ProductID, p.RetailerID)
		if err != nil {
			return err
		}
		var existingID string
		if entity.CanonicalID != nil && entity.CanonicalType != nil && *entity.CanonicalType == domain.CanonicalOffer {
			existingID = *entity.CanonicalID
			if entity.ManualOverride {
				existing = withPinned(ctx, tx, existing, existingID)
			}
		}

		m := matching.MatchCanonicalOffer(existingID, p.ProductID, p.RetailerID, p.URL, toExisting(existing))
		res.Method, res.Confidence = m.Method, m.Confidence
		touched := []string{p.ProductID}

		if m.IsNew() {
			if err := repo.EnsureRetailer(ctx, tx, &domain.Retailer{ID: p.RetailerID, Name: p.RetailerID, Domain: hostOf(normalized, p.RetailerID)}); err != nil {
				return err
			}
			o := &domain.Offer{
				ID:            uuid.NewString(),
				ProductID:     p.ProductID,
				RetailerID:    p.RetailerID,
				URL:           p.URL,
				NormalizedURL: normalized,
				PriceCents:    p.PriceCents,
				InStock:       p.InStock,
				ContentHash:   hash,
				LastCheckedAt: ptrTime(s.now()),
			}
			if err := repo.CreateOffer(ctx, tx, o); err != nil {
				return err
			}
			res.OfferID, res.Created = o.ID, true
		} else {
			o, err := repo.GetOffer(ctx, tx, m.CanonicalID)
			if err != nil {
				return err
			}
			price := o.PriceCents
			if p.PriceCents != nil {
				price = p.PriceCents
			}
			obs := repo.OfferObservation{
				URL:           p.URL,
				NormalizedURL: normalized,
				PriceCents:    price,
				InStock:       catalog.MergeStock(o.InStock, p.InStock),
				LastStatus:    o.LastStatus,
				ContentHash:   hash,
				CheckedAt:     s.now(),
			}
			if entity.ManualOverride {
				// A pinned offer keeps its own identity.
				obs.URL, obs.NormalizedURL = "", ""
			}
			if err := repo.UpdateOfferObservation(ctx, tx, o.ID, obs); err != nil {
				return err
			}
			if o.ProductID != p.ProductID {
				touched = append(touched, o.ProductID)
			}
			res.OfferID = o.ID
		}

		typ, id := domain.CanonicalOffer, res.OfferID
		mapping := repo.Mapping{
			CanonicalType: &typ,
			CanonicalID:   &id,
			Method:        string(m.Method),
			Confidence:    m.Confidence,
		}
		if entity.ManualOverride {
			mapping.Method, mapping.Confidence, mapping.Manual = MethodManual, 1, true
		}
		if err := repo.SetIngestionMapping(ctx, tx, entity.ID, mapping); err != nil {
			return err
		}
		_, err = recomputeProducts(ctx, tx, touched)
		return err
	})
	if err != nil {
		return ResolveResult{}, observability.RecordError(span, err)
	}

	span.SetAttributes(
		attribute.String("offer.id", res.OfferID),
		attribute.String("match.method", string(res.Method)),
		attribute.Bool("offer.created", res.Created),
	)
	log.Ctx(ctx).Debug().
		Str("entity_id", res.EntityID).
		Str("offer_id", res.OfferID).
		Str("method", string(res.Method)).
		Bool("created", res.Created).
		Bool("unchanged", res.Unchanged).
		Msg("offer resolved")
	return res, nil
}

// upsertEntity returns the entity for (source, external id), creating it or
// storing the new payload when the hash changed.
func (s *IngestService) upsertEntity(ctx context.Context, tx *gorm.DB, p jobs.IngestOffer, raw, hash string) (*domain.IngestionEntity, error) {
	e, err := repo.FindIngestionEntity(ctx, tx, p.Source, p.ExternalID)
	if errors.Is(err, repo.ErrNotFound) {
		e = &domain.IngestionEntity{
			Source:      p.Source,
			ExternalID:  p.ExternalID,
			EntityType:  domain.CanonicalOffer,
			Payload:     datatypes.JSON(raw),
			PayloadHash: hash,
		}
		if err := repo.CreateIngestionEntity(ctx, tx, e); err != nil {
			return nil, err
		}
		return e, nil
	}
	if err != nil {
		return nil, err
	}
	if e.PayloadHash != hash {
		if err := repo.UpdateIngestionPayload(ctx, tx, e.ID, []byte(raw), hash); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// offerUnchanged reports whether the mapped offer still exists and already
// carries this payload's content hash.
func offerUnchanged(ctx context.Context, tx *gorm.DB, e *domain.IngestionEntity) bool {
	if e.CanonicalType == nil || *e.CanonicalType != domain.CanonicalOffer {
		return false
	}
	o, err := repo.GetOffer(ctx, tx, *e.CanonicalID)
	return err == nil && o.ContentHash == e.PayloadHash
}

func withPinned(ctx context.Context, tx *gorm.DB, offers []domain.Offer, id string) []domain.Offer {
	for _, o := range offers {
		if o.ID == id {
			return offers
		}
	}
	if o, err := repo.GetOffer(ctx, tx, id); err == nil {
		return append([]domain.Offer{*o}, offers...)
	}
	return offers
}

func toExisting(offers []domain.Offer) []matching.ExistingOffer {
	out := make([]matching.ExistingOffer, 0, len(offers))
	for _, o := range offers {
		out = append(out, matching.ExistingOffer{ID: o.ID, ProductID: o.ProductID, RetailerID: o.RetailerID, URL: o.URL})
	}
	return out
}

func hostOf(normalized, fallback string) string {
	if u, err := url.Parse(normalized); err == nil && u.Hostname() != "" {
		return strings.ToLower(u.Hostname())
	}
	return fallback
}

func ptrTime(t time.Time) *time.Time { return &t }
