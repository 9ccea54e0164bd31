// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the catalog:
// products, plants, retailers and canonical offers, including the cached
// offer summary and the bulk deletes behind a legacy prune.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-catalog-ingest/internal/catalog"
	"github.com/tbourn/go-catalog-ingest/internal/domain"
)

// idChunk bounds IN (...) lists; SQLite caps bound parameters per statement.
const idChunk = 500

func chunks(ids []string) [][]string {
	var out [][]string
	for len(ids) > 0 {
		n := min(idChunk, len(ids))
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}

// SaveProduct inserts or fully updates a product row.
func SaveProduct(ctx context.Context, db *gorm.DB, p *domain.Product) error {
	return db.WithContext(ctx).Save(p).Error
}

// GetProduct fetches a product by id, or ErrNotFound.
func GetProduct(ctx context.Context, db *gorm.DB, id string) (*domain.Product, error) {
	var p domain.Product
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProducts returns the products among ids that exist, ordered by id.
func GetProducts(ctx context.Context, db *gorm.DB, ids []string) ([]domain.Product, error) {
	var out []domain.Product
	for _, c := range chunks(ids) {
		var page []domain.Product
		if err := db.WithContext(ctx).Where("id IN ?", c).Order("id ASC").Find(&page).Error; err != nil {
			return nil, err
		}
		out = append(out, page...)
	}
	return out, nil
}

// EachProduct walks every product in id order, batch rows at a time.
func EachProduct(ctx context.Context, db *gorm.DB, batch int, fn func([]domain.Product) error) error {
	var page []domain.Product
	return db.WithContext(ctx).FindInBatches(&page, batch, func(_ *gorm.DB, _ int) error {
		return fn(page)
	}).Error
}

// UpdateProductSummary writes the cached offer summary and the activation flag.
func UpdateProductSummary(ctx context.Context, db *gorm.DB, id string, s catalog.OfferSummary, active bool) error {
	res := db.WithContext(ctx).
		Model(&domain.Product{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"min_price_cents": s.MinPriceCents,
			"in_stock_count":  s.InStockCount,
			"active":          active,
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SavePlant inserts or fully updates a plant row.
func SavePlant(ctx context.Context, db *gorm.DB, p *domain.Plant) error {
	return db.WithContext(ctx).Save(p).Error
}

// GetPlants returns the plants among ids that exist, ordered by id.
func GetPlants(ctx context.Context, db *gorm.DB, ids []string) ([]domain.Plant, error) {
	var out []domain.Plant
	for _, c := range chunks(ids) {
		var page []domain.Plant
		if err := db.WithContext(ctx).Where("id IN ?", c).Order("id ASC").Find(&page).Error; err != nil {
			return nil, err
		}
		out = append(out, page...)
	}
	return out, nil
}

// EachPlant walks every plant in id order, batch rows at a time.
func EachPlant(ctx context.Context, db *gorm.DB, batch int, fn func([]domain.Plant) error) error {
	var page []domain.Plant
	return db.WithContext(ctx).FindInBatches(&page, batch, func(_ *gorm.DB, _ int) error {
		return fn(page)
	}).Error
}

// SetPlantActive updates a plant's activation flag.
func SetPlantActive(ctx context.Context, db *gorm.DB, id string, active bool) error {
	res := db.WithContext(ctx).
		Model(&domain.Plant{}).
		Where("id = ?", id).
		Updates(map[string]any{"active": active, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureRetailer inserts the retailer unless a row with the same id or
// domain already exists.
func EnsureRetailer(ctx context.Context, db *gorm.DB, r *domain.Retailer) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	return db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(r).Error
}

// CreateOffer inserts a canonical offer.
func CreateOffer(ctx context.Context, db *gorm.DB, o *domain.Offer) error {
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	return db.WithContext(ctx).Create(o).Error
}

// GetOffer fetches an offer by id, or ErrNotFound.
func GetOffer(ctx context.Context, db *gorm.DB, id string) (*domain.Offer, error) {
	var o domain.Offer
	if err := db.WithContext(ctx).Where("id = ?", id).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOffersFor returns the offers of one product at one retailer in
// creation order, which is the order the matcher scans them.
func ListOffersFor(ctx context.Context, db *gorm.DB, productID, retailerID string) ([]domain.Offer, error) {
	var out []domain.Offer
	err := db.WithContext(ctx).
		Where("product_id = ? AND retailer_id = ?", productID, retailerID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// OfferObservation is the mutable part of an offer written after an ingest
// or a refresh. Nil pointers are stored as NULL.
type OfferObservation struct {
	URL           string
	NormalizedURL string
	PriceCents    *int64
	InStock       *bool
	LastStatus    int
	ContentHash   string
	CheckedAt     time.Time
}

// UpdateOfferObservation overwrites an offer's observed state. Empty URL and
// ContentHash fields leave the stored values unchanged.
func UpdateOfferObservation(ctx context.Context, db *gorm.DB, id string, obs OfferObservation) error {
	fields := map[string]any{
		"price_cents":     obs.PriceCents,
		"in_stock":        obs.InStock,
		"last_status":     obs.LastStatus,
		"last_checked_at": obs.CheckedAt.UTC(),
		"updated_at":      time.Now().UTC(),
	}
	if obs.URL != "" {
		fields["url"] = obs.URL
	}
	if obs.NormalizedURL != "" {
		fields["normalized_url"] = obs.NormalizedURL
	}
	if obs.ContentHash != "" {
		fields["content_hash"] = obs.ContentHash
	}
	res := db.WithContext(ctx).Model(&domain.Offer{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// OfferStatesByProduct loads the policy view of every offer belonging to
// productIDs, grouped by product.
func OfferStatesByProduct(ctx context.Context, db *gorm.DB, productIDs []string) (map[string][]catalog.OfferState, error) {
	out := make(map[string][]catalog.OfferState, len(productIDs))
	for _, c := range chunks(productIDs) {
		var rows []domain.Offer
		if err := db.WithContext(ctx).
			Select("id", "product_id", "price_cents", "in_stock").
			Where("product_id IN ?", c).
			Order("product_id ASC, id ASC").
			Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, o := range rows {
			out[o.ProductID] = append(out[o.ProductID], catalog.OfferState{PriceCents: o.PriceCents, InStock: o.InStock})
		}
	}
	return out, nil
}

// OfferRefs returns the (id, product) pairs of offers that either belong to
// one of productIDs or are listed in offerIDs. This is the slice of the
// offer table a prune plan needs.
func OfferRefs(ctx context.Context, db *gorm.DB, productIDs, offerIDs []string) ([]catalog.OfferRef, error) {
	seen := map[string]bool{}
	var out []catalog.OfferRef
	collect := func(column string, ids []string) error {
		for _, c := range chunks(ids) {
			var rows []domain.Offer
			if err := db.WithContext(ctx).
				Select("id", "product_id").
				Where(column+" IN ?", c).
				Order("id ASC").
				Find(&rows).Error; err != nil {
				return err
			}
			for _, o := range rows {
				if !seen[o.ID] {
					seen[o.ID] = true
					out = append(out, catalog.OfferRef{ID: o.ID, ProductID: o.ProductID})
				}
			}
		}
		return nil
	}
	if err := collect("product_id", productIDs); err != nil {
		return nil, err
	}
	if err := collect("id", offerIDs); err != nil {
		return nil, err
	}
	return out, nil
}

// StaleOfferIDs returns up to limit offers never checked or last checked
// before cutoff, never-checked first.
func StaleOfferIDs(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.Offer{}).
		Where("last_checked_at IS NULL OR last_checked_at < ?", cutoff.UTC()).
		Order("last_checked_at IS NOT NULL, last_checked_at ASC, id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func deleteByID(ctx context.Context, db *gorm.DB, model any, ids []string) (int64, error) {
	var n int64
	for _, c := range chunks(ids) {
		res := db.WithContext(ctx).Where("id IN ?", c).Delete(model)
		if res.Error != nil {
			return n, res.Error
		}
		n += res.RowsAffected
	}
	return n, nil
}

// DeleteOffers removes offers by id and returns the number deleted.
func DeleteOffers(ctx context.Context, db *gorm.DB, ids []string) (int64, error) {
	return deleteByID(ctx, db, &domain.Offer{}, ids)
}

// DeleteProducts removes products by id and returns the number deleted.
func DeleteProducts(ctx context.Context, db *gorm.DB, ids []string) (int64, error) {
	return deleteByID(ctx, db, &domain.Product{}, ids)
}

// DeletePlants removes plants by id and returns the number deleted.
func DeletePlants(ctx context.Context, db *gorm.DB, ids []string) (int64, error) {
	return deleteByID(ctx, db, &domain.Plant{}, ids)
}
