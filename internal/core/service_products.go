package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/product-importer/internal/logging"
)

const (
	DefaultProductPageSize = 20
	MaxProductPageSize     = 100
)

// ListProducts returns one page of products, newest id first. Page starts
// at 1; page size is clamped to 1..100.
func (s *Service) ListProducts(ctx context.Context, f ProductFilter) (ProductPage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultProductPageSize
	}
	f.PageSize = min(f.PageSize, MaxProductPageSize)
	return s.store.ListProducts(ctx, f)
}

func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	return s.store.GetProduct(ctx, id)
}

// CreateProduct stores a product under its upper-cased SKU. A SKU that
// exists in any letter case is rejected with ErrDuplicateSKU.
func (s *Service) CreateProduct(ctx context.Context, in ProductInput) (Product, error) {
	in.SKU = strings.TrimSpace(in.SKU)
	in.Name = strings.TrimSpace(in.Name)
	if err := s.check(in); err != nil {
		return Product{}, err
	}
	in.SKU = strings.ToUpper(in.SKU)

	_, err := s.store.GetProductBySKU(ctx, in.SKU)
	switch {
	case err == nil:
		return Product{}, fmt.Errorf("product with sku %q: %w", in.SKU, ErrDuplicateSKU)
	case !errors.Is(err, ErrNotFound):
		return Product{}, err
	}

	p, err := s.store.CreateProduct(ctx, in)
	if err != nil {
		return Product{}, err
	}
	logging.WithFields(ctx, "product_id", p.ID, "sku", p.SKU).Info("product created", "client_ip", ClientIP(ctx))
	s.events.Emit(ctx, EventProductCreated, ProductEventPayload(p))
	return p, nil
}

// UpdateProduct applies the non-nil fields of patch.
func (s *Service) UpdateProduct(ctx context.Context, id int64, patch ProductPatch) (Product, error) {
	if patch.Name != nil {
		trimmed := strings.TrimSpace(*patch.Name)
		patch.Name = &trimmed
	}
	if err := s.check(patch); err != nil {
		return Product{}, err
	}

	p, err := s.store.UpdateProduct(ctx, id, patch)
	if err != nil {
		return Product{}, err
	}
	logging.WithFields(ctx, "product_id", p.ID, "sku", p.SKU).Info("product updated", "client_ip", ClientIP(ctx))
	s.events.Emit(ctx, EventProductUpdated, ProductEventPayload(p))
	return p, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	p, err := s.store.DeleteProduct(ctx, id)
	if err != nil {
		return err
	}
	logging.WithFields(ctx, "product_id", p.ID, "sku", p.SKU).Info("product deleted", "client_ip", ClientIP(ctx))
	s.events.Emit(ctx, EventProductDeleted, ProductEventPayload(p))
	return nil
}

// DeleteAllProducts empties the catalogue. confirm must be true.
// No per-product events are sent.
func (s *Service) DeleteAllProducts(ctx context.Context, confirm bool) (int64, error) {
	if !confirm {
		return 0, fmt.Errorf("delete all products: %w", ErrConfirmationRequired)
	}
	n, err := s.store.DeleteAllProducts(ctx)
	if err != nil {
		return 0, err
	}
	logging.FromContext(ctx).Warn("all products deleted", "count", n, "client_ip", ClientIP(ctx))
	return n, nil
}

func (s *Service) ProductStats(ctx context.Context) (ProductStats, error) {
	return s.store.ProductStats(ctx)
}
