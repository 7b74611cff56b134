package web

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/product-importer/internal/core"
)

type productStatsResponse struct {
	Total    int64 `json:"total"`
	Active   int64 `json:"active"`
	Inactive int64 `json:"inactive"`

	TotalQuantity  int64   `json:"total_quantity"`
	InventoryValue float64 `json:"inventory_value"`
}

// parseID reads a positive integer path parameter.
func parseID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id < 1 {
		return 0, &core.ValidationError{Problems: []string{name + " must be a positive integer"}}
	}
	return id, nil
}

// optionalString returns nil for an absent or empty query parameter.
func optionalString(r *http.Request, name string) *string {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	return &v
}

func optionalBool(r *http.Request, name string) (*bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, &core.ValidationError{Problems: []string{name + " must be true or false"}}
	}
	return &b, nil
}

func optionalInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &core.ValidationError{Problems: []string{name + " must be an integer"}}
	}
	return n, nil
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	page, err := optionalInt(r, "page")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	pageSize, err := optionalInt(r, "page_size")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	active, err := optionalBool(r, "is_active")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	result, err := s.service.ListProducts(r.Context(), core.ProductFilter{
		SKU:         optionalString(r, "sku"),
		Name:        optionalString(r, "name"),
		Description: optionalString(r, "description"),
		IsActive:    active,
		Search:      optionalString(r, "search"),
		Page:        page,
		PageSize:    pageSize,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	p, err := s.service.GetProduct(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var in core.ProductInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	p, err := s.service.CreateProduct(withRequestMetadata(r), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var patch core.ProductPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		s.respondError(w, r, err)
		return
	}
	p, err := s.service.UpdateProduct(withRequestMetadata(r), id, patch)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.service.DeleteProduct(withRequestMetadata(r), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Product deleted successfully"})
}

// handleDeleteAllProducts empties the catalogue; it needs ?confirm=true.
func (s *Server) handleDeleteAllProducts(w http.ResponseWriter, r *http.Request) {
	confirm, err := optionalBool(r, "confirm")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	n, err := s.service.DeleteAllProducts(withRequestMetadata(r), confirm != nil && *confirm)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("Successfully deleted %d products", n)})
}

func (s *Server) handleProductStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.ProductStats(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, productStatsResponse{
		Total:          st.TotalProducts,
		Active:         st.ActiveProducts,
		Inactive:       st.InactiveProducts,
		TotalQuantity:  st.TotalQuantity,
		InventoryValue: st.InventoryValue,
	})
}
