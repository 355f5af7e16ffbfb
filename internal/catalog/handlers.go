package catalog

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/payrelay/internal/common"
	"github.com/noah-isme/payrelay/internal/money"
)

// Handler exposes the public catalog endpoints with prices quoted under the
// configured tax rate.
type Handler struct {
	catalog *Catalog
	taxRate float64
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Catalog *Catalog
	TaxRate float64
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{catalog: cfg.Catalog, taxRate: cfg.TaxRate}
}

type productView struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    string          `json:"price"`
	Currency string          `json:"currency"`
	Tags     []string        `json:"tags,omitempty"`
	Quote    money.Breakdown `json:"quote"`
}

func (h *Handler) view(p Product) productView {
	return productView{
		ID:       p.ID,
		Name:     p.Name,
		Price:    money.Fixed(p.Price),
		Currency: p.Currency,
		Tags:     p.Tags,
		Quote:    money.FromBase(p.Price, h.taxRate),
	}
}

// Products handles GET /api/v1/products.
func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog not configured", nil)
		return
	}
	products := h.catalog.Products()
	out := make([]productView, 0, len(products))
	for _, p := range products {
		out = append(out, h.view(p))
	}
	common.Data(w, http.StatusOK, out)
}

// ProductDetail handles GET /api/v1/products/{id}.
func (h *Handler) ProductDetail(w http.ResponseWriter, r *http.Request) {
	p, ok := h.catalog.Lookup(chi.URLParam(r, "id"))
	if !ok {
		common.JSONError(w, http.StatusNotFound, "PRODUCT_NOT_FOUND", "product not found", nil)
		return
	}
	common.Data(w, http.StatusOK, h.view(p))
}
