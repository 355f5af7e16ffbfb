// Package catalog holds the canonical pre-tax prices checkout falls back to
// when the caller does not supply a finalised total.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// ErrInvalidCatalog is returned when a catalog document cannot be used.
var ErrInvalidCatalog = errors.New("catalog: invalid document")

// Product is a purchasable item with its canonical pre-tax price.
type Product struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Tags     []string        `json:"tags,omitempty"`
	Currency string          `json:"currency"`
}

// Catalog is an immutable, concurrency-safe product index.
type Catalog struct {
	currency string
	byID     map[string]Product
	ordered  []Product
}

type document struct {
	Currency string `yaml:"currency"`
	Products []struct {
		ID    string   `yaml:"id"`
		Name  string   `yaml:"name"`
		Price string   `yaml:"price"`
		Tags  []string `yaml:"tags"`
	} `yaml:"products"`
}

// Load parses a YAML catalog document.
func Load(r io.Reader) (*Catalog, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	currency := strings.ToLower(strings.TrimSpace(doc.Currency))
	if currency == "" {
		return nil, fmt.Errorf("%w: currency is required", ErrInvalidCatalog)
	}

	c := &Catalog{currency: currency, byID: make(map[string]Product, len(doc.Products))}
	for i, item := range doc.Products {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: product #%d has no id", ErrInvalidCatalog, i)
		}
		if _, dup := c.byID[id]; dup {
			return nil, fmt.Errorf("%w: duplicate product %q", ErrInvalidCatalog, id)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(item.Price))
		if err != nil {
			return nil, fmt.Errorf("%w: product %q price: %v", ErrInvalidCatalog, id, err)
		}
		if !price.IsPositive() {
			return nil, fmt.Errorf("%w: product %q price must be positive", ErrInvalidCatalog, id)
		}
		p := Product{ID: id, Name: item.Name, Price: price, Tags: item.Tags, Currency: currency}
		c.byID[id] = p
		c.ordered = append(c.ordered, p)
	}
	sort.Slice(c.ordered, func(i, j int) bool { return c.ordered[i].ID < c.ordered[j].ID })
	return c, nil
}

// LoadFile reads a catalog from disk.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Load(bytes.NewReader(defaultCatalog))
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup finds a product by id.
func (c *Catalog) Lookup(id string) (Product, bool) {
	if c == nil {
		return Product{}, false
	}
	p, ok := c.byID[strings.TrimSpace(id)]
	return p, ok
}

// Products returns all products sorted by id.
func (c *Catalog) Products() []Product {
	if c == nil {
		return nil
	}
	return append([]Product(nil), c.ordered...)
}

// Currency is the ISO currency code, lower-cased, every price is expressed in.
func (c *Catalog) Currency() string {
	if c == nil {
		return ""
	}
	return c.currency
}
