package devstore

import "strings"

// Product is a catalog entry of the development storefront.
type Product struct {
	ID    string
	Name  string
	Price string
}

// DefaultCatalog is served when no catalog is configured.
func DefaultCatalog() []Product {
	return []Product{
		{ID: "1", Name: "Tsuge seal", Price: "3200"},
		{ID: "9", Name: "Black buffalo seal", Price: "5800"},
		{ID: "42", Name: "Titanium seal", Price: "12800"},
		{ID: "77", Name: "Seal case", Price: "1500"},
	}
}

type catalog struct {
	order []Product
	byID  map[string]Product
}

func newCatalog(products []Product) catalog {
	c := catalog{byID: make(map[string]Product, len(products))}
	for _, p := range products {
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			continue
		}
		if _, dup := c.byID[p.ID]; dup {
			continue
		}
		c.byID[p.ID] = p
		c.order = append(c.order, p)
	}
	return c
}

func (c catalog) lookup(id string) (Product, bool) {
	p, ok := c.byID[id]
	return p, ok
}
