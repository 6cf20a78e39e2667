package etl

import "propscout-engine/internal/domain"

// Weights is the completeness-scoring table. It comes from configuration;
// nothing in the scorer hard-codes per-record weights.
type Weights struct {
	Address     int `yaml:"address" json:"address"`
	Price       int `yaml:"price" json:"price"`
	Size        int `yaml:"size" json:"size"`
	Bedrooms    int `yaml:"bedrooms" json:"bedrooms"`
	Bathrooms   int `yaml:"bathrooms" json:"bathrooms"`
	Description int `yaml:"description" json:"description"`
	Images      int `yaml:"images" json:"images"`
}

func DefaultWeights() Weights {
	return Weights{
		Address:     25,
		Price:       20,
		Size:        10,
		Bedrooms:    10,
		Bathrooms:   10,
		Description: 15,
		Images:      10,
	}
}

func (w Weights) total() int {
	return w.Address + w.Price + w.Size + w.Bedrooms + w.Bathrooms + w.Description + w.Images
}

// Score rates field completeness on a 0–100 scale. Filling a previously
// absent field can only raise the score.
func (w Weights) Score(p domain.Property) int {
	total := w.total()
	if total <= 0 {
		return 0
	}

	got := 0
	// address counts proportionally per component present
	addrParts := 0
	for _, s := range []string{p.Address, p.City, p.State, p.ZipCode} {
		if s != "" {
			addrParts++
		}
	}
	got += w.Address * addrParts / 4

	if p.Price != nil {
		got += w.Price
	}
	if p.SquareFeet != nil || p.LotSize != nil {
		got += w.Size
	}
	if p.Bedrooms != nil {
		got += w.Bedrooms
	}
	if p.Bathrooms != nil {
		got += w.Bathrooms
	}
	if p.Description != "" {
		got += w.Description
	}
	if len(p.Images) > 0 {
		got += w.Images
	}

	score := got * 100 / total
	if score > 100 {
		score = 100
	}
	return score
}
