package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Pin struct {
	bun.BaseModel `bun:"table:pins,alias:p"`

	ID            int       `bun:",pk,nullzero" json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Page          int       `json:"page"`
	NumberOfPages int       `json:"number_of_pages"`

	// Relations
	Photos []*Photo `bun:"rel:has-many,join:id=pin_id" json:"photos,omitempty"`
}

// Fetched reports whether a remote fetch has ever succeeded for the pin. A
// search with no results stores page 1 of 0 pages, and a wrapped cursor
// stores page 0 of n pages.
func (p *Pin) Fetched() bool {
	return p.Page != 0 || p.NumberOfPages != 0
}
