package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Photo struct {
	bun.BaseModel `bun:"table:photos,alias:ph"`

	ID          int       `bun:",pk,nullzero" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	PinID       int       `bun:",nullzero" json:"pin_id"`
	Pin         *Pin      `bun:"rel:belongs-to,join:pin_id=id" json:"pin,omitempty"`
	RemoteID    string    `bun:",nullzero" json:"remote_id"`
	URL         string    `bun:",nullzero" json:"url"`
	ImageData   []byte    `bun:",nullzero" json:"-"`
	ContentType *string   `json:"content_type"`
}

// HasImage reports whether the image bytes have been downloaded and attached.
func (p *Photo) HasImage() bool {
	return len(p.ImageData) > 0
}
