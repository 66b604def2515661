package pins

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/virtualtourist/tourist/pkg/errcodes"
	"github.com/virtualtourist/tourist/pkg/models"
)

// MaxPinsInBounds caps the number of pins a bounds query returns.
const MaxPinsInBounds = 100

type RetrievePinOptions struct {
	ID *int
}

type ListPinsOptions struct {
	Bounds *Bounds
	Limit  *int

	includeTotal bool
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

// CreatePin stores a new pin that has never been fetched (page 0 of 0 pages).
// Coordinates are stored as given; range checks belong to the caller.
func (svc *Service) CreatePin(ctx context.Context, latitude, longitude float64) (*models.Pin, error) {
	now := time.Now()
	pin := &models.Pin{
		CreatedAt: now,
		UpdatedAt: now,
		Latitude:  latitude,
		Longitude: longitude,
	}

	_, err := svc.db.
		NewInsert().
		Model(pin).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, errcodes.StorageError(errors.Wrap(err, "create pin"))
	}
	return pin, nil
}

func (svc *Service) RetrievePin(ctx context.Context, opts RetrievePinOptions) (*models.Pin, error) {
	pin := &models.Pin{}

	q := svc.db.
		NewSelect().
		Model(pin)

	if opts.ID != nil {
		q = q.Where("p.id = ?", *opts.ID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Pin")
		}
		return nil, errcodes.StorageError(errors.Wrap(err, "retrieve pin"))
	}

	return pin, nil
}

// ListPinsInBounds returns the pins inside the closed box, in no particular
// order, capped at MaxPinsInBounds.
func (svc *Service) ListPinsInBounds(ctx context.Context, bounds Bounds) ([]*models.Pin, error) {
	p, _, err := svc.listPinsWithTotal(ctx, ListPinsOptions{Bounds: &bounds})
	return p, err
}

func (svc *Service) ListPins(ctx context.Context, opts ListPinsOptions) ([]*models.Pin, error) {
	p, _, err := svc.listPinsWithTotal(ctx, opts)
	return p, err
}

func (svc *Service) ListPinsWithTotal(ctx context.Context, opts ListPinsOptions) ([]*models.Pin, int, error) {
	opts.includeTotal = true
	return svc.listPinsWithTotal(ctx, opts)
}

func (svc *Service) listPinsWithTotal(ctx context.Context, opts ListPinsOptions) ([]*models.Pin, int, error) {
	var pins []*models.Pin
	var total int
	var err error

	limit := MaxPinsInBounds
	if opts.Limit != nil && *opts.Limit < limit {
		limit = *opts.Limit
	}

	q := svc.db.
		NewSelect().
		Model(&pins).
		Limit(limit)

	if opts.Bounds != nil {
		q = q.
			Where("p.latitude BETWEEN ? AND ?", opts.Bounds.MinLatitude, opts.Bounds.MaxLatitude).
			Where("p.longitude BETWEEN ? AND ?", opts.Bounds.MinLongitude, opts.Bounds.MaxLongitude)
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errcodes.StorageError(errors.Wrap(err, "list pins"))
	}

	return pins, total, nil
}

// UpdatePinCursor persists the pagination cursor in a single statement and
// updates the given pin in place.
func (svc *Service) UpdatePinCursor(ctx context.Context, pin *models.Pin, page, numberOfPages int) error {
	pin.Page = page
	pin.NumberOfPages = numberOfPages
	pin.UpdatedAt = time.Now()

	res, err := svc.db.
		NewUpdate().
		Model(pin).
		Column("page", "number_of_pages", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return errcodes.StorageError(errors.Wrap(err, "update pin cursor"))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errcodes.NotFound("Pin")
	}
	return nil
}

// DeletePin deletes a pin together with all of its photos.
func (svc *Service) DeletePin(ctx context.Context, pinID int) error {
	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		// Delete photos explicitly; foreign keys may be off on this connection.
		_, err := tx.NewDelete().
			Model((*models.Photo)(nil)).
			Where("pin_id = ?", pinID).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		res, err := tx.NewDelete().
			Model((*models.Pin)(nil)).
			Where("id = ?", pinID).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errcodes.NotFound("Pin")
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errcodes.NotFound("Pin")) {
			return err
		}
		return errcodes.StorageError(errors.Wrap(err, "delete pin"))
	}
	return nil
}

// DeleteAllPins removes every pin and photo and returns how many pins were
// deleted.
func (svc *Service) DeleteAllPins(ctx context.Context) (int, error) {
	var deleted int64
	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*models.Photo)(nil)).
			Where("1 = 1").
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		res, err := tx.NewDelete().
			Model((*models.Pin)(nil)).
			Where("1 = 1").
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, errcodes.StorageError(errors.Wrap(err, "delete all pins"))
	}
	return int(deleted), nil
}
