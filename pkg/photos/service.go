package photos

import (
	"context"
	"database/sql"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/virtualtourist/tourist/pkg/errcodes"
	"github.com/virtualtourist/tourist/pkg/flickr"
	"github.com/virtualtourist/tourist/pkg/models"
)

// MaxPhotosPerPin caps how many photos a pin listing returns.
const MaxPhotosPerPin = 100

type RetrievePhotoOptions struct {
	ID *int
	// WithImage loads the image bytes too; they're skipped by default.
	WithImage bool
}

// Cursor is a pin's pagination state after a successful fetch.
type Cursor struct {
	Page          int
	NumberOfPages int
}

type ReplacePhotosOptions struct {
	// Cursor, when set, is written to the pin in the same transaction as the
	// photo replacement.
	Cursor *Cursor
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

// photoColumns are the columns returned by listings. Image bytes are left out.
var photoColumns = []string{"id", "created_at", "pin_id", "remote_id", "url", "content_type"}

func (svc *Service) RetrievePhoto(ctx context.Context, opts RetrievePhotoOptions) (*models.Photo, error) {
	photo := &models.Photo{}

	q := svc.db.
		NewSelect().
		Model(photo)

	if !opts.WithImage {
		q = q.Column(photoColumns...)
	}
	if opts.ID != nil {
		q = q.Where("ph.id = ?", *opts.ID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Photo")
		}
		return nil, errcodes.StorageError(errors.Wrap(err, "retrieve photo"))
	}

	return photo, nil
}

// ListPhotosForPin returns the pin's photos oldest first, capped at
// MaxPhotosPerPin.
func (svc *Service) ListPhotosForPin(ctx context.Context, pinID int) ([]*models.Photo, error) {
	photos := []*models.Photo{}

	err := svc.db.
		NewSelect().
		Model(&photos).
		Column(photoColumns...).
		Where("ph.pin_id = ?", pinID).
		Order("ph.created_at ASC", "ph.id ASC").
		Limit(MaxPhotosPerPin).
		Scan(ctx)
	if err != nil {
		return nil, errcodes.StorageError(errors.Wrap(err, "list photos"))
	}

	return photos, nil
}

// ReplacePhotosForPin discards every photo of the pin and inserts one record
// per remote photo, in a single transaction. Readers see either the old set
// or the new one. Creation times increase with the position in remote, so the
// listing order matches the remote order.
func (svc *Service) ReplacePhotosForPin(ctx context.Context, pin *models.Pin, remote []flickr.Photo, opts ReplacePhotosOptions) ([]*models.Photo, error) {
	now := time.Now().UTC()
	photos := make([]*models.Photo, 0, len(remote))
	for i, r := range remote {
		photos = append(photos, &models.Photo{
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
			PinID:     pin.ID,
			RemoteID:  r.ID,
			URL:       r.URL,
		})
	}

	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*models.Pin)(nil)).
			Where("id = ?", pin.ID).
			Exists(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if !exists {
			return errcodes.NotFound("Pin")
		}

		_, err = tx.NewDelete().
			Model((*models.Photo)(nil)).
			Where("pin_id = ?", pin.ID).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		if len(photos) > 0 {
			_, err = tx.NewInsert().
				Model(&photos).
				Returning("*").
				Exec(ctx)
			if err != nil {
				return errors.WithStack(err)
			}
		}

		if opts.Cursor != nil {
			_, err = tx.NewUpdate().
				Model((*models.Pin)(nil)).
				Set("page = ?", opts.Cursor.Page).
				Set("number_of_pages = ?", opts.Cursor.NumberOfPages).
				Set("updated_at = ?", now).
				Where("id = ?", pin.ID).
				Exec(ctx)
			if err != nil {
				return errors.WithStack(err)
			}
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, errcodes.NotFound("Pin")) {
			return nil, err
		}
		return nil, errcodes.StorageError(errors.Wrap(err, "replace photos"))
	}

	if opts.Cursor != nil {
		pin.Page = opts.Cursor.Page
		pin.NumberOfPages = opts.Cursor.NumberOfPages
		pin.UpdatedAt = now
	}

	return photos, nil
}

func (svc *Service) DeletePhoto(ctx context.Context, photoID int) error {
	res, err := svc.db.
		NewDelete().
		Model((*models.Photo)(nil)).
		Where("id = ?", photoID).
		Exec(ctx)
	if err != nil {
		return errcodes.StorageError(errors.Wrap(err, "delete photo"))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errcodes.NotFound("Photo")
	}
	return nil
}

// AttachImageBytes stores downloaded image bytes on the photo along with their
// detected content type.
func (svc *Service) AttachImageBytes(ctx context.Context, photo *models.Photo, data []byte) error {
	contentType := mimetype.Detect(data).String()

	res, err := svc.db.
		NewUpdate().
		Model((*models.Photo)(nil)).
		Set("image_data = ?", data).
		Set("content_type = ?", contentType).
		Where("id = ?", photo.ID).
		Exec(ctx)
	if err != nil {
		return errcodes.StorageError(errors.Wrap(err, "attach image"))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// The photo was deleted or replaced while the image was downloading.
		return errcodes.NotFound("Photo")
	}

	photo.ImageData = data
	photo.ContentType = &contentType
	return nil
}
