package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`
			CREATE TABLE pins (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				latitude REAL NOT NULL,
				longitude REAL NOT NULL,
				page INTEGER NOT NULL DEFAULT 0 CHECK (page >= 0),
				number_of_pages INTEGER NOT NULL DEFAULT 0 CHECK (number_of_pages >= 0)
			)
		`)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = db.Exec(`CREATE INDEX ix_pins_coordinates ON pins (latitude, longitude)`)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = db.Exec(`
			CREATE TABLE photos (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				pin_id INTEGER REFERENCES pins (id) ON DELETE CASCADE NOT NULL,
				remote_id TEXT,
				url TEXT NOT NULL,
				image_data BLOB,
				content_type TEXT
			)
		`)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = db.Exec(`CREATE INDEX ix_photos_pin_created ON photos (pin_id, created_at, id)`)
		return errors.WithStack(err)
	}

	down := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`DROP TABLE IF EXISTS photos`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`DROP TABLE IF EXISTS pins`)
		return errors.WithStack(err)
	}

	Migrations.MustRegister(up, down)
}
