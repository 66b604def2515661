package mapsettings

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/virtualtourist/tourist/pkg/errcodes"
	"github.com/virtualtourist/tourist/pkg/pins"
)

// Region is the last visible map area: a center and the total span in
// degrees.
type Region struct {
	CenterLatitude  float64 `json:"center_latitude"`
	CenterLongitude float64 `json:"center_longitude"`
	LatitudeDelta   float64 `json:"latitude_delta"`
	LongitudeDelta  float64 `json:"longitude_delta"`
}

func (r *Region) Bounds() pins.Bounds {
	return pins.BoundsFromRegion(r.CenterLatitude, r.CenterLongitude, r.LatitudeDelta, r.LongitudeDelta)
}

// Service persists the map region as a small JSON file. An empty path keeps
// the region in memory only.
type Service struct {
	path string

	mu     sync.RWMutex
	region *Region
	loaded bool
}

func NewService(path string) *Service {
	return &Service{path: path}
}

// RetrieveRegion returns the saved region, or nil if none was ever saved.
func (s *Service) RetrieveRegion() (*Region, error) {
	s.mu.RLock()
	if s.loaded {
		defer s.mu.RUnlock()
		return copyRegion(s.region), nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		region, err := loadRegionFile(s.path)
		if err != nil {
			return nil, err
		}
		s.region = region
		s.loaded = true
	}
	return copyRegion(s.region), nil
}

func (s *Service) SaveRegion(region *Region) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path != "" {
		if err := saveRegionFile(region, s.path); err != nil {
			return errcodes.StorageError(errors.Wrap(err, "save map settings"))
		}
	}
	s.region = copyRegion(region)
	s.loaded = true
	return nil
}

func copyRegion(r *Region) *Region {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

func loadRegionFile(path string) (*Region, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Nothing saved yet.
			return nil, nil
		}
		return nil, errcodes.StorageError(errors.Wrap(err, "read map settings"))
	}

	region := &Region{}
	if err := json.Unmarshal(data, region); err != nil {
		return nil, errcodes.StorageError(errors.Wrap(err, "parse map settings"))
	}
	return region, nil
}

func saveRegionFile(region *Region, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.WithStack(err)
	}

	data, err := json.MarshalIndent(region, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}

	// Readers never see a partially written file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil { //nolint:gosec
		return errors.WithStack(err)
	}
	return errors.WithStack(os.Rename(tmp, path))
}
