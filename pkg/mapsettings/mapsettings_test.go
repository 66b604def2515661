package mapsettings

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/virtualtourist/tourist/pkg/binder"
	"github.com/virtualtourist/tourist/pkg/errcodes"
)

func TestService(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "settings", "map.json")

	svc := NewService(path)
	region, err := svc.RetrieveRegion()
	require.NoError(t, err)
	assert.Nil(t, region, "nothing saved yet")

	saved := &Region{CenterLatitude: 53.3441, CenterLongitude: -6.2675, LatitudeDelta: 0.5, LongitudeDelta: 1}
	require.NoError(t, svc.SaveRegion(saved))

	t.Run("survives a restart", func(t *testing.T) {
		region, err := NewService(path).RetrieveRegion()
		require.NoError(t, err)
		require.NotNil(t, region)
		assert.Equal(t, *saved, *region)
	})

	t.Run("returns copies", func(t *testing.T) {
		region, err := svc.RetrieveRegion()
		require.NoError(t, err)
		region.CenterLatitude = 0

		again, err := svc.RetrieveRegion()
		require.NoError(t, err)
		assert.InDelta(t, 53.3441, again.CenterLatitude, 1e-9)
	})

	t.Run("bounds", func(t *testing.T) {
		b := saved.Bounds()
		assert.InDelta(t, 53.0941, b.MinLatitude, 1e-9)
		assert.InDelta(t, -5.7675, b.MaxLongitude, 1e-9)
	})

	t.Run("corrupt file", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "map.json")
		require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0644))

		_, err := NewService(bad).RetrieveRegion()
		require.Error(t, err)
		assert.True(t, errcodes.HasCode(err, errcodes.CodeStorageError))
	})
}

func TestService_InMemory(t *testing.T) {
	t.Parallel()
	svc := NewService("")

	require.NoError(t, svc.SaveRegion(&Region{CenterLatitude: 1, CenterLongitude: 2, LatitudeDelta: 3, LongitudeDelta: 4}))
	region, err := svc.RetrieveRegion()
	require.NoError(t, err)
	require.NotNil(t, region)
	assert.InDelta(t, 4.0, region.LongitudeDelta, 1e-9)
}

func TestHandlers(t *testing.T) {
	t.Parallel()

	e := echo.New()
	b, err := binder.New()
	require.NoError(t, err)
	e.Binder = b
	e.HTTPErrorHandler = errcodes.NewHandler().Handle
	RegisterRoutes(e, NewService(filepath.Join(t.TempDir(), "map.json")))

	do := func(method, payload string) *httptest.ResponseRecorder {
		var req *http.Request
		if payload == "" {
			req = httptest.NewRequest(method, "/map-settings", nil)
		} else {
			req = httptest.NewRequest(method, "/map-settings", strings.NewReader(payload))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		}
		rr := httptest.NewRecorder()
		e.ServeHTTP(rr, req)
		return rr
	}

	rr := do(http.MethodGet, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(http.MethodPut, `{"center_latitude":53.3441,"center_longitude":-6.2675,"latitude_delta":0.5,"longitude_delta":1}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(http.MethodGet, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"center_latitude":53.3441`)

	rr = do(http.MethodPut, `{"center_latitude":53.3441,"center_longitude":-6.2675,"latitude_delta":0,"longitude_delta":1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Contains(t, rr.Body.String(), "must be greater than 0")
}
