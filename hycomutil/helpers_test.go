/*
Copyright © 2024 the hycom authors.
This file is part of hycom.

hycom is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

hycom is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with hycom.  If not, see <http://www.gnu.org/licenses/>.
*/

package hycomutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/hycom"
	"github.com/spatialmodel/hycom/granule"
	"github.com/stretchr/testify/require"
)

// dayFile returns a small daily data file for day.
func dayFile(t testing.TB, day time.Time) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "day.nc")
	s := granule.Schema{
		Dims: []granule.Dim{{Name: "time", Len: 0}, {Name: "lat", Len: 2}, {Name: "lon", Len: 2}},
		Vars: []granule.Var{
			{Name: "time", Dims: []string{"time"}, Type: []float64{},
				Attributes: []granule.Attribute{{Name: "units", Value: "hours since 2000-01-01 00:00:00"}}},
			{Name: "lat", Dims: []string{"lat"}, Type: []float64{}},
			{Name: "lon", Dims: []string{"lon"}, Type: []float64{}},
			{Name: "water_u", Dims: []string{"time", "lat", "lon"}, Type: []float32{}},
			{Name: "water_v", Dims: []string{"time", "lat", "lon"}, Type: []float32{}},
		},
	}
	w, err := granule.Create(path, s)
	require.NoError(t, err)
	require.NoError(t, w.Write("lat", []float64{0, 0.08}))
	require.NoError(t, w.Write("lon", []float64{117, 117.08}))
	hours := day.Sub(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)).Hours() + 12
	require.NoError(t, w.WriteRecord("time", 0, []float64{hours}))
	require.NoError(t, w.WriteRecord("water_u", 0, []float32{0.1, 0.2, 0.3, 0.4}))
	require.NoError(t, w.WriteRecord("water_v", 0, []float32{-0.1, -0.2, -0.3, -0.4}))
	require.NoError(t, w.Close())
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return b
}

// subsetServer serves a valid file for every requested day.
func subsetServer(t testing.TB) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts, err := time.Parse("2006-01-02T15:04:05Z", r.URL.Query().Get("time_start"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Write(dayFile(t, hycom.Day(ts)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t testing.TB, baseURL string) hycom.Config {
	dir := t.TempDir()
	cfg := hycom.DefaultConfig()
	cfg.Start = time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC)
	cfg.End = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg.BaseURL = baseURL
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.TempDir = filepath.Join(dir, "tmp")
	cfg.Timeout = 5 * time.Second
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffMax = time.Millisecond
	return cfg
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
