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

package hycom

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/hycom/granule"
)

var epoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// hoursAt returns the time coordinate of hour h on day.
func hoursAt(day time.Time, h int) float64 {
	return day.Sub(epoch).Hours() + float64(h)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// sample describes a synthetic daily file.
type sample struct {
	times []float64
	lat   []float64
	vars  []string
	// mark fills every value of every record.
	mark float32
}

func daySample(day time.Time) sample {
	return sample{
		times: []float64{hoursAt(day, 12)},
		lat:   []float64{-1, 0},
		vars:  []string{"water_u", "water_v"},
		mark:  float32(day.Day()),
	}
}

func writeSample(t testing.TB, path string, s sample) {
	t.Helper()
	if s.lat == nil {
		s.lat = []float64{-1, 0}
	}
	lon := []float64{117, 118, 119}
	schema := granule.Schema{
		Dims: []granule.Dim{{Name: "time", Len: 0}, {Name: "lat", Len: len(s.lat)}, {Name: "lon", Len: len(lon)}},
		Vars: []granule.Var{
			{Name: "time", Dims: []string{"time"}, Type: []float64{},
				Attributes: []granule.Attribute{{Name: "units", Value: "hours since 2000-01-01 00:00:00"}}},
			{Name: "lat", Dims: []string{"lat"}, Type: []float64{}},
			{Name: "lon", Dims: []string{"lon"}, Type: []float64{}},
		},
		Attributes: []granule.Attribute{{Name: "Conventions", Value: "CF-1.4"}},
	}
	for _, v := range s.vars {
		schema.Vars = append(schema.Vars, granule.Var{
			Name: v, Dims: []string{"time", "lat", "lon"}, Type: []float32{},
			Attributes: []granule.Attribute{{Name: "units", Value: "m/s"}},
		})
	}
	w, err := granule.Create(path, schema)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write("lat", s.lat); err != nil {
		t.Fatal(err)
	}
	if err := w.Write("lon", lon); err != nil {
		t.Fatal(err)
	}
	for rec, tt := range s.times {
		if err := w.WriteRecord("time", rec, []float64{tt}); err != nil {
			t.Fatal(err)
		}
		for _, v := range s.vars {
			vals := make([]float32, len(s.lat)*len(lon))
			for i := range vals {
				vals[i] = s.mark
			}
			if err := w.WriteRecord(v, rec, vals); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func sampleBytes(t testing.TB, s sample) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.nc")
	writeSample(t, path, s)
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// testConfig returns a configuration for a fast run against baseURL
// that writes under a temporary directory.
func testConfig(t testing.TB, baseURL string, start, end time.Time) Config {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Start, cfg.End = start, end
	cfg.BaseURL = baseURL
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.TempDir = filepath.Join(dir, "tmp")
	cfg.Timeout = 5 * time.Second
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffMax = 2 * time.Millisecond
	return cfg
}

// subsetServer imitates the subset service. respond is called with the
// requested day; a nil body with status 200 serves the default sample.
type subsetServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests map[string]int
}

func newSubsetServer(t testing.TB, respond func(day time.Time, n int) (int, []byte)) *subsetServer {
	s := &subsetServer{requests: make(map[string]int)}
	var cache sync.Map
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts, err := time.Parse("2006-01-02T15:04:05Z", r.URL.Query().Get("time_start"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		day := Day(ts)
		key := day.Format(dateLayout)
		s.mu.Lock()
		s.requests[key]++
		n := s.requests[key]
		s.mu.Unlock()

		status, body := http.StatusOK, []byte(nil)
		if respond != nil {
			status, body = respond(day, n)
		}
		if status == http.StatusOK && body == nil {
			b, ok := cache.Load(key)
			if !ok {
				b = sampleBytes(t, daySample(day))
				cache.Store(key, b)
			}
			body = b.([]byte)
		}
		w.WriteHeader(status)
		w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *subsetServer) count(day time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[day.Format(dateLayout)]
}

func (s *subsetServer) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.requests {
		n += c
	}
	return n
}
