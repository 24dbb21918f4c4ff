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

package granule

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func testSchema() Schema {
	return Schema{
		Dims: []Dim{{"time", 0}, {"lat", 2}, {"lon", 3}},
		Vars: []Var{
			{Name: "time", Dims: []string{"time"}, Type: []float64{},
				Attributes: []Attribute{{"units", "hours since 2000-01-01 00:00:00"}}},
			{Name: "lat", Dims: []string{"lat"}, Type: []float64{}},
			{Name: "lon", Dims: []string{"lon"}, Type: []float64{}},
			{Name: "water_u", Dims: []string{"time", "lat", "lon"}, Type: []int16{},
				Attributes: []Attribute{
					{"units", "m/s"},
					{"scale_factor", []float32{0.001}},
					{"units", "duplicate"},
					{"bad", []int{1}},
				}},
		},
		Attributes: []Attribute{{"Conventions", "CF-1.4"}},
	}
}

func writeTestFile(t *testing.T, path string, nrec int) {
	t.Helper()
	w, err := Create(path, testSchema())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write("lat", []float64{-1, 0}); err != nil {
		t.Fatal(err)
	}
	if err := w.Write("lon", []float64{117, 118, 119}); err != nil {
		t.Fatal(err)
	}
	for rec := 0; rec < nrec; rec++ {
		if err := w.WriteRecord("time", rec, []float64{float64(200000 + 24*rec)}); err != nil {
			t.Fatal(err)
		}
		u := make([]int16, 6)
		for i := range u {
			u[i] = int16(rec*10 + i)
		}
		if err := w.WriteRecord("water_u", rec, u); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestClassicRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.nc")
	writeTestFile(t, path, 3)

	d, opener, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if opener != "classic" {
		t.Errorf("opener = %s, want classic", opener)
	}
	if n, ok := d.Dimension("time"); !ok || n != 3 {
		t.Errorf("time dimension = %d, %v; want 3, true", n, ok)
	}
	if s := d.Shape("water_u"); !reflect.DeepEqual(s, []int{3, 2, 3}) {
		t.Errorf("shape = %v", s)
	}
	if dims := d.Dimensions("water_u"); !reflect.DeepEqual(dims, []string{"time", "lat", "lon"}) {
		t.Errorf("dims = %v", dims)
	}
	rec, err := d.ReadRecord("water_u", 1)
	if err != nil {
		t.Fatal(err)
	}
	want := []int16{10, 11, 12, 13, 14, 15}
	if !reflect.DeepEqual(rec, want) {
		t.Errorf("record 1 = %v, want %v", rec, want)
	}
	times, err := d.Read("time")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(times, []float64{200000, 200024, 200048}) {
		t.Errorf("times = %v", times)
	}
	lon, err := d.Read("lon")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(lon, []float64{117, 118, 119}) {
		t.Errorf("lon = %v", lon)
	}
	attrs := d.Attributes("water_u")
	if len(attrs) != 2 {
		t.Errorf("attributes = %v, want units and scale_factor only", attrs)
	}
	if _, err := d.ReadRecord("water_u", 3); err == nil {
		t.Error("expected out of range error")
	}
}

func TestOddRecordPadding(t *testing.T) {
	// Three int16 values per record leave the slab two bytes short of
	// a four-byte boundary.
	path := filepath.Join(t.TempDir(), "odd.nc")
	s := Schema{
		Dims: []Dim{{"time", 0}, {"x", 3}},
		Vars: []Var{
			{Name: "time", Dims: []string{"time"}, Type: []float64{}},
			{Name: "v", Dims: []string{"time", "x"}, Type: []int16{}},
		},
	}
	w, err := Create(path, s)
	if err != nil {
		t.Fatal(err)
	}
	for rec := 0; rec < 2; rec++ {
		if err := w.WriteRecord("time", rec, []float64{float64(rec)}); err != nil {
			t.Fatal(err)
		}
		if err := w.WriteRecord("v", rec, []int16{1, 2, 3}); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	d, _, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if n, _ := d.Dimension("time"); n != 2 {
		t.Errorf("records = %d, want 2", n)
	}
}

// gzipFile compresses the file at src into dst.
func gzipFile(t *testing.T, src, dst string, level int) {
	t.Helper()
	b, err := os.ReadFile(src)
	if err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(dst)
	if err != nil {
		t.Fatal(err)
	}
	zw, err := gzip.NewWriterLevel(f, level)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := zw.Write(b); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestGzip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.nc")
	writeTestFile(t, path, 2)
	gzPath := filepath.Join(dir, "test.nc.gz")
	gzipFile(t, path, gzPath, gzip.DefaultCompression)

	d, opener, err := Open(gzPath)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if opener != "gzip" {
		t.Errorf("opener = %s, want gzip", opener)
	}
	rec, err := d.ReadRecord("water_u", 1)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(rec, []int16{10, 11, 12, 13, 14, 15}) {
		t.Errorf("record = %v", rec)
	}
}

// largeRecords makes the inflated payload bigger than the first chunk
// read when looking for the header.
const largeRecords = 8000

func TestGzipLarge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.nc")
	writeTestFile(t, path, largeRecords)
	gzPath := filepath.Join(dir, "test.nc.gz")
	gzipFile(t, path, gzPath, gzip.DefaultCompression)
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	d, _, err := Open(gzPath)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := d.Dimension("time"); n != largeRecords {
		t.Errorf("records = %d, want %d", n, largeRecords)
	}
	if s := d.Shape("water_u"); !reflect.DeepEqual(s, []int{largeRecords, 2, 3}) {
		t.Errorf("shape = %v", s)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("opening created files: %d entries", len(entries))
	}

	last := largeRecords - 1
	rec, err := d.ReadRecord("water_u", last)
	if err != nil {
		t.Fatal(err)
	}
	want := make([]int16, 6)
	for i := range want {
		want[i] = int16(last*10 + i)
	}
	if !reflect.DeepEqual(rec, want) {
		t.Errorf("record %d = %v, want %v", last, rec, want)
	}
	times, err := d.Read("time")
	if err != nil {
		t.Fatal(err)
	}
	if Len(times) != largeRecords {
		t.Errorf("read %d times", Len(times))
	}

	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	entries, _ = os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("inflated copy left behind: %d entries", len(entries))
	}
}

func TestGzipDamagedData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.nc")
	writeTestFile(t, path, largeRecords)
	gzPath := filepath.Join(dir, "test.nc.gz")
	// Stored blocks keep the damage inside the data region.
	gzipFile(t, path, gzPath, gzip.NoCompression)
	os.Remove(path)
	b, err := os.ReadFile(gzPath)
	if err != nil {
		t.Fatal(err)
	}
	mid := len(b) / 2
	for i := mid; i < mid+64; i++ {
		b[i] ^= 0xff
	}
	if err := os.WriteFile(gzPath, b, 0644); err != nil {
		t.Fatal(err)
	}

	d, opener, err := Open(gzPath)
	if err != nil {
		t.Fatalf("header should open: %v", err)
	}
	defer d.Close()
	if opener != "gzip" {
		t.Errorf("opener = %s, want gzip", opener)
	}
	if n, _ := d.Dimension("time"); n != largeRecords {
		t.Errorf("records = %d, want %d", n, largeRecords)
	}
	if _, err := d.ReadRecord("water_u", largeRecords-1); err == nil {
		t.Error("expected an error reading damaged data")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("failed inflation left files behind: %d entries", len(entries))
	}
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.nc")
	if err := os.WriteFile(garbage, []byte("<html>error</html>"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Open(garbage); !errors.Is(err, ErrUnrecognized) {
		t.Errorf("err = %v, want ErrUnrecognized", err)
	}

	truncated := filepath.Join(dir, "truncated.nc")
	if err := os.WriteFile(truncated, []byte("CDF\x01\x00\x00"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Open(truncated); err == nil {
		t.Error("expected error for truncated header")
	}

	if _, _, err := Open(filepath.Join(dir, "missing.nc")); !os.IsNotExist(err) {
		t.Errorf("err = %v, want not-exist", err)
	}
}
