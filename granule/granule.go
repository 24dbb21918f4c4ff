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

// Package granule opens the gridded files returned by the subset service
// and writes merged files. Datasets are opened lazily: only the header is
// parsed on open, and data is read one record at a time.
package granule

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// Attribute is a named attribute value. Value holds one of
// []uint8, string, []int16, []int32, []float32 or []float64.
type Attribute struct {
	Name  string
	Value interface{}
}

// A Dataset is an opened gridded file.
type Dataset interface {
	// Variables returns the names of all variables in the file.
	Variables() []string

	// Dimensions returns the names of the dimensions of variable v,
	// or nil if v does not exist.
	Dimensions(v string) []string

	// Shape returns the lengths of the dimensions of variable v. The
	// length of an unlimited dimension is the number of records in the file.
	Shape(v string) []int

	// Dimension returns the length of the named dimension.
	Dimension(name string) (int, bool)

	// Attributes returns the attributes of variable v, or the global
	// attributes if v is empty.
	Attributes(v string) []Attribute

	// ZeroValue returns a zeroed slice of length n with the storage type of v.
	ZeroValue(v string, n int) interface{}

	// ReadRecord reads index rec along the outermost dimension of v.
	ReadRecord(v string, rec int) (interface{}, error)

	// Read reads all of variable v.
	Read(v string) (interface{}, error)

	Close() error
}

// An Opener recognizes and opens one container format.
type Opener struct {
	// Name identifies the backend, e.g. "classic".
	Name string

	// Sniff reports whether the leading bytes of a file look like
	// this format.
	Sniff func(magic []byte) bool

	// Open opens the file at path.
	Open func(path string) (Dataset, error)
}

var (
	// ErrUnrecognized is returned when no opener recognizes a file.
	ErrUnrecognized = errors.New("granule: unrecognized file signature")

	// ErrNetCDF4 is returned for netCDF-4 (HDF5) files when the
	// program was built without netCDF-4 support.
	ErrNetCDF4 = errors.New("granule: file is netCDF-4/HDF5; rebuild with -tags netcdf4 or request accept=netcdf")
)

var (
	magicCDF1 = []byte("CDF\x01")
	magicCDF2 = []byte("CDF\x02")
	magicGzip = []byte{0x1f, 0x8b}
	magicHDF5 = []byte("\x89HDF\r\n\x1a\n")
)

const magicLen = 8

var (
	openersMu sync.RWMutex
	openers   = []Opener{
		{Name: "classic", Sniff: isClassic, Open: openClassic},
		{Name: "gzip", Sniff: isGzip, Open: openGzip},
	}
)

// Register adds an opener at the lowest priority.
func Register(o Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	openers = append(openers, o)
}

// Openers returns the registered openers in priority order.
func Openers() []Opener {
	openersMu.RLock()
	defer openersMu.RUnlock()
	o := make([]Opener, len(openers))
	copy(o, openers)
	return o
}

// Open opens the file at path with the first registered opener that
// recognizes and successfully opens it. It returns the dataset and the
// name of the opener that was used.
func Open(path string) (Dataset, string, error) {
	magic, err := readMagic(path)
	if err != nil {
		return nil, "", err
	}
	var errs []error
	for _, o := range Openers() {
		if !o.Sniff(magic) {
			continue
		}
		d, err := o.Open(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Name, err))
			continue
		}
		return d, o.Name, nil
	}
	if len(errs) > 0 {
		return nil, "", fmt.Errorf("granule: opening %s: %w", path, errors.Join(errs...))
	}
	if isHDF5(magic) {
		return nil, "", ErrNetCDF4
	}
	return nil, "", ErrUnrecognized
}

func readMagic(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	magic := make([]byte, magicLen)
	n, err := io.ReadFull(f, magic)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return magic[:n], nil
}

func isClassic(magic []byte) bool {
	return bytes.HasPrefix(magic, magicCDF1) || bytes.HasPrefix(magic, magicCDF2)
}

func isGzip(magic []byte) bool { return bytes.HasPrefix(magic, magicGzip) }

func isHDF5(magic []byte) bool { return bytes.HasPrefix(magic, magicHDF5) }

// shapeSize returns the number of elements in an array of the given shape.
func shapeSize(shape []int) int {
	n := 1
	for _, l := range shape {
		n *= l
	}
	return n
}
