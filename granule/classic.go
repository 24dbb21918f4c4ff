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
	"fmt"
	"io"
	"os"

	"github.com/ctessum/cdf"
)

// classic is a netCDF classic (CDF-1 or CDF-2) file.
type classic struct {
	f      *cdf.File
	size   int64
	closer io.Closer

	// recs overrides the record count computed from size when >= 0.
	recs int64
}

func openClassic(path string) (Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	d, err := newClassic(f, fi.Size(), f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return d, nil
}

// newClassic reads the header from rw. size is the total size of the
// underlying storage and is used to count records.
func newClassic(rw cdf.ReaderWriterAt, size int64, closer io.Closer) (d *classic, err error) {
	// The header parser panics on some malformed input.
	defer func() {
		if r := recover(); r != nil {
			d, err = nil, fmt.Errorf("malformed header: %v", r)
		}
	}()
	f, err := cdf.Open(rw)
	if err != nil {
		return nil, err
	}
	if errs := f.Header.Check(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid header: %v", errs[0])
	}
	return &classic{f: f, size: size, closer: closer, recs: -1}, nil
}

func (c *classic) Variables() []string { return c.f.Header.Variables() }

func (c *classic) Dimensions(v string) []string {
	if v == "" {
		return nil
	}
	return c.f.Header.Dimensions(v)
}

func (c *classic) numRecs() int {
	if c.recs >= 0 {
		return int(c.recs)
	}
	return int(c.f.Header.NumRecs(c.size))
}

func (c *classic) Shape(v string) []int {
	if v == "" {
		return nil
	}
	l := c.f.Header.Lengths(v)
	if l == nil {
		return nil
	}
	shape := make([]int, len(l))
	copy(shape, l)
	if c.f.Header.IsRecordVariable(v) {
		shape[0] = c.numRecs()
	}
	return shape
}

func (c *classic) Dimension(name string) (int, bool) {
	dims := c.f.Header.Dimensions("")
	lengths := c.f.Header.Lengths("")
	for i, d := range dims {
		if d != name {
			continue
		}
		if lengths[i] == 0 {
			return c.numRecs(), true
		}
		return lengths[i], true
	}
	return 0, false
}

func (c *classic) Attributes(v string) []Attribute {
	names := c.f.Header.Attributes(v)
	a := make([]Attribute, len(names))
	for i, n := range names {
		a[i] = Attribute{Name: n, Value: c.f.Header.GetAttribute(v, n)}
	}
	return a
}

func (c *classic) ZeroValue(v string, n int) interface{} {
	return c.f.Header.ZeroValue(v, n)
}

func (c *classic) ReadRecord(v string, rec int) (interface{}, error) {
	shape := c.Shape(v)
	if shape == nil {
		return nil, fmt.Errorf("granule: variable %s not in file", v)
	}
	if len(shape) == 0 {
		return nil, fmt.Errorf("granule: variable %s is a scalar", v)
	}
	if rec < 0 || rec >= shape[0] {
		return nil, fmt.Errorf("granule: record %d of variable %s out of range [0, %d)", rec, v, shape[0])
	}
	nread := shapeSize(shape[1:])
	start, end := make([]int, len(shape)), make([]int, len(shape))
	start[0], end[0] = rec, rec+1
	r := c.f.Reader(v, start, end)
	buf := r.Zero(nread)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("granule: reading record %d of variable %s: %w", rec, v, err)
	}
	return buf, nil
}

func (c *classic) Read(v string) (interface{}, error) {
	shape := c.Shape(v)
	if shape == nil {
		return nil, fmt.Errorf("granule: variable %s not in file", v)
	}
	if c.f.Header.IsRecordVariable(v) {
		out := c.ZeroValue(v, 0)
		for rec := 0; rec < shape[0]; rec++ {
			buf, err := c.ReadRecord(v, rec)
			if err != nil {
				return nil, err
			}
			out = Concat(out, buf)
		}
		return out, nil
	}
	if shapeSize(shape) == 0 {
		return c.ZeroValue(v, 0), nil
	}
	r := c.f.Reader(v, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("granule: reading variable %s: %w", v, err)
	}
	return buf, nil
}

func (c *classic) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}
