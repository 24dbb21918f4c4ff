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

// Dim is a dimension of a file being written. A Len of zero marks the
// unlimited (record) dimension.
type Dim struct {
	Name string
	Len  int
}

// Var is a variable of a file being written. Type is a value of the
// storage type, e.g. []float32{}.
type Var struct {
	Name       string
	Dims       []string
	Type       interface{}
	Attributes []Attribute
}

// Schema describes the layout of a netCDF classic file.
type Schema struct {
	Dims       []Dim
	Vars       []Var
	Attributes []Attribute
}

// Writer writes a netCDF classic file.
type Writer struct {
	path    string
	f       *os.File
	c       *cdf.File
	records int
}

// header builds a cdf header from s. Attributes with unsupported value types
// and repeated attributes are skipped.
func (s Schema) header() (h *cdf.Header, err error) {
	// cdf reports layout errors by panicking.
	defer func() {
		if r := recover(); r != nil {
			h, err = nil, fmt.Errorf("granule: invalid schema: %v", r)
		}
	}()
	names := make([]string, len(s.Dims))
	lengths := make([]int, len(s.Dims))
	for i, d := range s.Dims {
		names[i], lengths[i] = d.Name, d.Len
	}
	h = cdf.NewHeader(names, lengths)
	addAttrs := func(v string, attrs []Attribute) {
		seen := make(map[string]bool)
		for _, a := range attrs {
			if seen[a.Name] || !ValidAttribute(a.Value) {
				continue
			}
			seen[a.Name] = true
			h.AddAttribute(v, a.Name, a.Value)
		}
	}
	addAttrs("", s.Attributes)
	for _, v := range s.Vars {
		h.AddVariable(v.Name, v.Dims, v.Type)
		addAttrs(v.Name, v.Attributes)
	}
	h.Define()
	if errs := h.Check(); len(errs) > 0 {
		return nil, fmt.Errorf("granule: invalid schema: %v", errs[0])
	}
	return h, nil
}

// Create creates a new file at path with the layout in s, overwriting
// any existing file.
func Create(path string, s Schema) (*Writer, error) {
	h, err := s.header()
	if err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("granule: creating %s: %w", path, err)
	}
	c, err := cdf.Create(f, h)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("granule: writing header to %s: %w", path, err)
	}
	return &Writer{path: path, f: f, c: c}, nil
}

// Write writes all values of the non-record variable v.
func (w *Writer) Write(v string, vals interface{}) error {
	shape := w.c.Header.Lengths(v)
	if shape == nil {
		return fmt.Errorf("granule: variable %s not in %s", v, w.path)
	}
	if w.c.Header.IsRecordVariable(v) {
		return fmt.Errorf("granule: variable %s is a record variable", v)
	}
	if n := shapeSize(shape); Len(vals) != n {
		return fmt.Errorf("granule: variable %s: have %d values, want %d", v, Len(vals), n)
	}
	begin, end := make([]int, len(shape)), make([]int, len(shape))
	if len(shape) > 0 {
		end[0] = shape[0]
	}
	return w.write(v, begin, end, vals)
}

// WriteRecord writes record rec of record variable v.
func (w *Writer) WriteRecord(v string, rec int, vals interface{}) error {
	shape := w.c.Header.Lengths(v)
	if shape == nil {
		return fmt.Errorf("granule: variable %s not in %s", v, w.path)
	}
	if !w.c.Header.IsRecordVariable(v) {
		return fmt.Errorf("granule: variable %s is not a record variable", v)
	}
	if n := shapeSize(shape[1:]); Len(vals) != n {
		return fmt.Errorf("granule: variable %s record %d: have %d values, want %d", v, rec, Len(vals), n)
	}
	begin, end := make([]int, len(shape)), make([]int, len(shape))
	begin[0], end[0] = rec, rec+1
	if err := w.write(v, begin, end, vals); err != nil {
		return err
	}
	if rec+1 > w.records {
		w.records = rec + 1
	}
	return nil
}

func (w *Writer) write(v string, begin, end []int, vals interface{}) error {
	wr := w.c.Writer(v, begin, end)
	// The strider reports io.EOF when the last byte lands on its end offset.
	if _, err := wr.Write(vals); err != nil && err != io.EOF {
		return fmt.Errorf("granule: writing variable %s to %s: %w", v, w.path, err)
	}
	return nil
}

// Close finalizes the record count and closes the file.
func (w *Writer) Close() error {
	if err := w.padRecords(); err != nil {
		w.f.Close()
		return err
	}
	if err := cdf.UpdateNumRecs(w.f); err != nil {
		w.f.Close()
		return fmt.Errorf("granule: updating record count of %s: %w", w.path, err)
	}
	return w.f.Close()
}

// padRecords extends the file so that the last record slab is complete.
func (w *Writer) padRecords() error {
	if w.records == 0 {
		return nil
	}
	fi, err := w.f.Stat()
	if err != nil {
		return err
	}
	size := fi.Size()
	for i := 0; i < 8 && w.c.Header.NumRecs(size) < int64(w.records); i++ {
		size++
	}
	if size == fi.Size() {
		return nil
	}
	return w.f.Truncate(size)
}
