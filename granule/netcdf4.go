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

//go:build netcdf4

package granule

import (
	"fmt"

	"github.com/fhs/go-netcdf/netcdf"
)

func init() {
	Register(Opener{Name: "netcdf4", Sniff: isHDF5, Open: openNetCDF4})
}

// Attribute names read from netCDF-4 files. The C library has no
// cheap way to enumerate attributes through these bindings, so only the
// conventional ones are carried over.
var (
	netcdf4VarAttrs    = []string{"units", "long_name", "standard_name", "scale_factor", "add_offset", "_FillValue", "missing_value", "calendar", "axis", "positive", "NAVO_code"}
	netcdf4GlobalAttrs = []string{"Conventions", "institution", "source", "history", "title", "experiment", "time_origin"}
)

// netCDF4 is a netCDF-4 file opened through the netCDF C library.
type netCDF4 struct {
	ds   netcdf.Dataset
	vars []string
}

func openNetCDF4(path string) (Dataset, error) {
	ds, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, err
	}
	n, err := ds.NVars()
	if err != nil {
		ds.Close()
		return nil, err
	}
	d := &netCDF4{ds: ds}
	for i := 0; i < n; i++ {
		name, err := ds.VarN(i).Name()
		if err != nil {
			ds.Close()
			return nil, err
		}
		d.vars = append(d.vars, name)
	}
	return d, nil
}

func (d *netCDF4) Variables() []string { return d.vars }

func (d *netCDF4) dims(v string) ([]netcdf.Dim, error) {
	vv, err := d.ds.Var(v)
	if err != nil {
		return nil, err
	}
	return vv.Dims()
}

func (d *netCDF4) Dimensions(v string) []string {
	dims, err := d.dims(v)
	if err != nil {
		return nil
	}
	names := make([]string, len(dims))
	for i, dim := range dims {
		names[i], _ = dim.Name()
	}
	return names
}

func (d *netCDF4) Shape(v string) []int {
	dims, err := d.dims(v)
	if err != nil {
		return nil
	}
	shape := make([]int, len(dims))
	for i, dim := range dims {
		l, _ := dim.Len()
		shape[i] = int(l)
	}
	return shape
}

func (d *netCDF4) Dimension(name string) (int, bool) {
	dim, err := d.ds.Dim(name)
	if err != nil {
		return 0, false
	}
	l, err := dim.Len()
	if err != nil {
		return 0, false
	}
	return int(l), true
}

func (d *netCDF4) Attributes(v string) []Attribute {
	var out []Attribute
	if v == "" {
		for _, name := range netcdf4GlobalAttrs {
			if val, ok := readNetCDF4Attr(d.ds.Attr(name)); ok {
				out = append(out, Attribute{Name: name, Value: val})
			}
		}
		return out
	}
	vv, err := d.ds.Var(v)
	if err != nil {
		return nil
	}
	for _, name := range netcdf4VarAttrs {
		if val, ok := readNetCDF4Attr(vv.Attr(name)); ok {
			out = append(out, Attribute{Name: name, Value: val})
		}
	}
	return out
}

func readNetCDF4Attr(a netcdf.Attr) (interface{}, bool) {
	n, err := a.Len()
	if err != nil || n == 0 {
		return nil, false
	}
	t, err := a.Type()
	if err != nil {
		return nil, false
	}
	switch t {
	case netcdf.CHAR:
		b := make([]byte, n)
		if a.ReadBytes(b) != nil {
			return nil, false
		}
		return string(b), true
	case netcdf.SHORT:
		b := make([]int16, n)
		if a.ReadInt16s(b) != nil {
			return nil, false
		}
		return b, true
	case netcdf.INT:
		b := make([]int32, n)
		if a.ReadInt32s(b) != nil {
			return nil, false
		}
		return b, true
	case netcdf.FLOAT:
		b := make([]float32, n)
		if a.ReadFloat32s(b) != nil {
			return nil, false
		}
		return b, true
	case netcdf.DOUBLE:
		b := make([]float64, n)
		if a.ReadFloat64s(b) != nil {
			return nil, false
		}
		return b, true
	}
	return nil, false
}

func (d *netCDF4) ZeroValue(v string, n int) interface{} {
	vv, err := d.ds.Var(v)
	if err != nil {
		return nil
	}
	t, err := vv.Type()
	if err != nil {
		return nil
	}
	switch t {
	case netcdf.SHORT:
		return make([]int16, n)
	case netcdf.INT:
		return make([]int32, n)
	case netcdf.FLOAT:
		return make([]float32, n)
	case netcdf.DOUBLE:
		return make([]float64, n)
	}
	return nil
}

func (d *netCDF4) ReadRecord(v string, rec int) (interface{}, error) {
	shape := d.Shape(v)
	if shape == nil {
		return nil, fmt.Errorf("granule: variable %s not in file", v)
	}
	if len(shape) == 0 {
		return nil, fmt.Errorf("granule: variable %s is a scalar", v)
	}
	if rec < 0 || rec >= shape[0] {
		return nil, fmt.Errorf("granule: record %d of variable %s out of range [0, %d)", rec, v, shape[0])
	}
	start := make([]uint64, len(shape))
	count := make([]uint64, len(shape))
	start[0], count[0] = uint64(rec), 1
	for i := 1; i < len(shape); i++ {
		count[i] = uint64(shape[i])
	}
	return d.read(v, shapeSize(shape[1:]), start, count)
}

func (d *netCDF4) Read(v string) (interface{}, error) {
	shape := d.Shape(v)
	if shape == nil {
		return nil, fmt.Errorf("granule: variable %s not in file", v)
	}
	start := make([]uint64, len(shape))
	count := make([]uint64, len(shape))
	for i, l := range shape {
		count[i] = uint64(l)
	}
	return d.read(v, shapeSize(shape), start, count)
}

func (d *netCDF4) read(v string, n int, start, count []uint64) (interface{}, error) {
	vv, err := d.ds.Var(v)
	if err != nil {
		return nil, err
	}
	buf := d.ZeroValue(v, n)
	switch b := buf.(type) {
	case []int16:
		err = vv.ReadInt16Slice(b, start, count)
	case []int32:
		err = vv.ReadInt32Slice(b, start, count)
	case []float32:
		err = vv.ReadFloat32Slice(b, start, count)
	case []float64:
		err = vv.ReadFloat64Slice(b, start, count)
	default:
		return nil, fmt.Errorf("granule: variable %s has an unsupported data type", v)
	}
	if err != nil {
		return nil, fmt.Errorf("granule: reading variable %s: %w", v, err)
	}
	return buf, nil
}

func (d *netCDF4) Close() error { return d.ds.Close() }
