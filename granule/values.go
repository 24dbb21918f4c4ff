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

import "fmt"

// Len returns the number of elements in vals.
func Len(vals interface{}) int {
	switch v := vals.(type) {
	case []uint8:
		return len(v)
	case string:
		return len(v)
	case []int16:
		return len(v)
	case []int32:
		return len(v)
	case []float32:
		return len(v)
	case []float64:
		return len(v)
	}
	return 0
}

// Concat appends b to a. Both must hold the same type.
func Concat(a, b interface{}) interface{} {
	switch v := a.(type) {
	case []uint8:
		return append(v, b.([]uint8)...)
	case string:
		return v + b.(string)
	case []int16:
		return append(v, b.([]int16)...)
	case []int32:
		return append(v, b.([]int32)...)
	case []float32:
		return append(v, b.([]float32)...)
	case []float64:
		return append(v, b.([]float64)...)
	}
	panic(fmt.Errorf("granule: invalid value type %T", a))
}

// Float64s converts numeric values to float64.
func Float64s(vals interface{}) ([]float64, error) {
	var out []float64
	switch v := vals.(type) {
	case []uint8:
		out = make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
	case []int16:
		out = make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
	case []int32:
		out = make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
	case []float32:
		out = make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
	case []float64:
		out = make([]float64, len(v))
		copy(out, v)
	default:
		return nil, fmt.Errorf("granule: cannot convert %T to float64", vals)
	}
	return out, nil
}

// String returns the text of a character attribute, and false if a is not
// a character attribute.
func String(a interface{}) (string, bool) {
	switch v := a.(type) {
	case string:
		return v, true
	case []uint8:
		return string(v), true
	}
	return "", false
}

// ValidAttribute reports whether val can be stored as an attribute.
func ValidAttribute(val interface{}) bool {
	switch val.(type) {
	case []uint8, string, []int16, []int32, []float32, []float64:
		return true
	}
	return false
}
