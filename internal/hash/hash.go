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

// Package hash fingerprints run configurations so that output files can
// be traced back to the settings that produced them.
package hash

import (
	"encoding/gob"
	"fmt"
	"hash/fnv"

	"github.com/davecgh/go-spew/spew"
)

var printer = spew.ConfigState{
	Indent:                  " ",
	SortKeys:                true,
	DisableMethods:          true,
	SpewKeys:                true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// Hash returns a 128-bit FNV-1a fingerprint of object in hexadecimal.
// Equal values without maps give equal fingerprints.
func Hash(object interface{}) string {
	h := fnv.New128a()
	if err := gob.NewEncoder(h).Encode(object); err != nil {
		// gob rejects some values, such as structs without exported
		// fields. Fall back to a printed representation.
		h.Reset()
		printer.Fprintf(h, "%#v", object)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Short returns the first n hexadecimal digits of Hash(object).
func Short(object interface{}, n int) string {
	s := Hash(object)
	if n > 0 && n < len(s) {
		return s[:n]
	}
	return s
}
