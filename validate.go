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
	"os"
	"strings"

	"github.com/spatialmodel/hycom/granule"
)

// TimeName is the name of the time dimension and coordinate variable.
const TimeName = "time"

// ValidationInfo describes a file that passed validation.
type ValidationInfo struct {
	// Opener is the name of the granule backend that read the file.
	Opener string

	Size       int64
	Variables  []string
	TimeLength int

	// Shapes holds the shape of each requested variable.
	Shapes map[string][]int
}

// Validate checks that the file at path is a readable gridded file that
// contains the requested variables on a non-empty time axis. Only the
// file header is read. Errors are of type *ValidationError.
func Validate(path string, vars []string) (ValidationInfo, error) {
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ValidationInfo{}, &ValidationError{Kind: NotFound, Path: path}
	} else if err != nil {
		return ValidationInfo{}, &ValidationError{Kind: UnreadableContainer, Path: path, Err: err}
	}
	if fi.IsDir() {
		return ValidationInfo{}, &ValidationError{Kind: UnreadableContainer, Path: path, Detail: "is a directory"}
	}
	if fi.Size() == 0 {
		return ValidationInfo{}, &ValidationError{Kind: Empty, Path: path}
	}

	d, opener, err := granule.Open(path)
	if err != nil {
		return ValidationInfo{}, &ValidationError{Kind: UnreadableContainer, Path: path, Err: err}
	}
	defer d.Close()

	info := ValidationInfo{
		Opener:    opener,
		Size:      fi.Size(),
		Variables: d.Variables(),
		Shapes:    make(map[string][]int),
	}
	declared := make(map[string]bool)
	for _, v := range info.Variables {
		declared[v] = true
	}
	var missing []string
	for _, v := range vars {
		if !declared[v] {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		return info, &ValidationError{Kind: MissingVariable, Path: path, Detail: strings.Join(missing, ", ")}
	}

	n, ok := d.Dimension(TimeName)
	if !ok || !declared[TimeName] {
		return info, &ValidationError{Kind: NoTimeAxis, Path: path, Detail: "no time dimension"}
	}
	if n == 0 {
		return info, &ValidationError{Kind: NoTimeAxis, Path: path, Detail: "time dimension is empty"}
	}
	info.TimeLength = n
	for _, v := range vars {
		dims := d.Dimensions(v)
		if len(dims) == 0 || dims[0] != TimeName {
			return info, &ValidationError{Kind: NoTimeAxis, Path: path, Detail: "variable " + v + " is not indexed by time"}
		}
		info.Shapes[v] = d.Shape(v)
	}
	return info, nil
}
