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

// Command hycom downloads HYCOM ocean current data.
package main

import (
	"fmt"
	"os"

	"github.com/spatialmodel/hycom/hycomutil"
)

func main() {
	if err := hycomutil.Root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
