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
	"fmt"
	"strings"
)

// ConfigurationError lists the problems found in a Config.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "hycom: invalid configuration: " + strings.Join(e.Problems, "; ")
}

// FailureReason classifies a failed fetch.
type FailureReason int

// Fetch failure reasons.
const (
	Timeout FailureReason = iota + 1
	NetworkError
	ServerError
	EmptyBody
	Invalid
	Canceled
	StorageFailure
)

func (r FailureReason) String() string {
	switch r {
	case Timeout:
		return "Timeout"
	case NetworkError:
		return "NetworkError"
	case ServerError:
		return "ServerError"
	case EmptyBody:
		return "EmptyBody"
	case Invalid:
		return "Invalid"
	case Canceled:
		return "Canceled"
	case StorageFailure:
		return "StorageFailure"
	}
	return fmt.Sprintf("FailureReason(%d)", int(r))
}

// MarshalText implements encoding.TextMarshaler.
func (r FailureReason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// ValidationKind classifies a ValidationError.
type ValidationKind int

// Validation error kinds.
const (
	NotFound ValidationKind = iota + 1
	Empty
	UnreadableContainer
	MissingVariable
	NoTimeAxis
)

func (k ValidationKind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case Empty:
		return "Empty"
	case UnreadableContainer:
		return "UnreadableContainer"
	case MissingVariable:
		return "MissingVariable"
	case NoTimeAxis:
		return "NoTimeAxis"
	}
	return fmt.Sprintf("ValidationKind(%d)", int(k))
}

// ValidationError is returned by Validate.
type ValidationError struct {
	Kind   ValidationKind
	Path   string
	Detail string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("hycom: validating %s: %v", e.Path, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// MergeKind classifies a MergeError.
type MergeKind int

// Merge error kinds.
const (
	EmptyMonth MergeKind = iota + 1
	GridMismatch
)

func (k MergeKind) String() string {
	switch k {
	case EmptyMonth:
		return "EmptyMonth"
	case GridMismatch:
		return "GridMismatch"
	}
	return fmt.Sprintf("MergeKind(%d)", int(k))
}

// MergeError is returned by Combine.
type MergeError struct {
	Kind   MergeKind
	Month  Month
	Detail string
}

func (e *MergeError) Error() string {
	msg := fmt.Sprintf("hycom: combining %v: %v", e.Month, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// PackagingError is returned when an archive cannot be written.
type PackagingError struct {
	Path string
	Err  error
}

func (e *PackagingError) Error() string {
	return fmt.Sprintf("hycom: packaging %s: %v", e.Path, e.Err)
}

func (e *PackagingError) Unwrap() error { return e.Err }

// StorageError is an unrecoverable error writing to the workspace or
// output directory. It ends the run.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("hycom: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
