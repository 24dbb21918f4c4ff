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
	"errors"
	"strings"
	"testing"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestConfigValidateAggregates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bounds.West, cfg.Bounds.East = 120, 119
	cfg.MaxRetries = 0
	cfg.Variables = []string{"water_u", "vorticity", "water_u"}
	cfg.Concurrency = MaxConcurrency + 1
	cfg.Accept = "csv"
	err := cfg.Validate()
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("error %v is not a *ConfigurationError", err)
	}
	want := []string{"west bound", "max retries", `"vorticity"`, "requested twice", "concurrency", "accept"}
	if len(ce.Problems) != len(want) {
		t.Errorf("have %d problems, want %d: %v", len(ce.Problems), len(want), ce.Problems)
	}
	msg := ce.Error()
	for _, w := range want {
		if !strings.Contains(msg, w) {
			t.Errorf("error does not mention %q: %s", w, msg)
		}
	}
}

func TestConfigValidateDates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Start = cfg.End.AddDate(0, 0, 1)
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "after end date") {
		t.Errorf("err = %v", err)
	}
	cfg = DefaultConfig()
	cfg.Start = cfg.End
	if err := cfg.Validate(); err != nil {
		t.Errorf("single day: %v", err)
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2022-12-31")
	if err != nil {
		t.Fatal(err)
	}
	if !d.Equal(date(2022, 12, 31)) {
		t.Errorf("have %v", d)
	}
	if _, err := ParseDate("12/31/2022"); err == nil {
		t.Error("expected an error")
	}
}
