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
	"net/url"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestPlannerDays(t *testing.T) {
	cfg := DefaultConfig()
	p, err := NewPlanner(cfg, "work")
	if err != nil {
		t.Fatal(err)
	}
	if p.Len() != 31 {
		t.Fatalf("Len = %d, want 31", p.Len())
	}
	var n int
	prev := time.Time{}
	for {
		d, ok := p.Next()
		if !ok {
			break
		}
		if !d.Date.After(prev) {
			t.Errorf("day %d: %v not after %v", n, d.Date, prev)
		}
		prev = d.Date
		n++
	}
	if n != 31 {
		t.Errorf("Next returned %d days, want 31", n)
	}
	p.Reset()
	d, _ := p.Next()
	if want := filepath.Join("work", "hycom_20221201.nc"); d.Dest != want {
		t.Errorf("Dest = %q, want %q", d.Dest, want)
	}
}

func TestPlannerSingleDay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Start = date(2022, 12, 5)
	cfg.End = cfg.Start.Add(23 * time.Hour)
	p, err := NewPlanner(cfg, "")
	if err != nil {
		t.Fatal(err)
	}
	if p.Len() != 1 {
		t.Errorf("Len = %d, want 1", p.Len())
	}
	if m := p.Months(); len(m) != 1 || m[0].Len() != 1 {
		t.Errorf("Months = %+v", m)
	}
}

func TestPlannerMonths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Start = date(2023, 1, 17)
	cfg.End = date(2023, 3, 10)
	p, err := NewPlanner(cfg, "")
	if err != nil {
		t.Fatal(err)
	}
	months := p.Months()
	type want struct {
		m           string
		first, last time.Time
		n           int
	}
	wants := []want{
		{"2023-01", date(2023, 1, 17), date(2023, 1, 31), 15},
		{"2023-02", date(2023, 2, 1), date(2023, 2, 28), 28},
		{"2023-03", date(2023, 3, 1), date(2023, 3, 10), 10},
	}
	if len(months) != len(wants) {
		t.Fatalf("have %d months, want %d", len(months), len(wants))
	}
	total := 0
	for i, w := range wants {
		mp := months[i]
		if mp.Month.String() != w.m || !mp.First.Equal(w.first) || !mp.Last.Equal(w.last) || mp.Len() != w.n {
			t.Errorf("month %d: have %v %v..%v (%d days), want %+v", i, mp.Month, mp.First, mp.Last, mp.Len(), w)
		}
		if days := mp.Days(); len(days) != w.n {
			t.Errorf("month %d: Days has %d entries", i, len(days))
		}
		total += mp.Len()
	}
	if total != p.Len() {
		t.Errorf("months cover %d days, range has %d", total, p.Len())
	}
}

func TestPlannerQuery(t *testing.T) {
	cfg := DefaultConfig()
	p, err := NewPlanner(cfg, "")
	if err != nil {
		t.Fatal(err)
	}
	d := p.Descriptor(date(2022, 12, 5))
	u, err := url.Parse(d.URL)
	if err != nil {
		t.Fatal(err)
	}
	if base := u.Scheme + "://" + u.Host + u.Path; base != DefaultBaseURL {
		t.Errorf("base = %q", base)
	}
	q := u.Query()
	if !reflect.DeepEqual(q["var"], []string{"water_u", "water_v"}) {
		t.Errorf("var = %v", q["var"])
	}
	for k, v := range map[string]string{
		"north":      "0.5",
		"south":      "-2",
		"west":       "116.5",
		"east":       "119",
		"time_start": "2022-12-05T12:00:00Z",
		"time_end":   "2022-12-05T12:00:00Z",
		"accept":     "netcdf",
		"addLatLon":  "true",
	} {
		if q.Get(k) != v {
			t.Errorf("%s = %q, want %q", k, q.Get(k), v)
		}
	}
}

func TestPlannerDescriptorsIndependent(t *testing.T) {
	cfg := DefaultConfig()
	p, err := NewPlanner(cfg, "")
	if err != nil {
		t.Fatal(err)
	}
	a := p.Descriptor(date(2022, 12, 1))
	a.Variables[0] = "salinity"
	if b := p.Descriptor(date(2022, 12, 1)); b.Variables[0] != "water_u" {
		t.Errorf("descriptors share variable slices")
	}
}

func TestNewPlannerInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Start, cfg.End = cfg.End, cfg.Start
	if _, err := NewPlanner(cfg, ""); err == nil {
		t.Error("expected an error for an inverted range")
	}
}

func TestMonth(t *testing.T) {
	m := MonthOf(time.Date(2024, time.February, 10, 23, 0, 0, 0, time.UTC))
	if m.String() != "2024-02" || m.Stamp() != "202402" {
		t.Errorf("have %s %s", m, m.Stamp())
	}
	if !m.Last().Equal(date(2024, 2, 29)) {
		t.Errorf("Last = %v", m.Last())
	}
}
