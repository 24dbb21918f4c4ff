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
	"net/url"
	"path/filepath"
	"strconv"
	"time"
)

// Month is a calendar month.
type Month struct {
	Year  int
	Month time.Month
}

// MonthOf returns the month containing t (in UTC).
func MonthOf(t time.Time) Month {
	y, m, _ := t.UTC().Date()
	return Month{Year: y, Month: m}
}

func (m Month) String() string { return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month)) }

// Stamp returns the month formatted as YYYYMM.
func (m Month) Stamp() string { return fmt.Sprintf("%04d%02d", m.Year, int(m.Month)) }

// First returns midnight UTC on the first day of m.
func (m Month) First() time.Time { return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC) }

// Last returns midnight UTC on the last day of m.
func (m Month) Last() time.Time { return m.First().AddDate(0, 1, -1) }

// MarshalText implements encoding.TextMarshaler.
func (m Month) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// FetchDescriptor describes the request for one day. It is not modified
// after the planner creates it.
type FetchDescriptor struct {
	Date      time.Time
	Bounds    Bounds
	Variables []string

	// URL is the complete subset service query.
	URL string

	// Dest is where the downloaded file is stored.
	Dest string
}

// MonthPlan is the part of the date range that falls in one month.
type MonthPlan struct {
	Month Month

	// First and Last are the first and last planned days in the month,
	// after capping at the ends of the date range.
	First, Last time.Time
}

// Len returns the number of planned days in the month.
func (mp MonthPlan) Len() int { return daysBetween(mp.First, mp.Last) + 1 }

// Days returns the planned days in ascending order.
func (mp MonthPlan) Days() []time.Time {
	d := make([]time.Time, mp.Len())
	for i := range d {
		d[i] = mp.First.AddDate(0, 0, i)
	}
	return d
}

// Planner produces a FetchDescriptor for every day in a configured range.
type Planner struct {
	cfg        Config
	dir        string
	start, end time.Time
	next       time.Time
}

// NewPlanner returns a planner for cfg. Downloaded files will be
// stored in dir.
func NewPlanner(cfg Config, dir string) (*Planner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Planner{
		cfg:   cfg,
		dir:   dir,
		start: Day(cfg.Start),
		end:   Day(cfg.End),
	}
	p.cfg.Variables = append([]string(nil), cfg.Variables...)
	p.Reset()
	return p, nil
}

// Len returns the number of days in the range.
func (p *Planner) Len() int { return daysBetween(p.start, p.end) + 1 }

// Reset restarts the sequence returned by Next.
func (p *Planner) Reset() { p.next = p.start }

// Next returns the descriptor for the next day in the range, or false
// once the range is exhausted.
func (p *Planner) Next() (FetchDescriptor, bool) {
	if p.next.After(p.end) {
		return FetchDescriptor{}, false
	}
	d := p.Descriptor(p.next)
	p.next = p.next.AddDate(0, 0, 1)
	return d, true
}

// Months splits the range into calendar months in ascending order.
// The first and last months are capped at the ends of the range.
func (p *Planner) Months() []MonthPlan {
	var out []MonthPlan
	for m := MonthOf(p.start); !m.First().After(p.end); m = MonthOf(m.First().AddDate(0, 1, 0)) {
		mp := MonthPlan{Month: m, First: m.First(), Last: m.Last()}
		if mp.First.Before(p.start) {
			mp.First = p.start
		}
		if mp.Last.After(p.end) {
			mp.Last = p.end
		}
		out = append(out, mp)
	}
	return out
}

// Descriptor returns the descriptor for the given day.
func (p *Planner) Descriptor(day time.Time) FetchDescriptor {
	day = Day(day)
	return FetchDescriptor{
		Date:      day,
		Bounds:    p.cfg.Bounds,
		Variables: append([]string(nil), p.cfg.Variables...),
		URL:       p.query(day),
		Dest:      filepath.Join(p.dir, fmt.Sprintf("hycom_%s.nc", day.Format("20060102"))),
	}
}

// query builds the subset service request for one day.
func (p *Planner) query(day time.Time) string {
	b := p.cfg.Bounds
	f := func(x float64) string { return strconv.FormatFloat(x, 'f', -1, 64) }
	snapshot := day.Add(time.Duration(p.cfg.SnapshotHour) * time.Hour).Format("2006-01-02T15:04:05Z")
	q := url.Values{}
	for _, v := range p.cfg.Variables {
		q.Add("var", v)
	}
	q.Set("north", f(b.North))
	q.Set("west", f(b.West))
	q.Set("east", f(b.East))
	q.Set("south", f(b.South))
	q.Set("disableProjSubset", "on")
	q.Set("horizStride", "1")
	q.Set("time_start", snapshot)
	q.Set("time_end", snapshot)
	q.Set("timeStride", "1")
	q.Set("addLatLon", "true")
	q.Set("accept", p.cfg.Accept)
	return p.cfg.BaseURL + "?" + q.Encode()
}

func daysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}
