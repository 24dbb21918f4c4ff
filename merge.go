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
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/hycom/granule"
)

// MonthBucket collects the outcomes for the days of one month.
type MonthBucket struct {
	Month Month

	// Expected is the number of days planned in the month.
	Expected int

	Artifacts []Artifact
	Failures  []FetchOutcome
}

// Add records an outcome in the bucket.
func (b *MonthBucket) Add(o FetchOutcome) {
	if o.OK() {
		b.Artifacts = append(b.Artifacts, *o.Artifact)
	} else {
		b.Failures = append(b.Failures, o)
	}
}

// Paths returns the paths of the bucket's artifacts.
func (b *MonthBucket) Paths() []string {
	p := make([]string, len(b.Artifacts))
	for i, a := range b.Artifacts {
		p[i] = a.Path
	}
	return p
}

// MergedDataset describes a combined monthly file.
type MergedDataset struct {
	Path      string
	Month     Month
	Variables []string

	// Times holds the time coordinate, strictly increasing.
	Times []float64

	// Contributing is the number of days with at least one record in
	// the output and Expected the number of days planned.
	Contributing, Expected int

	// Dropped lists days whose data could not be read during the merge.
	Dropped []DayError
}

// Aggregator combines the daily files of a month into one file.
type Aggregator struct {
	Variables []string

	// Attributes are added to the global attributes of every output file.
	Attributes []granule.Attribute

	Log logrus.FieldLogger

	now func() time.Time
}

// NewAggregator returns an Aggregator for the variables in cfg.
func NewAggregator(cfg Config, log logrus.FieldLogger) *Aggregator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Aggregator{
		Variables: append([]string(nil), cfg.Variables...),
		Log:       log,
		now:       time.Now,
	}
}

// unreadableFile marks a failure attributable to one input file.
type unreadableFile struct {
	idx int
	err error
}

func (e *unreadableFile) Error() string { return e.err.Error() }

// Combine merges the artifacts in b into a single file at dest. Records
// are ordered by time; when two records share a timestamp the one from the
// earlier calendar day is kept. A file whose data cannot be read is dropped
// from the month and reported in MergedDataset.Dropped. Errors are
// *MergeError for an empty month or mismatched grids, or *StorageError.
func (a *Aggregator) Combine(b MonthBucket, dest string) (MergedDataset, error) {
	log := a.Log.WithField("month", b.Month.String())
	arts := make([]Artifact, len(b.Artifacts))
	copy(arts, b.Artifacts)
	sort.SliceStable(arts, func(i, j int) bool { return arts[i].Date.Before(arts[j].Date) })

	var dropped []DayError
	for {
		if len(arts) == 0 {
			return MergedDataset{Month: b.Month, Expected: b.Expected, Dropped: dropped},
				&MergeError{Kind: EmptyMonth, Month: b.Month}
		}
		md, err := a.combine(arts, b, dest)
		var de *unreadableFile
		if errors.As(err, &de) {
			os.Remove(dest)
			day := arts[de.idx]
			log.WithField("day", day.Date.Format(dateLayout)).Warnf("dropping unreadable file: %v", de.err)
			dropped = append(dropped, DayError{Day: day.Date.Format(dateLayout), Month: b.Month.String(), Kind: "Unreadable", Message: de.err.Error()})
			arts = append(arts[:de.idx:de.idx], arts[de.idx+1:]...)
			continue
		}
		if err != nil {
			os.Remove(dest)
			return MergedDataset{Month: b.Month, Expected: b.Expected, Dropped: dropped}, err
		}
		md.Dropped = dropped
		log.WithFields(logrus.Fields{
			"records":      len(md.Times),
			"contributing": md.Contributing,
			"expected":     md.Expected,
		}).Info("combined month")
		return md, nil
	}
}

// record locates one time step in the inputs.
type record struct {
	src, rec int
	t        float64
}

func (a *Aggregator) combine(arts []Artifact, b MonthBucket, dest string) (MergedDataset, error) {
	ds := make([]granule.Dataset, 0, len(arts))
	defer func() {
		for _, d := range ds {
			d.Close()
		}
	}()
	for i, art := range arts {
		d, _, err := granule.Open(art.Path)
		if err != nil {
			return MergedDataset{}, &unreadableFile{idx: i, err: err}
		}
		ds = append(ds, d)
	}

	coords, err := a.checkGrid(arts, ds, b.Month)
	if err != nil {
		return MergedDataset{}, err
	}

	var recs []record
	for i, d := range ds {
		tv, err := d.Read(TimeName)
		if err != nil {
			return MergedDataset{}, &unreadableFile{idx: i, err: err}
		}
		t, err := granule.Float64s(tv)
		if err != nil {
			return MergedDataset{}, &unreadableFile{idx: i, err: err}
		}
		for r, x := range t {
			recs = append(recs, record{src: i, rec: r, t: x})
		}
	}
	// Records were appended in calendar-day order, so a stable sort keeps
	// the earliest day first among equal timestamps.
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].t < recs[j].t })
	kept := recs[:0:0]
	for _, r := range recs {
		if len(kept) > 0 && kept[len(kept)-1].t == r.t {
			continue
		}
		kept = append(kept, r)
	}

	contributing := make(map[int]bool)
	for _, r := range kept {
		contributing[r.src] = true
	}

	schema := a.schema(ds[0], coords, b, len(contributing))
	w, err := granule.Create(dest, schema)
	if err != nil {
		return MergedDataset{}, &StorageError{Op: "creating", Path: dest, Err: err}
	}
	ok := false
	defer func() {
		if !ok {
			w.Close()
		}
	}()
	for _, c := range coords {
		vals, err := ds[0].Read(c)
		if err != nil {
			return MergedDataset{}, &unreadableFile{idx: 0, err: err}
		}
		if err := w.Write(c, vals); err != nil {
			return MergedDataset{}, &StorageError{Op: "writing", Path: dest, Err: err}
		}
	}
	times := make([]float64, len(kept))
	for k, r := range kept {
		times[k] = r.t
		for _, v := range append([]string{TimeName}, a.Variables...) {
			vals, err := ds[r.src].ReadRecord(v, r.rec)
			if err != nil {
				return MergedDataset{}, &unreadableFile{idx: r.src, err: err}
			}
			if err := w.WriteRecord(v, k, vals); err != nil {
				return MergedDataset{}, &StorageError{Op: "writing", Path: dest, Err: err}
			}
		}
	}
	ok = true
	if err := w.Close(); err != nil {
		return MergedDataset{}, &StorageError{Op: "closing", Path: dest, Err: err}
	}
	return MergedDataset{
		Path:         dest,
		Month:        b.Month,
		Variables:    append([]string(nil), a.Variables...),
		Times:        times,
		Contributing: len(contributing),
		Expected:     b.Expected,
	}, nil
}

// checkGrid verifies that every input has the same layout as the first and
// returns the names of the coordinate variables.
func (a *Aggregator) checkGrid(arts []Artifact, ds []granule.Dataset, m Month) ([]string, error) {
	ref := ds[0]
	mismatch := func(i int, format string, args ...interface{}) error {
		return &MergeError{Kind: GridMismatch, Month: m,
			Detail: fmt.Sprintf("%s: ", arts[i].Date.Format(dateLayout)) + fmt.Sprintf(format, args...)}
	}

	var coords []string
	seen := make(map[string]bool)
	for _, v := range a.Variables {
		dims := ref.Dimensions(v)
		if len(dims) == 0 || dims[0] != TimeName {
			return nil, mismatch(0, "variable %s is not indexed by time", v)
		}
		for _, dim := range dims[1:] {
			if seen[dim] {
				continue
			}
			seen[dim] = true
			if ref.Dimensions(dim) != nil {
				coords = append(coords, dim)
			}
		}
	}

	refUnits := attrText(ref, TimeName, "units")
	refCoords := make([]interface{}, len(coords))
	for j, c := range coords {
		vals, err := ref.Read(c)
		if err != nil {
			return nil, &unreadableFile{idx: 0, err: err}
		}
		refCoords[j] = vals
	}
	for i := 1; i < len(ds); i++ {
		d := ds[i]
		if u := attrText(d, TimeName, "units"); u != refUnits {
			return nil, mismatch(i, "time units %q differ from %q", u, refUnits)
		}
		for _, v := range a.Variables {
			if !reflect.DeepEqual(d.Dimensions(v), ref.Dimensions(v)) {
				return nil, mismatch(i, "variable %s has dimensions %v, want %v", v, d.Dimensions(v), ref.Dimensions(v))
			}
			if !reflect.DeepEqual(d.Shape(v)[1:], ref.Shape(v)[1:]) {
				return nil, mismatch(i, "variable %s has shape %v, want %v", v, d.Shape(v)[1:], ref.Shape(v)[1:])
			}
			if reflect.TypeOf(d.ZeroValue(v, 0)) != reflect.TypeOf(ref.ZeroValue(v, 0)) {
				return nil, mismatch(i, "variable %s has a different data type", v)
			}
		}
		if reflect.TypeOf(d.ZeroValue(TimeName, 0)) != reflect.TypeOf(ref.ZeroValue(TimeName, 0)) {
			return nil, mismatch(i, "time has a different data type")
		}
		for j, c := range coords {
			vals, err := d.Read(c)
			if err != nil {
				return nil, &unreadableFile{idx: i, err: err}
			}
			if !reflect.DeepEqual(vals, refCoords[j]) {
				return nil, mismatch(i, "coordinate %s differs", c)
			}
		}
	}
	return coords, nil
}

// schema lays out the merged file using ref as the template.
func (a *Aggregator) schema(ref granule.Dataset, coords []string, b MonthBucket, contributing int) granule.Schema {
	s := granule.Schema{Dims: []granule.Dim{{Name: TimeName, Len: 0}}}
	for _, c := range coords {
		n, _ := ref.Dimension(c)
		s.Dims = append(s.Dims, granule.Dim{Name: c, Len: n})
	}
	s.Vars = append(s.Vars, granule.Var{
		Name: TimeName, Dims: []string{TimeName},
		Type: ref.ZeroValue(TimeName, 0), Attributes: ref.Attributes(TimeName),
	})
	for _, c := range coords {
		s.Vars = append(s.Vars, granule.Var{
			Name: c, Dims: ref.Dimensions(c),
			Type: ref.ZeroValue(c, 0), Attributes: ref.Attributes(c),
		})
	}
	for _, v := range a.Variables {
		s.Vars = append(s.Vars, granule.Var{
			Name: v, Dims: ref.Dimensions(v),
			Type: ref.ZeroValue(v, 0), Attributes: ref.Attributes(v),
		})
	}
	now := time.Now
	if a.now != nil {
		now = a.now
	}
	s.Attributes = []granule.Attribute{
		{Name: "created", Value: now().UTC().Format(time.RFC3339)},
		{Name: "source", Value: "HYCOM"},
		{Name: "hycom_version", Value: Version},
		{Name: "variables", Value: strings.Join(a.Variables, ",")},
		{Name: "days_contributing", Value: []int32{int32(contributing)}},
		{Name: "days_expected", Value: []int32{int32(b.Expected)}},
	}
	s.Attributes = append(s.Attributes, a.Attributes...)
	s.Attributes = append(s.Attributes, ref.Attributes("")...)
	return s
}

func attrText(d granule.Dataset, v, name string) string {
	for _, a := range d.Attributes(v) {
		if a.Name == name {
			s, _ := granule.String(a.Value)
			return s
		}
	}
	return ""
}
