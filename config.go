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
	"strings"
	"time"
)

// DefaultBaseURL is the NetCDF Subset Service endpoint of the
// GLBy0.08 expt_93.0 global HYCOM reanalysis.
const DefaultBaseURL = "https://ncss.hycom.org/thredds/ncss/GLBy0.08/expt_93.0"

// KnownVariables are the variable names served by the default dataset.
var KnownVariables = []string{
	"water_u", "water_v", "water_temp", "salinity", "surf_el",
	"water_u_bottom", "water_v_bottom", "water_temp_bottom", "salinity_bottom",
}

// Bounds is a geographic bounding box in degrees.
type Bounds struct {
	West, East, South, North float64
}

func (b Bounds) String() string {
	return fmt.Sprintf("%g°N to %g°N, %g°E to %g°E", b.South, b.North, b.West, b.East)
}

// Config holds the settings for a download run.
type Config struct {
	Bounds Bounds

	// Start and End are the first and last days to download, inclusive.
	// Only the UTC date is used.
	Start, End time.Time

	Variables []string

	// MaxRetries is the total number of attempts made for each day.
	MaxRetries int

	// Timeout bounds each HTTP attempt.
	Timeout time.Duration

	// ChunkSize is the size in bytes of the buffer used to copy
	// response bodies to disk.
	ChunkSize int

	// Overwrite replaces existing archives. When false, months with an
	// existing archive are skipped.
	Overwrite bool

	// Concurrency is the number of days fetched at once.
	Concurrency int

	// RedownloadPasses is the number of extra passes made over a month's
	// failed days before it is combined.
	RedownloadPasses int

	// BackoffBase is the delay after the first failed attempt. It doubles
	// on each further attempt up to BackoffMax.
	BackoffBase, BackoffMax time.Duration

	// Jitter randomizes backoff delays by up to this fraction.
	Jitter float64

	// BaseURL is the subset service endpoint.
	BaseURL string

	// Accept is the requested container format: "netcdf" or "netcdf4".
	Accept string

	// SnapshotHour is the UTC hour of the daily snapshot requested.
	SnapshotHour int

	OutputDir string
	TempDir   string

	// Prefix starts archive and merged file names.
	Prefix string

	// Publish is an optional bucket URL that finished archives are
	// copied to.
	Publish string
}

// MaxConcurrency is the largest accepted Concurrency.
const MaxConcurrency = 8

// DefaultConfig returns the configuration used when nothing is specified.
func DefaultConfig() Config {
	return Config{
		Bounds:           Bounds{West: 116.5, East: 119, South: -2, North: 0.5},
		Start:            time.Date(2022, time.December, 1, 0, 0, 0, 0, time.UTC),
		End:              time.Date(2022, time.December, 31, 0, 0, 0, 0, time.UTC),
		Variables:        []string{"water_u", "water_v"},
		MaxRetries:       3,
		Timeout:          60 * time.Second,
		ChunkSize:        8192,
		Concurrency:      2,
		RedownloadPasses: 1,
		BackoffBase:      time.Second,
		BackoffMax:       30 * time.Second,
		BaseURL:          DefaultBaseURL,
		Accept:           "netcdf",
		SnapshotHour:     12,
		OutputDir:        "hycom_data",
		TempDir:          "temp_download",
		Prefix:           "HYCOM",
	}
}

// Validate checks c and returns a *ConfigurationError describing every
// problem found, or nil.
func (c *Config) Validate() error {
	var p []string
	add := func(format string, args ...interface{}) {
		p = append(p, fmt.Sprintf(format, args...))
	}
	b := c.Bounds
	if b.West < -180 || b.West > 360 || b.East < -180 || b.East > 360 {
		add("longitude bounds [%g, %g] outside [-180, 360]", b.West, b.East)
	}
	if b.South < -90 || b.North > 90 {
		add("latitude bounds [%g, %g] outside [-90, 90]", b.South, b.North)
	}
	if b.West >= b.East {
		add("west bound %g must be less than east bound %g", b.West, b.East)
	}
	if b.South >= b.North {
		add("south bound %g must be less than north bound %g", b.South, b.North)
	}
	if c.Start.IsZero() || c.End.IsZero() {
		add("start and end dates are required")
	} else if Day(c.Start).After(Day(c.End)) {
		add("start date %s is after end date %s", Day(c.Start).Format(dateLayout), Day(c.End).Format(dateLayout))
	}
	if len(c.Variables) == 0 {
		add("no variables requested")
	}
	seen := make(map[string]bool)
	for _, v := range c.Variables {
		if !knownVariable(v) {
			add("unknown variable %q (valid: %s)", v, strings.Join(KnownVariables, ", "))
		}
		if seen[v] {
			add("variable %q requested twice", v)
		}
		seen[v] = true
	}
	if c.MaxRetries < 1 {
		add("max retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.Timeout <= 0 {
		add("timeout must be positive, got %v", c.Timeout)
	}
	if c.ChunkSize <= 0 {
		add("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.Concurrency < 1 || c.Concurrency > MaxConcurrency {
		add("concurrency must be between 1 and %d, got %d", MaxConcurrency, c.Concurrency)
	}
	if c.RedownloadPasses < 0 {
		add("redownload passes must not be negative, got %d", c.RedownloadPasses)
	}
	if c.BackoffBase < 0 || c.BackoffMax < c.BackoffBase {
		add("backoff delays must satisfy 0 <= base (%v) <= max (%v)", c.BackoffBase, c.BackoffMax)
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		add("jitter must be between 0 and 1, got %g", c.Jitter)
	}
	if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("base URL %q must be an absolute http(s) URL", c.BaseURL)
	}
	if c.Accept != "netcdf" && c.Accept != "netcdf4" {
		add("accept format must be netcdf or netcdf4, got %q", c.Accept)
	}
	if c.SnapshotHour < 0 || c.SnapshotHour > 23 {
		add("snapshot hour must be between 0 and 23, got %d", c.SnapshotHour)
	}
	if c.OutputDir == "" {
		add("output directory is required")
	}
	if c.TempDir == "" {
		add("temporary directory is required")
	}
	if c.Prefix == "" || strings.ContainsAny(c.Prefix, `/\`) {
		add("file prefix %q must be non-empty and contain no path separators", c.Prefix)
	}
	if len(p) > 0 {
		return &ConfigurationError{Problems: p}
	}
	return nil
}

func knownVariable(v string) bool {
	for _, k := range KnownVariables {
		if k == v {
			return true
		}
	}
	return false
}

const dateLayout = "2006-01-02"

// Day truncates t to midnight UTC of its UTC date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("hycom: invalid date %q: %w", s, err)
	}
	return t, nil
}
