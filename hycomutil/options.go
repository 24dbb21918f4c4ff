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

// Package hycomutil holds the command-line and web interfaces to the
// hycom download pipeline.
package hycomutil

import (
	"fmt"
	"strings"
	"time"

	"github.com/spatialmodel/hycom"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

type option struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

var options []option

func init() {
	def := hycom.DefaultConfig()
	options = []option{
		{
			name: "config",
			usage: `
              config specifies the configuration file location. TOML, YAML
              and JSON files are accepted. The web server saves configuration
              changes to this file.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "west_lon",
			usage: `
              west_lon is the western edge of the requested region in degrees
              longitude.`,
			defaultVal: def.Bounds.West,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "east_lon",
			usage:      "\n              east_lon is the eastern edge of the requested region.",
			defaultVal: def.Bounds.East,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "south_lat",
			usage:      "\n              south_lat is the southern edge of the requested region.",
			defaultVal: def.Bounds.South,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "north_lat",
			usage:      "\n              north_lat is the northern edge of the requested region.",
			defaultVal: def.Bounds.North,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "date_start",
			usage: `
              date_start is the first day to download, in the format
              YYYY-MM-DD.`,
			defaultVal: def.Start.Format("2006-01-02"),
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "date_end",
			usage: `
              date_end is the last day to download (inclusive), in the format
              YYYY-MM-DD.`,
			defaultVal: def.End.Format("2006-01-02"),
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "variables",
			usage: `
              variables lists the variables to download. Valid names are
              ` + strings.Join(hycom.KnownVariables, ", ") + `.`,
			shorthand:  "v",
			defaultVal: def.Variables,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "max_retries",
			usage: `
              max_retries is the number of attempts made to download each
              day before it is recorded as failed.`,
			defaultVal: def.MaxRetries,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "timeout",
			usage:      "\n              timeout is the time limit in seconds for each download attempt.",
			defaultVal: int(def.Timeout / time.Second),
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "chunk_size",
			usage: `
              chunk_size is the size in bytes of the buffer used to write
              downloads to disk.`,
			defaultVal: def.ChunkSize,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "concurrency",
			usage: `
              concurrency is the number of days downloaded at the same time.
              It must be between 1 and ` + fmt.Sprint(hycom.MaxConcurrency) + `.`,
			shorthand:  "j",
			defaultVal: def.Concurrency,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "redownload_passes",
			usage: `
              redownload_passes is the number of times the failed days of a
              month are retried before the month is combined.`,
			defaultVal: def.RedownloadPasses,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "overwrite",
			usage: `
              overwrite specifies whether existing monthly archives are
              replaced. If false, months that already have an archive are
              skipped.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "backoff_base",
			usage: `
              backoff_base is the wait after the first failed attempt, for
              example "1s". It doubles after each further failure.`,
			defaultVal: def.BackoffBase.String(),
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "backoff_max",
			usage:      "\n              backoff_max is the longest wait between attempts.",
			defaultVal: def.BackoffMax.String(),
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "jitter",
			usage: `
              jitter randomizes the wait between attempts by up to this
              fraction.`,
			defaultVal: def.Jitter,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "base_url",
			usage:      "\n              base_url is the address of the NetCDF Subset Service.",
			defaultVal: def.BaseURL,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "accept",
			usage: `
              accept is the file format requested from the server: "netcdf"
              or "netcdf4". Reading netcdf4 files requires a build with the
              netcdf4 tag.`,
			defaultVal: def.Accept,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "snapshot_hour",
			usage:      "\n              snapshot_hour is the hour (UTC) of the daily snapshot.",
			defaultVal: def.SnapshotHour,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "output_dir",
			usage:      "\n              output_dir is where the monthly archives are saved.",
			shorthand:  "o",
			defaultVal: def.OutputDir,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "temp_dir",
			usage: `
              temp_dir holds daily files while a run is in progress. It is
              cleaned up when the run ends.`,
			defaultVal: def.TempDir,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "prefix",
			usage:      "\n              prefix starts the names of the archives.",
			defaultVal: def.Prefix,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "publish",
			usage: `
              publish is an optional bucket that new archives are copied to,
              in the format provider://name/prefix. Providers are mem, file,
              gs and s3.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "log_file",
			usage: `
              log_file is a file that log messages are written to in addition
              to standard error. It is rotated when it grows large. Leave
              empty to disable.`,
			defaultVal: "hycom_download.log",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "verbose",
			usage:      "\n              verbose turns on debug logging.",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name:       "urls",
			usage:      "\n              urls prints the request address of every day.",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{planCmd.Flags()},
		},
		{
			name:       "addr",
			usage:      "\n              addr is the address the web server listens on.",
			defaultVal: "localhost:7171",
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
		{
			name:       "open",
			usage:      "\n              open opens the web interface in a browser.",
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{serveCmd.Flags()},
		},
	}

	Cfg = viper.New()
	Cfg.SetEnvPrefix("HYCOM")
	Cfg.AutomaticEnv()

	for _, option := range options {
		if option.defaultVal == nil {
			panic(fmt.Errorf("missing default value for option %s", option.name))
		}
		Cfg.SetDefault(option.name, option.defaultVal)
		for _, set := range option.flagsets {
			switch option.defaultVal.(type) {
			case string:
				set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
			case []string:
				set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
			case bool:
				set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
			case int:
				set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
			case float64:
				set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("hycom: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// ConfigFromViper builds a download configuration from the options
// in v and validates it.
func ConfigFromViper(v *viper.Viper) (hycom.Config, error) {
	cfg := hycom.DefaultConfig()
	var problems []string
	check := func(name string, err error) {
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", name, err))
		}
	}
	float := func(name string) float64 {
		f, err := cast.ToFloat64E(v.Get(name))
		check(name, err)
		return f
	}
	integer := func(name string) int {
		i, err := cast.ToIntE(v.Get(name))
		check(name, err)
		return i
	}
	boolean := func(name string) bool {
		b, err := cast.ToBoolE(v.Get(name))
		check(name, err)
		return b
	}
	date := func(name string) time.Time {
		d, err := hycom.ParseDate(cast.ToString(v.Get(name)))
		check(name, err)
		return d
	}
	duration := func(name string) time.Duration {
		d, err := cast.ToDurationE(v.Get(name))
		check(name, err)
		return d
	}

	cfg.Bounds = hycom.Bounds{
		West:  float("west_lon"),
		East:  float("east_lon"),
		South: float("south_lat"),
		North: float("north_lat"),
	}
	cfg.Start = date("date_start")
	cfg.End = date("date_end")
	cfg.Variables = splitList(v.Get("variables"))
	cfg.MaxRetries = integer("max_retries")
	cfg.Timeout = time.Duration(integer("timeout")) * time.Second
	cfg.ChunkSize = integer("chunk_size")
	cfg.Concurrency = integer("concurrency")
	cfg.RedownloadPasses = integer("redownload_passes")
	cfg.Overwrite = boolean("overwrite")
	cfg.BackoffBase = duration("backoff_base")
	cfg.BackoffMax = duration("backoff_max")
	cfg.Jitter = float("jitter")
	cfg.BaseURL = cast.ToString(v.Get("base_url"))
	cfg.Accept = cast.ToString(v.Get("accept"))
	cfg.SnapshotHour = integer("snapshot_hour")
	cfg.OutputDir = cast.ToString(v.Get("output_dir"))
	cfg.TempDir = cast.ToString(v.Get("temp_dir"))
	cfg.Prefix = cast.ToString(v.Get("prefix"))
	cfg.Publish = cast.ToString(v.Get("publish"))
	if len(problems) > 0 {
		return cfg, &hycom.ConfigurationError{Problems: problems}
	}
	return cfg, cfg.Validate()
}

// splitList reads a list given either as a slice or as a string
// separated by commas or spaces, as set in an environment variable.
func splitList(v interface{}) []string {
	var out []string
	for _, s := range cast.ToStringSlice(v) {
		for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
			out = append(out, f)
		}
	}
	return out
}
