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

package hycomutil

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spatialmodel/hycom"
)

// Settings are the options that can be changed through the web
// interface. The names match the command-line options, so a saved file
// can be passed to --config.
type Settings struct {
	WestLon          float64  `json:"west_lon" toml:"west_lon"`
	EastLon          float64  `json:"east_lon" toml:"east_lon"`
	SouthLat         float64  `json:"south_lat" toml:"south_lat"`
	NorthLat         float64  `json:"north_lat" toml:"north_lat"`
	DateStart        string   `json:"date_start" toml:"date_start"`
	DateEnd          string   `json:"date_end" toml:"date_end"`
	Variables        []string `json:"variables" toml:"variables"`
	MaxRetries       int      `json:"max_retries" toml:"max_retries"`
	Timeout          int      `json:"timeout" toml:"timeout"`
	Concurrency      int      `json:"concurrency" toml:"concurrency"`
	RedownloadPasses int      `json:"redownload_passes" toml:"redownload_passes"`
	Overwrite        bool     `json:"overwrite" toml:"overwrite"`
}

// SettingsOf returns the settings of cfg.
func SettingsOf(cfg hycom.Config) Settings {
	return Settings{
		WestLon:          cfg.Bounds.West,
		EastLon:          cfg.Bounds.East,
		SouthLat:         cfg.Bounds.South,
		NorthLat:         cfg.Bounds.North,
		DateStart:        cfg.Start.Format("2006-01-02"),
		DateEnd:          cfg.End.Format("2006-01-02"),
		Variables:        append([]string(nil), cfg.Variables...),
		MaxRetries:       cfg.MaxRetries,
		Timeout:          int(cfg.Timeout / time.Second),
		Concurrency:      cfg.Concurrency,
		RedownloadPasses: cfg.RedownloadPasses,
		Overwrite:        cfg.Overwrite,
	}
}

// Apply returns cfg updated with s. The result is validated.
func (s Settings) Apply(cfg hycom.Config) (hycom.Config, error) {
	var problems []string
	start, err := hycom.ParseDate(s.DateStart)
	if err != nil {
		problems = append(problems, err.Error())
	}
	end, err := hycom.ParseDate(s.DateEnd)
	if err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return cfg, &hycom.ConfigurationError{Problems: problems}
	}
	cfg.Bounds = hycom.Bounds{West: s.WestLon, East: s.EastLon, South: s.SouthLat, North: s.NorthLat}
	cfg.Start, cfg.End = start, end
	cfg.Variables = append([]string(nil), s.Variables...)
	cfg.MaxRetries = s.MaxRetries
	cfg.Timeout = time.Duration(s.Timeout) * time.Second
	cfg.Concurrency = s.Concurrency
	cfg.RedownloadPasses = s.RedownloadPasses
	cfg.Overwrite = s.Overwrite
	return cfg, cfg.Validate()
}

// Save writes s to the TOML file at path, replacing it atomically.
// Other options already in the file are kept.
func (s Settings) Save(path string) error {
	doc := make(map[string]interface{})
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &doc); err != nil {
			return fmt.Errorf("hycom: saving settings: %v", err)
		}
	}
	b, err := toml.Marshal(s)
	if err != nil {
		return fmt.Errorf("hycom: saving settings: %v", err)
	}
	if _, err := toml.Decode(string(b), &doc); err != nil {
		return fmt.Errorf("hycom: saving settings: %v", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("hycom: saving settings: %v", err)
	}
	defer os.Remove(tmp.Name())
	if err := toml.NewEncoder(tmp).Encode(doc); err != nil {
		tmp.Close()
		return fmt.Errorf("hycom: saving settings: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("hycom: saving settings: %v", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("hycom: saving settings: %v", err)
	}
	return nil
}

// LoadSettings reads settings saved by Save.
func LoadSettings(path string) (Settings, error) {
	var s Settings
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return s, fmt.Errorf("hycom: loading settings: %v", err)
	}
	return s, nil
}
