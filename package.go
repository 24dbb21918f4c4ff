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
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"
)

// ArchiveStatus tells whether Package wrote an archive.
type ArchiveStatus int

// Archive statuses.
const (
	Packaged ArchiveStatus = iota + 1
	Skipped
)

func (s ArchiveStatus) String() string {
	switch s {
	case Packaged:
		return "Packaged"
	case Skipped:
		return "Skipped"
	}
	return fmt.Sprintf("ArchiveStatus(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s ArchiveStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ArchiveFile is a monthly archive.
type ArchiveFile struct {
	Path   string
	Size   int64
	Month  Month
	Status ArchiveStatus
}

// Packager writes monthly zip archives.
type Packager struct {
	OutputDir string
	Prefix    string
	Overwrite bool

	// Level is the deflate compression level.
	Level int

	Log logrus.FieldLogger
}

// NewPackager returns a Packager configured from cfg.
func NewPackager(cfg Config, log logrus.FieldLogger) *Packager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Packager{
		OutputDir: cfg.OutputDir,
		Prefix:    cfg.Prefix,
		Overwrite: cfg.Overwrite,
		Level:     flate.BestCompression,
		Log:       log,
	}
}

// ArchivePath returns the path of the archive for month m.
func (p *Packager) ArchivePath(m Month) string {
	return filepath.Join(p.OutputDir, fmt.Sprintf("%s_%s.zip", p.Prefix, m.Stamp()))
}

// MergedName returns the name of the combined data file for month m.
func (p *Packager) MergedName(m Month) string {
	return fmt.Sprintf("%s_combined_%s.nc", p.Prefix, m.Stamp())
}

// Exists reports whether the archive for month m exists.
func (p *Packager) Exists(m Month) bool {
	_, err := os.Stat(p.ArchivePath(m))
	return err == nil
}

// Package compresses the merged file into the archive for month m. The
// merged file and the cleanup files are removed whatever the outcome. If
// the archive exists and Overwrite is false, it is left untouched and the
// result has status Skipped. Errors are *StorageError if the output
// directory cannot be written and *PackagingError otherwise.
func (p *Packager) Package(merged string, m Month, cleanup ...string) (ArchiveFile, error) {
	log := p.Log.WithField("month", m.String())
	defer func() {
		for _, f := range append([]string{merged}, cleanup...) {
			if f == "" {
				continue
			}
			if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
				log.Warnf("removing temporary file: %v", err)
			}
		}
	}()

	path := p.ArchivePath(m)
	if !p.Overwrite {
		if fi, err := os.Stat(path); err == nil {
			log.Infof("%s exists; skipping", path)
			return ArchiveFile{Path: path, Size: fi.Size(), Month: m, Status: Skipped}, nil
		}
	}
	if err := os.MkdirAll(p.OutputDir, 0755); err != nil {
		return ArchiveFile{}, &StorageError{Op: "creating output directory", Path: p.OutputDir, Err: err}
	}
	tmp, err := os.CreateTemp(p.OutputDir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return ArchiveFile{}, &StorageError{Op: "writing to output directory", Path: p.OutputDir, Err: err}
	}
	ok := false
	defer func() {
		if !ok {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if err := p.write(tmp, merged, m); err != nil {
		return ArchiveFile{}, &PackagingError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return ArchiveFile{}, &PackagingError{Path: path, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return ArchiveFile{}, &PackagingError{Path: path, Err: err}
	}
	ok = true
	fi, err := os.Stat(path)
	if err != nil {
		return ArchiveFile{}, &PackagingError{Path: path, Err: err}
	}
	log.WithField("bytes", fi.Size()).Infof("created %s", path)
	return ArchiveFile{Path: path, Size: fi.Size(), Month: m, Status: Packaged}, nil
}

func (p *Packager) write(w io.Writer, merged string, m Month) error {
	src, err := os.Open(merged)
	if err != nil {
		return err
	}
	defer src.Close()
	fi, err := src.Stat()
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	level := p.Level
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})
	hdr := &zip.FileHeader{
		Name:     p.MergedName(m),
		Method:   zip.Deflate,
		Modified: fi.ModTime(),
	}
	hdr.SetMode(0644)
	fw, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, src); err != nil {
		return err
	}
	return zw.Close()
}
