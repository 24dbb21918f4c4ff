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
package granule

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/gzip"
)

const (
	// headerChunk is the first amount inflated when looking for the
	// classic header. It doubles until the header parses.
	headerChunk = 64 << 10

	// headerLimit is the largest inflated prefix searched for a header.
	headerLimit = 64 << 20

	// numRecsOffset is the position of the big-endian record count in a
	// classic header.
	numRecsOffset = 4
)

// gzipped is a gzip-compressed classic file. Some THREDDS servers gzip
// responses at the transport level and leave the encoding on disk.
//
// Opening inflates only enough of the stream to parse the header, so
// damage to the data region does not prevent the file from being opened.
// The payload is inflated to a temporary file next to the granule on the
// first data read and removed by Close.
type gzipped struct {
	*classic // header view

	path string

	mu   sync.Mutex
	data *classic
	tmp  string
}

func openGzip(path string) (Dataset, error) {
	hdr, prefix, whole, err := gzipHeader(path)
	if err != nil {
		return nil, err
	}
	g := &gzipped{classic: hdr, path: path}
	if whole {
		// The payload was small enough to inflate completely.
		g.data = hdr
		return g, nil
	}
	if n := int32(binary.BigEndian.Uint32(prefix[numRecsOffset:])); n >= 0 {
		hdr.recs = int64(n)
		return g, nil
	}
	// Streaming file: the record count is only known from the
	// inflated size.
	data, err := g.inflate()
	if err != nil {
		return nil, err
	}
	hdr.recs = int64(data.numRecs())
	return g, nil
}

// gzipHeader parses the classic header from the start of the gzip stream
// at path. whole reports whether the returned prefix is the complete,
// checksummed payload.
func gzipHeader(path string) (hdr *classic, prefix []byte, whole bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, false, err
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, nil, false, err
	}
	defer zr.Close()

	var streamErr error
	for want := headerChunk; ; want *= 2 {
		if streamErr == nil && !whole {
			buf := make([]byte, want)
			copy(buf, prefix)
			n, rerr := io.ReadFull(zr, buf[len(prefix):])
			prefix = buf[:len(prefix)+n]
			switch {
			case rerr == io.EOF || rerr == io.ErrUnexpectedEOF:
				whole = true
			case rerr != nil:
				// Damage past the header only matters once data is read.
				streamErr = rerr
			}
		}
		if len(prefix) < magicLen || !isClassic(prefix) {
			if streamErr != nil {
				return nil, nil, false, streamErr
			}
			return nil, nil, false, errors.New("gzip payload is not a netCDF classic file")
		}
		hdr, err = newClassic(readOnlyBytes{bytes.NewReader(prefix)}, int64(len(prefix)), nil)
		if err == nil {
			return hdr, prefix, whole, nil
		}
		if whole || streamErr != nil {
			return nil, nil, false, err
		}
		if want >= headerLimit {
			return nil, nil, false, fmt.Errorf("no classic header in the first %d inflated bytes: %v", len(prefix), err)
		}
	}
}

// inflate decompresses the whole payload into a temporary file and opens
// it. The checksum is verified.
func (g *gzipped) inflate() (*classic, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.data != nil {
		return g.data, nil
	}
	src, err := os.Open(g.path)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	zr, err := gzip.NewReader(src)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	tmp, err := os.CreateTemp(filepath.Dir(g.path), "."+filepath.Base(g.path)+".*.nc")
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*classic, error) {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("inflating %s: %w", g.path, err)
	}
	n, err := io.Copy(tmp, zr)
	if err != nil {
		return fail(err)
	}
	d, err := newClassic(tmp, n, tmp)
	if err != nil {
		return fail(err)
	}
	g.data, g.tmp = d, tmp.Name()
	return d, nil
}

func (g *gzipped) ReadRecord(v string, rec int) (interface{}, error) {
	d, err := g.inflate()
	if err != nil {
		return nil, err
	}
	if rec >= d.numRecs() && rec < g.numRecs() {
		return nil, fmt.Errorf("granule: record %d of variable %s missing from %s", rec, v, g.path)
	}
	return d.ReadRecord(v, rec)
}

func (g *gzipped) Read(v string) (interface{}, error) {
	d, err := g.inflate()
	if err != nil {
		return nil, err
	}
	if d.numRecs() < g.numRecs() {
		return nil, fmt.Errorf("granule: %s holds %d records, header declares %d", g.path, d.numRecs(), g.numRecs())
	}
	return d.Read(v)
}

func (g *gzipped) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.data == nil || g.data == g.classic {
		return nil
	}
	err := g.data.Close()
	if rerr := os.Remove(g.tmp); err == nil {
		err = rerr
	}
	g.data = nil
	return err
}

// readOnlyBytes adapts an in-memory buffer to cdf.ReaderWriterAt.
type readOnlyBytes struct {
	*bytes.Reader
}

func (readOnlyBytes) WriteAt([]byte, int64) (int, error) {
	return 0, errors.New("granule: in-memory dataset is read-only")
}
