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
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testFetcher(t *testing.T, baseURL string) (*Fetcher, *Planner) {
	t.Helper()
	cfg := testConfig(t, baseURL, date(2022, 12, 1), date(2022, 12, 3))
	p, err := NewPlanner(cfg, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewFetcher(cfg, quietLogger(), nil), p
}

func checkNoFiles(t *testing.T, d FetchDescriptor) {
	t.Helper()
	for _, f := range []string{d.Dest, d.Dest + ".part"} {
		if _, err := os.Stat(f); !os.IsNotExist(err) {
			t.Errorf("%s exists after a failed fetch", filepath.Base(f))
		}
	}
}

func TestFetchSuccess(t *testing.T) {
	srv := newSubsetServer(t, nil)
	f, p := testFetcher(t, srv.URL)
	d := p.Descriptor(date(2022, 12, 2))
	o := f.Fetch(context.Background(), d)
	if !o.OK() {
		t.Fatal(o.Failure)
	}
	if o.Artifact.Path != d.Dest || !o.Artifact.Date.Equal(d.Date) {
		t.Errorf("artifact = %+v", o.Artifact)
	}
	fi, err := os.Stat(d.Dest)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() != o.Artifact.Size {
		t.Errorf("size %d, artifact says %d", fi.Size(), o.Artifact.Size)
	}
	if _, err := os.Stat(d.Dest + ".part"); !os.IsNotExist(err) {
		t.Error("partial file left behind")
	}
}

func TestFetchRetries(t *testing.T) {
	// Fail MaxRetries-1 times, then succeed.
	srv := newSubsetServer(t, func(day time.Time, n int) (int, []byte) {
		if n < 3 {
			return http.StatusServiceUnavailable, []byte("busy")
		}
		return http.StatusOK, nil
	})
	f, p := testFetcher(t, srv.URL)
	d := p.Descriptor(date(2022, 12, 1))
	o := f.Fetch(context.Background(), d)
	if !o.OK() {
		t.Fatal(o.Failure)
	}
	if n := srv.count(d.Date); n != 3 {
		t.Errorf("%d requests, want 3", n)
	}
}

func TestFetchGivesUp(t *testing.T) {
	srv := newSubsetServer(t, func(day time.Time, n int) (int, []byte) {
		return http.StatusInternalServerError, []byte("error")
	})
	f, p := testFetcher(t, srv.URL)
	d := p.Descriptor(date(2022, 12, 1))
	o := f.Fetch(context.Background(), d)
	if o.OK() {
		t.Fatal("fetch succeeded")
	}
	if o.Failure.Reason != ServerError || o.Failure.Status != http.StatusInternalServerError {
		t.Errorf("failure = %v", o.Failure)
	}
	if o.Failure.Attempts != 3 || srv.count(d.Date) != 3 {
		t.Errorf("attempts = %d, requests = %d, want 3", o.Failure.Attempts, srv.count(d.Date))
	}
	checkNoFiles(t, d)
}

func TestFetchLastReason(t *testing.T) {
	srv := newSubsetServer(t, func(day time.Time, n int) (int, []byte) {
		if n == 1 {
			return http.StatusBadGateway, nil
		}
		return http.StatusOK, []byte{}
	})
	f, p := testFetcher(t, srv.URL)
	d := p.Descriptor(date(2022, 12, 1))
	o := f.Fetch(context.Background(), d)
	if o.OK() || o.Failure.Reason != EmptyBody {
		t.Fatalf("outcome = %+v", o)
	}
	checkNoFiles(t, d)
}

func TestFetchInvalid(t *testing.T) {
	srv := newSubsetServer(t, func(day time.Time, n int) (int, []byte) {
		return http.StatusOK, []byte("<html>not a data file</html>")
	})
	f, p := testFetcher(t, srv.URL)
	f.MaxRetries = 1
	d := p.Descriptor(date(2022, 12, 1))
	o := f.Fetch(context.Background(), d)
	if o.OK() || o.Failure.Reason != Invalid {
		t.Fatalf("outcome = %+v", o)
	}
	if o.Failure.Attempts != 1 {
		t.Errorf("attempts = %d", o.Failure.Attempts)
	}
	checkNoFiles(t, d)
}

func TestFetchMissingVariable(t *testing.T) {
	srv := newSubsetServer(t, func(day time.Time, n int) (int, []byte) {
		s := daySample(day)
		s.vars = []string{"water_u"}
		return http.StatusOK, sampleBytes(t, s)
	})
	f, p := testFetcher(t, srv.URL)
	f.MaxRetries = 2
	d := p.Descriptor(date(2022, 12, 1))
	o := f.Fetch(context.Background(), d)
	if o.OK() || o.Failure.Reason != Invalid {
		t.Fatalf("outcome = %+v", o)
	}
	checkNoFiles(t, d)
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()
	f, p := testFetcher(t, srv.URL)
	f.Timeout = 20 * time.Millisecond
	f.MaxRetries = 2
	d := p.Descriptor(date(2022, 12, 1))
	o := f.Fetch(context.Background(), d)
	if o.OK() || o.Failure.Reason != Timeout {
		t.Fatalf("outcome = %+v", o)
	}
	checkNoFiles(t, d)
}

func TestFetchCanceled(t *testing.T) {
	srv := newSubsetServer(t, nil)
	f, p := testFetcher(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := p.Descriptor(date(2022, 12, 1))
	o := f.Fetch(ctx, d)
	if o.OK() || o.Failure.Reason != Canceled {
		t.Fatalf("outcome = %+v", o)
	}
	if srv.total() != 0 {
		t.Errorf("%d requests made after cancellation", srv.total())
	}
}

func TestFetchNetworkError(t *testing.T) {
	srv := newSubsetServer(t, nil)
	f, p := testFetcher(t, srv.URL)
	srv.Close()
	f.MaxRetries = 2
	d := p.Descriptor(date(2022, 12, 1))
	o := f.Fetch(context.Background(), d)
	if o.OK() || o.Failure.Reason != NetworkError {
		t.Fatalf("outcome = %+v", o)
	}
	if o.Failure.Attempts != 2 {
		t.Errorf("attempts = %d", o.Failure.Attempts)
	}
}

func TestFetchStopEndsRetries(t *testing.T) {
	stop := make(chan struct{})
	srv := newSubsetServer(t, func(day time.Time, n int) (int, []byte) {
		if n == 1 {
			// Stop while the first attempt is in flight.
			close(stop)
		}
		return http.StatusServiceUnavailable, []byte("busy")
	})
	f, p := testFetcher(t, srv.URL)
	f.MaxRetries = 5
	f.BackoffBase = time.Hour
	f.BackoffMax = time.Hour
	f.Stop = stop
	d := p.Descriptor(date(2022, 12, 1))

	done := make(chan FetchOutcome, 1)
	go func() { done <- f.Fetch(context.Background(), d) }()
	var o FetchOutcome
	select {
	case o = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("fetch kept retrying after stop")
	}
	if o.OK() || o.Failure.Reason != Canceled {
		t.Fatalf("outcome = %+v, want Canceled", o.Failure)
	}
	if o.Failure.Attempts != 1 || srv.count(d.Date) != 1 {
		t.Errorf("attempts = %d, requests = %d, want 1", o.Failure.Attempts, srv.count(d.Date))
	}
	checkNoFiles(t, d)
}
