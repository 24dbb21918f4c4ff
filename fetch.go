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
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Artifact is a downloaded and validated daily file.
type Artifact struct {
	Path string
	Size int64
	Date time.Time
	Info ValidationInfo
}

// Failure describes why a day could not be fetched.
type Failure struct {
	Reason FailureReason

	// Status is the HTTP status of the last response for ServerError.
	Status int

	Attempts int
	Err      error
}

func (f *Failure) Error() string {
	msg := f.Reason.String()
	if f.Reason == ServerError {
		msg = fmt.Sprintf("%s(%d)", msg, f.Status)
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

// FetchOutcome is the result of fetching one day: exactly one of
// Artifact and Failure is set.
type FetchOutcome struct {
	Descriptor FetchDescriptor
	Artifact   *Artifact
	Failure    *Failure
}

// OK reports whether the fetch succeeded.
func (o FetchOutcome) OK() bool { return o.Artifact != nil }

// Fetcher downloads days from the subset service.
type Fetcher struct {
	Client *http.Client

	MaxRetries  int
	Timeout     time.Duration
	ChunkSize   int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Jitter      float64

	// Validate checks each downloaded file before it is accepted.
	Validate func(path string, vars []string) (ValidationInfo, error)

	// Stop, when closed, ends the retries of fetches in progress. An
	// attempt already under way is not interrupted.
	Stop <-chan struct{}

	Log     logrus.FieldLogger
	Metrics *Metrics
}

// NewFetcher returns a Fetcher configured from cfg.
func NewFetcher(cfg Config, log logrus.FieldLogger, m *Metrics) *Fetcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Fetcher{
		Client:      &http.Client{},
		MaxRetries:  cfg.MaxRetries,
		Timeout:     cfg.Timeout,
		ChunkSize:   cfg.ChunkSize,
		BackoffBase: cfg.BackoffBase,
		BackoffMax:  cfg.BackoffMax,
		Jitter:      cfg.Jitter,
		Validate:    Validate,
		Log:         log,
		Metrics:     m,
	}
}

func (f *Fetcher) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.BackoffBase
	b.Multiplier = 2
	b.RandomizationFactor = f.Jitter
	b.MaxInterval = f.BackoffMax
	b.MaxElapsedTime = 0
	retries := f.MaxRetries - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Fetch downloads the day described by d. It makes up to MaxRetries
// attempts, retrying on network errors, timeouts, non-2xx responses, empty
// bodies and files that fail validation. Failures are reported in the
// outcome rather than as an error. The destination file only exists if
// the outcome is a success.
func (f *Fetcher) Fetch(ctx context.Context, d FetchDescriptor) FetchOutcome {
	log := f.Log.WithFields(logrus.Fields{"day": d.Date.Format(dateLayout)})
	var (
		attempts int
		art      *Artifact
		last     *Failure
	)
	op := func() error {
		attempts++
		log.WithField("attempt", attempts).Debugf("downloading %s", d.URL)
		a, fail := f.attempt(ctx, d)
		if fail == nil {
			art = a
			return nil
		}
		last = fail
		if fail.Reason == Canceled || fail.Reason == StorageFailure {
			return backoff.Permanent(fail)
		}
		return fail
	}
	notify := func(err error, wait time.Duration) {
		log.WithFields(logrus.Fields{
			"attempt": attempts,
			"of":      f.MaxRetries,
		}).Warnf("download failed: %v; retrying in %v", err, wait)
	}
	// Waits between attempts also end when the fetch is stopped; the
	// attempts themselves only see ctx.
	wait, cancel := context.WithCancel(ctx)
	defer cancel()
	if f.Stop != nil {
		go func() {
			select {
			case <-f.Stop:
				cancel()
			case <-wait.Done():
			}
		}()
	}
	backoff.RetryNotify(op, f.backOff(wait), notify)

	if art != nil {
		log.WithField("bytes", art.Size).Infof("downloaded %s", d.Dest)
		return FetchOutcome{Descriptor: d, Artifact: art}
	}
	switch {
	case last == nil || (ctx.Err() != nil && last.Reason != StorageFailure):
		last = &Failure{Reason: Canceled, Err: ctx.Err()}
	case f.stopped() && last.Reason != StorageFailure:
		last = &Failure{Reason: Canceled, Err: fmt.Errorf("stopped after %v", last)}
	}
	last.Attempts = attempts
	log.WithField("attempts", attempts).Errorf("giving up: %v", last)
	return FetchOutcome{Descriptor: d, Failure: last}
}

// attempt makes a single download attempt. The returned failure has
// Attempts unset.
func (f *Fetcher) attempt(ctx context.Context, d FetchDescriptor) (*Artifact, *Failure) {
	if ctx.Err() != nil {
		return nil, &Failure{Reason: Canceled, Err: ctx.Err()}
	}
	start := time.Now()
	actx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, d.URL, nil)
	if err != nil {
		return nil, f.fail(&Failure{Reason: NetworkError, Err: err})
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return nil, f.fail(classify(ctx, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, f.fail(&Failure{Reason: ServerError, Status: resp.StatusCode,
			Err: fmt.Errorf("%s", resp.Status)})
	}

	part := d.Dest + ".part"
	out, err := os.Create(part)
	if err != nil {
		return nil, f.fail(&Failure{Reason: StorageFailure, Err: err})
	}
	ok := false
	defer func() {
		if !ok {
			out.Close()
			os.Remove(part)
		}
	}()
	chunk := f.ChunkSize
	if chunk <= 0 {
		chunk = 32 * 1024
	}
	// Hide ReadFrom and WriteTo so that the body is copied in chunks.
	n, err := io.CopyBuffer(struct{ io.Writer }{out}, struct{ io.Reader }{resp.Body}, make([]byte, chunk))
	if err != nil {
		var perr *os.PathError
		if errors.As(err, &perr) {
			return nil, f.fail(&Failure{Reason: StorageFailure, Err: err})
		}
		return nil, f.fail(classify(ctx, err))
	}
	if n == 0 {
		return nil, f.fail(&Failure{Reason: EmptyBody})
	}
	if err := out.Close(); err != nil {
		return nil, f.fail(&Failure{Reason: StorageFailure, Err: err})
	}
	validate := f.Validate
	if validate == nil {
		validate = Validate
	}
	info, err := validate(part, d.Variables)
	if err != nil {
		return nil, f.fail(&Failure{Reason: Invalid, Err: err})
	}
	if err := os.Rename(part, d.Dest); err != nil {
		os.Remove(part)
		return nil, f.fail(&Failure{Reason: StorageFailure, Err: err})
	}
	ok = true
	f.Metrics.attempt("success", time.Since(start), n)
	return &Artifact{Path: d.Dest, Size: n, Date: d.Date, Info: info}, nil
}

func (f *Fetcher) stopped() bool {
	select {
	case <-f.Stop:
		return true
	default:
		return false
	}
}

func (f *Fetcher) fail(fl *Failure) *Failure {
	f.Metrics.attempt(fl.Reason.String(), 0, 0)
	return fl
}

func (f *Fetcher) client() *http.Client {
	if f.Client == nil {
		return http.DefaultClient
	}
	return f.Client
}

// classify maps a transport error to a failure reason. ctx is the
// parent context of the attempt.
func classify(ctx context.Context, err error) *Failure {
	if ctx.Err() != nil {
		return &Failure{Reason: Canceled, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Reason: Timeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Failure{Reason: Timeout, Err: err}
	}
	return &Failure{Reason: NetworkError, Err: err}
}
