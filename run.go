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
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/hycom/granule"
	"github.com/spatialmodel/hycom/internal/hash"
	"golang.org/x/sync/errgroup"
)

// State is the state of a run.
type State int

// Run states.
const (
	Idle State = iota
	Running
	Completed
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Completed:
		return "Completed"
	case Stopped:
		return "Stopped"
	case Failed:
		return "Failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Done reports whether s is a terminal state.
func (s State) Done() bool { return s == Completed || s == Stopped || s == Failed }

// DayError records a failure. Day is empty for failures that apply to a
// whole month.
type DayError struct {
	Day     string `json:"day,omitempty"`
	Month   string `json:"month"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Progress is a snapshot of a run.
type Progress struct {
	State        State      `json:"state"`
	RunID        string     `json:"run_id,omitempty"`
	CurrentDay   string     `json:"current_day"`
	CurrentMonth string     `json:"current_month"`
	DoneDays     int        `json:"done_days"`
	TotalDays    int        `json:"total_days"`
	SuccessCount int        `json:"success_count"`
	FailureCount int        `json:"failure_count"`
	LastError    string     `json:"last_error,omitempty"`
	Message      string     `json:"message"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Failed       []DayError `json:"failed"`
	Archives     []string   `json:"archives"`
}

func (p Progress) clone() Progress {
	p.Failed = append([]DayError(nil), p.Failed...)
	p.Archives = append([]string(nil), p.Archives...)
	return p
}

// MonthStatus is the result of processing one month.
type MonthStatus int

// Month statuses.
const (
	MonthCompleted MonthStatus = iota + 1
	MonthSkipped
	MonthEmpty
	MonthFailed
	MonthAbandoned
)

func (s MonthStatus) String() string {
	switch s {
	case MonthCompleted:
		return "Completed"
	case MonthSkipped:
		return "Skipped"
	case MonthEmpty:
		return "Empty"
	case MonthFailed:
		return "Failed"
	case MonthAbandoned:
		return "Abandoned"
	}
	return fmt.Sprintf("MonthStatus(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s MonthStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// MonthReport summarizes one month of a run.
type MonthReport struct {
	Month     Month
	Status    MonthStatus
	Expected  int
	Succeeded int
	Failures  []DayError
	Archive   *ArchiveFile
	Err       error
}

// Report summarizes a run.
type Report struct {
	RunID    string
	State    State
	Months   []MonthReport
	Progress Progress
}

// Publisher copies finished archives to durable storage.
type Publisher interface {
	Publish(ctx context.Context, path string) error
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger used by the run.
func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Runner) { r.log = log }
}

// WithMetrics records run metrics in m.
func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithPublisher copies each new archive with p.
func WithPublisher(p Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

// WithHTTPClient sets the client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Runner) { r.client = c }
}

// Runner downloads, combines and packages a configured date range. A
// Runner performs a single run.
type Runner struct {
	cfg       Config
	log       logrus.FieldLogger
	metrics   *Metrics
	publisher Publisher
	client    *http.Client

	fetcher *Fetcher
	agg     *Aggregator
	pkg     *Packager

	started atomic.Bool
	stop    atomic.Bool
	stopCh  chan struct{}

	mu       sync.RWMutex
	progress Progress
	subs     map[int]chan Progress
	nextSub  int
	closed   bool
}

// NewRunner returns a Runner for cfg. The configuration is validated
// when the run starts.
func NewRunner(cfg Config, opts ...Option) *Runner {
	r := &Runner{
		cfg:    cfg,
		log:    logrus.StandardLogger(),
		subs:   make(map[int]chan Progress),
		stopCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	r.fetcher = NewFetcher(cfg, r.log, r.metrics)
	r.fetcher.Stop = r.stopCh
	if r.client != nil {
		r.fetcher.Client = r.client
	}
	r.agg = NewAggregator(cfg, r.log)
	r.agg.Attributes = []granule.Attribute{{Name: "config_hash", Value: hash.Hash(cfg)}}
	r.pkg = NewPackager(cfg, r.log)
	return r
}

// Config returns the run configuration.
func (r *Runner) Config() Config { return r.cfg }

// Status returns a snapshot of the run's progress.
func (r *Runner) Status() Progress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.progress.clone()
}

// Subscribe returns a channel that receives a snapshot after every
// progress update. Slow receivers only see the latest snapshot. The
// channel is closed when the run ends or cancel is called.
func (r *Runner) Subscribe() (<-chan Progress, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan Progress, 1)
	ch <- r.progress.clone()
	if r.closed {
		close(ch)
		return ch, func() {}
	}
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(c)
		}
	}
}

// Stop asks the run to stop. Download attempts already in progress
// finish without further retries, their results are discarded, and no
// further days or months are started.
func (r *Runner) Stop() {
	if r.stop.Swap(true) {
		return
	}
	close(r.stopCh)
	r.update(func(p *Progress) {
		if p.State == Running {
			p.Message = "Stopping..."
		}
	})
}

func (r *Runner) stopped(ctx context.Context) bool {
	return r.stop.Load() || ctx.Err() != nil
}

// update applies f to the progress and publishes the result.
func (r *Runner) update(f func(p *Progress)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f(&r.progress)
	snap := r.progress.clone()
	for _, ch := range r.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (r *Runner) closeSubs() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
	r.closed = true
}

// Run performs the run. It returns an error only if the run fails:
// for an invalid configuration or when the workspace or output directory
// cannot be written. Failed days and months are recorded in the report.
// Canceling ctx aborts downloads in progress and stops the run.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if r.started.Swap(true) {
		return nil, errors.New("hycom: runner has already been started")
	}
	rep := &Report{RunID: uuid.NewString()}
	start := time.Now()
	r.update(func(p *Progress) {
		p.State = Running
		p.RunID = rep.RunID
		p.StartTime = &start
		p.Message = "Starting download..."
	})
	r.metrics.setRunning(true)
	defer r.metrics.setRunning(false)
	defer r.closeSubs()
	log := r.log.WithFields(logrus.Fields{"run": rep.RunID, "config": hash.Short(r.cfg, 8)})

	// cleanup is set once the workspace exists. It runs before the final
	// state is published so that watchers never see a finished run with
	// files still on disk.
	cleanup := func() {}
	finish := func(s State, err error) (*Report, error) {
		cleanup()
		end := time.Now()
		r.update(func(p *Progress) {
			p.State = s
			p.EndTime = &end
			switch {
			case err != nil:
				p.LastError = err.Error()
				p.Message = fmt.Sprintf("Download failed: %v", err)
			case s == Stopped:
				p.Message = "Download stopped by user"
			default:
				p.Message = fmt.Sprintf("Download completed: %d days downloaded, %d failed", p.SuccessCount, p.FailureCount)
			}
		})
		rep.State = s
		rep.Progress = r.Status()
		if err != nil {
			log.Errorf("run failed: %v", err)
		} else {
			log.Infof("run %s", s)
		}
		return rep, err
	}

	if err := r.cfg.Validate(); err != nil {
		return finish(Failed, err)
	}
	log.Infof("date range: %s to %s", Day(r.cfg.Start).Format(dateLayout), Day(r.cfg.End).Format(dateLayout))
	log.Infof("variables: %v", r.cfg.Variables)
	log.Infof("geographic bounds: %v", r.cfg.Bounds)

	workspace := filepath.Join(r.cfg.TempDir, rep.RunID)
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return finish(Failed, &StorageError{Op: "creating workspace", Path: workspace, Err: err})
	}
	cleanup = func() {
		if err := os.RemoveAll(workspace); err != nil {
			log.Warnf("cleaning up workspace: %v", err)
		}
		// Only succeeds if no other run is using the directory.
		os.Remove(r.cfg.TempDir)
	}
	if err := os.MkdirAll(r.cfg.OutputDir, 0755); err != nil {
		return finish(Failed, &StorageError{Op: "creating output directory", Path: r.cfg.OutputDir, Err: err})
	}

	planner, err := NewPlanner(r.cfg, workspace)
	if err != nil {
		return finish(Failed, err)
	}
	r.update(func(p *Progress) { p.TotalDays = planner.Len() })

	for _, mp := range planner.Months() {
		if r.stopped(ctx) {
			break
		}
		mr, err := r.month(ctx, planner, mp)
		rep.Months = append(rep.Months, mr)
		r.metrics.month(mr.Status)
		if err != nil {
			return finish(Failed, err)
		}
	}
	if r.stopped(ctx) {
		return finish(Stopped, nil)
	}
	return finish(Completed, nil)
}

// month processes one month. The returned error is fatal to the run.
func (r *Runner) month(ctx context.Context, planner *Planner, mp MonthPlan) (MonthReport, error) {
	m := mp.Month
	log := r.log.WithField("month", m.String())
	mr := MonthReport{Month: m, Expected: mp.Len()}
	log.Infof("processing month (capped end: %s)", mp.Last.Format(dateLayout))
	r.update(func(p *Progress) {
		p.CurrentMonth = m.String()
		p.Message = fmt.Sprintf("Processing %s...", m)
	})

	if !r.cfg.Overwrite && r.pkg.Exists(m) {
		log.Infof("%s exists; skipping month", r.pkg.ArchivePath(m))
		mr.Status = MonthSkipped
		mr.Archive = &ArchiveFile{Path: r.pkg.ArchivePath(m), Month: m, Status: Skipped}
		r.update(func(p *Progress) { p.DoneDays += mp.Len() })
		return mr, nil
	}

	days := mp.Days()
	descs := make([]FetchDescriptor, len(days))
	for i, d := range days {
		descs[i] = planner.Descriptor(d)
	}
	outcomes := make([]FetchOutcome, len(descs))
	all := make([]int, len(descs))
	for i := range all {
		all[i] = i
	}
	r.fetchAll(ctx, descs, all, outcomes, false)

	for pass := 0; pass < r.cfg.RedownloadPasses && !r.stopped(ctx); pass++ {
		var failed []int
		for i, o := range outcomes {
			if o.Failure != nil && o.Failure.Reason != Canceled {
				failed = append(failed, i)
			}
		}
		if len(failed) == 0 {
			break
		}
		log.Warnf("%d days failed; attempting redownload pass %d", len(failed), pass+1)
		r.update(func(p *Progress) { p.Message = fmt.Sprintf("Retrying failed downloads for %s...", m) })
		r.fetchAll(ctx, descs, failed, outcomes, true)
	}

	bucket := MonthBucket{Month: m, Expected: len(descs)}
	for _, o := range outcomes {
		if o.Artifact != nil || o.Failure != nil {
			bucket.Add(o)
		}
	}
	if r.stopped(ctx) {
		for _, d := range descs {
			os.Remove(d.Dest)
			os.Remove(d.Dest + ".part")
		}
		log.Info("month abandoned")
		mr.Status = MonthAbandoned
		return mr, nil
	}
	mr.Succeeded = len(bucket.Artifacts)
	for _, o := range bucket.Failures {
		mr.Failures = append(mr.Failures, dayError(m, o))
	}
	log.Infof("downloaded %d/%d days", len(bucket.Artifacts), len(descs))

	r.update(func(p *Progress) { p.Message = fmt.Sprintf("Combining files for %s...", m) })
	merged := filepath.Join(filepath.Dir(descs[0].Dest), r.pkg.MergedName(m))
	md, err := r.agg.Combine(bucket, merged)
	for _, de := range md.Dropped {
		mr.Succeeded--
		mr.Failures = append(mr.Failures, de)
		de := de
		r.update(func(p *Progress) {
			p.SuccessCount--
			p.FailureCount++
			p.Failed = append(p.Failed, de)
			p.LastError = fmt.Sprintf("%s: %s", de.Day, de.Message)
		})
	}
	if err != nil {
		for _, p := range bucket.Paths() {
			os.Remove(p)
		}
		mr.Err = err
		var se *StorageError
		if errors.As(err, &se) {
			mr.Status = MonthFailed
			return mr, err
		}
		var me *MergeError
		if errors.As(err, &me) && me.Kind == EmptyMonth {
			mr.Status = MonthEmpty
		} else {
			mr.Status = MonthFailed
		}
		log.Errorf("no archive for month: %v", err)
		r.monthError(m, err)
		return mr, nil
	}

	r.update(func(p *Progress) { p.Message = fmt.Sprintf("Creating %s...", filepath.Base(r.pkg.ArchivePath(m))) })
	af, err := r.pkg.Package(md.Path, m, bucket.Paths()...)
	if err != nil {
		mr.Err = err
		mr.Status = MonthFailed
		var se *StorageError
		if errors.As(err, &se) {
			return mr, err
		}
		log.Errorf("packaging failed: %v", err)
		r.monthError(m, err)
		return mr, nil
	}
	mr.Archive = &af
	mr.Status = MonthCompleted
	if af.Status == Skipped {
		mr.Status = MonthSkipped
	}
	if af.Status == Packaged && r.publisher != nil {
		if err := r.publisher.Publish(ctx, af.Path); err != nil {
			log.Errorf("publishing %s: %v", af.Path, err)
			r.monthError(m, fmt.Errorf("hycom: publishing %s: %w", af.Path, err))
		}
	}
	r.update(func(p *Progress) {
		p.Archives = append(p.Archives, af.Path)
		p.Message = fmt.Sprintf("Created %s for %s", filepath.Base(af.Path), m)
	})
	return mr, nil
}

// fetchAll fetches the descriptors at the given indices with at most
// Concurrency downloads in flight. The stop flag is checked before each
// download is started. retry marks a redownload pass.
func (r *Runner) fetchAll(ctx context.Context, descs []FetchDescriptor, idx []int, outcomes []FetchOutcome, retry bool) {
	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for _, i := range idx {
		if r.stopped(ctx) {
			break
		}
		d := descs[i]
		r.update(func(p *Progress) { p.CurrentDay = d.Date.Format(dateLayout) })
		g.Go(func() error {
			if r.stopped(ctx) {
				outcomes[i] = FetchOutcome{Descriptor: d, Failure: &Failure{Reason: Canceled}}
				return nil
			}
			o := r.fetcher.Fetch(ctx, d)
			if r.stopped(ctx) {
				if o.OK() {
					os.Remove(o.Artifact.Path)
				}
				outcomes[i] = FetchOutcome{Descriptor: d, Failure: &Failure{Reason: Canceled, Attempts: attemptsOf(o)}}
				return nil
			}
			outcomes[i] = o
			r.record(o, retry)
			return nil
		})
	}
	g.Wait()
}

func attemptsOf(o FetchOutcome) int {
	if o.Failure != nil {
		return o.Failure.Attempts
	}
	return 1
}

// record adds a fetch outcome to the progress.
func (r *Runner) record(o FetchOutcome, retry bool) {
	r.metrics.day(o.OK())
	day := o.Descriptor.Date.Format(dateLayout)
	r.update(func(p *Progress) {
		if !retry {
			p.DoneDays++
		}
		if o.OK() {
			p.SuccessCount++
			if retry {
				p.FailureCount--
				for i, f := range p.Failed {
					if f.Day == day {
						p.Failed = append(p.Failed[:i:i], p.Failed[i+1:]...)
						break
					}
				}
			}
		} else {
			de := dayError(MonthOf(o.Descriptor.Date), o)
			p.LastError = fmt.Sprintf("%s: %s", day, de.Message)
			replaced := false
			if retry {
				for i, f := range p.Failed {
					if f.Day == day {
						p.Failed[i] = de
						replaced = true
						break
					}
				}
			}
			if !replaced {
				p.FailureCount++
				p.Failed = append(p.Failed, de)
			}
		}
		if p.TotalDays > 0 {
			p.Message = fmt.Sprintf("Downloaded %d/%d days (%.1f%%)", p.DoneDays, p.TotalDays,
				100*float64(p.DoneDays)/float64(p.TotalDays))
		}
	})
}

func (r *Runner) monthError(m Month, err error) {
	kind := "Error"
	var me *MergeError
	var pe *PackagingError
	switch {
	case errors.As(err, &me):
		kind = me.Kind.String()
	case errors.As(err, &pe):
		kind = "PackagingError"
	}
	r.update(func(p *Progress) {
		p.LastError = err.Error()
		p.Failed = append(p.Failed, DayError{Month: m.String(), Kind: kind, Message: err.Error()})
	})
}

func dayError(m Month, o FetchOutcome) DayError {
	de := DayError{Day: o.Descriptor.Date.Format(dateLayout), Month: m.String()}
	if o.Failure != nil {
		de.Kind = o.Failure.Reason.String()
		de.Message = o.Failure.Error()
	}
	return de
}
