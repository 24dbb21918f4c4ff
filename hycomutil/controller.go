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
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/hycom"
	"github.com/spatialmodel/hycom/cloud"
)

var (
	// ErrRunning is returned when a run is started while another is in
	// progress.
	ErrRunning = errors.New("hycom: a download is already running")

	// ErrNotRunning is returned when stopping while no run is in progress.
	ErrNotRunning = errors.New("hycom: no download is running")
)

// Controller starts runs one at a time and reports on the latest one.
type Controller struct {
	log  logrus.FieldLogger
	opts []hycom.Option

	mu      sync.Mutex
	runner  *hycom.Runner
	running bool
	done    chan struct{}
	next    chan struct{} // closed when a new run starts
}

// NewController returns a controller whose runs use opts.
func NewController(log logrus.FieldLogger, opts ...hycom.Option) *Controller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{
		log:  log,
		opts: append([]hycom.Option{hycom.WithLogger(log)}, opts...),
		next: make(chan struct{}),
	}
}

// Start starts a run with cfg in the background. It returns ErrRunning
// if a run is in progress and a *hycom.ConfigurationError if cfg is
// invalid.
func (c *Controller) Start(cfg hycom.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrRunning
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	opts := c.opts
	var pub *cloud.Publisher
	if cfg.Publish != "" {
		var err error
		pub, err = cloud.NewPublisher(context.Background(), cfg.Publish, c.log)
		if err != nil {
			return err
		}
		opts = append(opts[:len(opts):len(opts)], hycom.WithPublisher(pub))
	}
	r := hycom.NewRunner(cfg, opts...)
	done := make(chan struct{})
	c.runner, c.running, c.done = r, true, done
	close(c.next)
	c.next = make(chan struct{})

	go func() {
		defer close(done)
		if _, err := r.Run(context.Background()); err != nil {
			c.log.Errorf("download failed: %v", err)
		}
		if pub != nil {
			pub.Close()
		}
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()
	return nil
}

// Stop asks the current run to stop. It returns ErrNotRunning if no
// run is in progress.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return ErrNotRunning
	}
	c.runner.Stop()
	return nil
}

// Running reports whether a run is in progress.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Status returns the progress of the latest run.
func (c *Controller) Status() hycom.Progress {
	r, _ := c.current()
	if r == nil {
		return hycom.Progress{State: hycom.Idle, Message: "Ready"}
	}
	return r.Status()
}

// Wait blocks until the current run, if any, has ended.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (c *Controller) current() (*hycom.Runner, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runner, c.next
}

// Watch returns a channel of progress snapshots that follows the
// current run and every later run until ctx is done.
func (c *Controller) Watch(ctx context.Context) <-chan hycom.Progress {
	out := make(chan hycom.Progress)
	send := func(p hycom.Progress) bool {
		select {
		case out <- p:
			return true
		case <-ctx.Done():
			return false
		}
	}
	go func() {
		defer close(out)
		for {
			r, next := c.current()
			if r == nil {
				if !send(hycom.Progress{State: hycom.Idle, Message: "Ready"}) {
					return
				}
			} else {
				if !c.forward(ctx, r, send) {
					return
				}
			}
			select {
			case <-next:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// forward sends the snapshots of r until its run ends. It returns false
// if ctx is done first.
func (c *Controller) forward(ctx context.Context, r *hycom.Runner, send func(hycom.Progress) bool) bool {
	updates, cancel := r.Subscribe()
	defer cancel()
	for {
		select {
		case p, ok := <-updates:
			if !ok {
				return true
			}
			if !send(p) {
				return false
			}
		case <-ctx.Done():
			return false
		}
	}
}
