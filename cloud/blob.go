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

package cloud

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"gocloud.dev/blob"
)

// Publisher uploads files to a bucket.
type Publisher struct {
	bucket *blob.Bucket
	prefix string

	// MaxRetries is the number of attempts made for each upload.
	MaxRetries int

	// BackoffBase is the wait before the second attempt. It doubles
	// after each further failure.
	BackoffBase time.Duration

	Log logrus.FieldLogger
}

// NewPublisher opens the bucket at bucketURL. See OpenBucket for the
// accepted formats.
func NewPublisher(ctx context.Context, bucketURL string, log logrus.FieldLogger) (*Publisher, error) {
	b, prefix, err := OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Publisher{
		bucket:      b,
		prefix:      prefix,
		MaxRetries:  3,
		BackoffBase: time.Second,
		Log:         log,
	}, nil
}

// Bucket returns the underlying bucket.
func (p *Publisher) Bucket() *blob.Bucket { return p.bucket }

// Key returns the blob key used for the local file at filePath.
func (p *Publisher) Key(filePath string) string {
	return path.Join(p.prefix, filepath.Base(filePath))
}

// Publish uploads the file at filePath, retrying failed uploads.
func (p *Publisher) Publish(ctx context.Context, filePath string) error {
	key := p.Key(filePath)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BackoffBase
	b.MaxElapsedTime = 0
	retries := p.MaxRetries - 1
	if retries < 0 {
		retries = 0
	}
	op := func() error {
		err := p.upload(ctx, filePath, key)
		if os.IsNotExist(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		p.Log.WithField("key", key).Warnf("upload failed: %v; retrying in %v", err, wait)
	}
	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx), notify)
	if err != nil {
		return fmt.Errorf("cloud: publishing %s: %w", filePath, err)
	}
	p.Log.WithField("key", key).Info("published archive")
	return nil
}

func (p *Publisher) upload(ctx context.Context, filePath, key string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w, err := p.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: "application/zip"})
	if err != nil {
		return fmt.Errorf("creating writer for blob %s: %v", key, err)
	}
	if _, err = io.Copy(w, f); err != nil {
		cancel() // Abort the write.
		w.Close()
		return fmt.Errorf("copying blob %s: %v", key, err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("writing blob %s: %v", key, err)
	}
	return nil
}

// Close closes the bucket.
func (p *Publisher) Close() error { return p.bucket.Close() }
