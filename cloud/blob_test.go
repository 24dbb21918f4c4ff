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
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestPublish(t *testing.T) {
	ctx := context.Background()
	p, err := NewPublisher(ctx, "mem://archive/hycom/", logrus.New())
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	f := filepath.Join(t.TempDir(), "HYCOM_202212.zip")
	if err := os.WriteFile(f, []byte("zip data"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := p.Publish(ctx, f); err != nil {
		t.Fatal(err)
	}
	if key := p.Key(f); key != "hycom/HYCOM_202212.zip" {
		t.Errorf("key = %q", key)
	}
	b, err := p.Bucket().ReadAll(ctx, "hycom/HYCOM_202212.zip")
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "zip data" {
		t.Errorf("blob = %q", b)
	}
}

func TestPublishMissingFile(t *testing.T) {
	ctx := context.Background()
	p, err := NewPublisher(ctx, "mem://", logrus.New())
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	p.MaxRetries = 5
	if err := p.Publish(ctx, filepath.Join(t.TempDir(), "missing.zip")); err == nil {
		t.Fatal("expected an error")
	}
}

func TestOpenBucketFile(t *testing.T) {
	dir := t.TempDir()
	b, prefix, err := OpenBucket(context.Background(), "file://"+dir)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if prefix != "" {
		t.Errorf("prefix = %q", prefix)
	}
}

func TestOpenBucketInvalid(t *testing.T) {
	if _, _, err := OpenBucket(context.Background(), "ftp://x"); err == nil {
		t.Error("expected an error for an unknown provider")
	}
}
