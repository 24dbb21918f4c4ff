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

// Package cloud copies finished archives to blob storage.
package cloud

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"gocloud.dev/blob"
	// Storage providers.
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// OpenBucket returns the blob storage bucket specified by bucketURL,
// which must be in the format 'provider://name[/prefix]'. The accepted
// providers are "mem" and "file" (for testing), "gs" for Google Cloud
// Storage, and "s3" for AWS S3. Credentials are taken from the
// environment. The returned prefix is the path component of the URL,
// without leading or trailing slashes.
func OpenBucket(ctx context.Context, bucketURL string) (b *blob.Bucket, prefix string, err error) {
	u, err := url.Parse(bucketURL)
	if err != nil {
		return nil, "", fmt.Errorf("cloud.OpenBucket: %v", err)
	}
	switch u.Scheme {
	case "mem", "gs", "s3":
		prefix = strings.Trim(u.Path, "/")
		u.Path = ""
	case "file":
		// The whole path names a local directory.
	default:
		return nil, "", fmt.Errorf("cloud.OpenBucket: invalid provider %q", u.Scheme)
	}
	b, err = blob.OpenBucket(ctx, u.String())
	if err != nil {
		return nil, "", fmt.Errorf("cloud.OpenBucket: %v", err)
	}
	return b, prefix, nil
}
