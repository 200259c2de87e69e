package objectstore

import (
	"fmt"
	"path"
	"strings"

	"loom/internal/services"
)

const refScheme = "s3://"

// Ref addresses a single stored object as s3://bucket/key.
type Ref struct {
	Bucket string
	Key    string
}

// ParseRef splits an s3://bucket/key string into its parts. Every stored
// storage_ref and export_ref passes through here before a client call, so a
// malformed ref fails as a validation error rather than a network one.
func ParseRef(raw string) (Ref, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, refScheme) {
		return Ref{}, services.Wrap(services.ErrValidation, "objectstore", "parse ref",
			fmt.Sprintf("ref %q must start with %s", raw, refScheme), nil)
	}
	bucket, key, found := strings.Cut(strings.TrimPrefix(trimmed, refScheme), "/")
	key = strings.Trim(key, "/")
	if !found || bucket == "" || key == "" {
		return Ref{}, services.Wrap(services.ErrValidation, "objectstore", "parse ref",
			fmt.Sprintf("ref %q must name a bucket and key", raw), nil)
	}
	return Ref{Bucket: bucket, Key: key}, nil
}

// String renders the ref in its stored s3://bucket/key form.
func (r Ref) String() string {
	return refScheme + r.Bucket + "/" + r.Key
}

// BuildRef assembles a ref string from a bucket and key segments.
func BuildRef(bucket string, segments ...string) string {
	return refScheme + bucket + "/" + path.Join(segments...)
}
