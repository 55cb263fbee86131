package transport

import (
	"fmt"
	"net/url"
	"strings"
)

// SplitObjectURL splits an object-store destination such as
// "s3://bucket/dev1/0000000042.fid" into its bucket and object key.
func SplitObjectURL(raw, scheme string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("%w %q: %v", ErrInvalidDestination, raw, err)
	}
	if !strings.EqualFold(u.Scheme, scheme) {
		return "", "", fmt.Errorf("%w %q: expected %s:// scheme", ErrInvalidDestination, raw, scheme)
	}

	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w %q: bucket and key are required", ErrInvalidDestination, raw)
	}
	return bucket, key, nil
}
