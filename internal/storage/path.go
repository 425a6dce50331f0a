// Package storage fetches remote file sources from object storage into local
// scratch files the embedded engine can scan.
package storage

import (
	"fmt"
	"net/url"
	"strings"
)

// Scheme identifies where a file source lives.
type Scheme string

// Supported schemes.
const (
	SchemeLocal Scheme = "file"
	SchemeS3    Scheme = "s3"
	SchemeGCS   Scheme = "gs"
	SchemeAzure Scheme = "az"
)

// Location is a parsed object URI.
type Location struct {
	Scheme Scheme
	Bucket string // bucket or container
	Key    string
	Raw    string
}

// ParseLocation classifies path. Anything without a recognized URI scheme is
// treated as a local file path.
func ParseLocation(path string) (Location, error) {
	if path == "" {
		return Location{}, fmt.Errorf("path is required")
	}
	scheme, _, ok := strings.Cut(path, "://")
	if !ok {
		return Location{Scheme: SchemeLocal, Key: path, Raw: path}, nil
	}
	var (
		loc Location
		err error
	)
	switch strings.ToLower(scheme) {
	case "file":
		return Location{Scheme: SchemeLocal, Key: strings.TrimPrefix(path, "file://"), Raw: path}, nil
	case "s3":
		loc.Bucket, loc.Key, err = parseBucketPath(path, "s3")
		loc.Scheme = SchemeS3
	case "gs":
		loc.Bucket, loc.Key, err = parseBucketPath(path, "gs")
		loc.Scheme = SchemeGCS
	case "az", "abfss", "https":
		loc.Bucket, loc.Key, err = parseAzurePath(path)
		loc.Scheme = SchemeAzure
	default:
		return Location{}, fmt.Errorf("unsupported storage scheme %q in %q", scheme, path)
	}
	if err != nil {
		return Location{}, err
	}
	loc.Raw = path
	return loc, nil
}

// parseBucketPath extracts bucket and key from a "<scheme>://bucket/path" URI.
func parseBucketPath(path, scheme string) (bucket, key string, err error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", "", fmt.Errorf("parse %s path %q: %w", scheme, path, err)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("empty bucket in %s path %q", scheme, path)
	}
	if key == "" {
		return "", "", fmt.Errorf("empty key in %s path %q", scheme, path)
	}
	return bucket, key, nil
}

// parseAzurePath extracts container and blob from an Azure storage URI.
//
//	abfss://container@account.dfs.core.windows.net/path/to/file
//	az://container/path/to/file
//	https://account.blob.core.windows.net/container/path/to/file
func parseAzurePath(path string) (container, key string, err error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", "", fmt.Errorf("parse Azure path %q: %w", path, err)
	}

	switch u.Scheme {
	case "abfss":
		// url.Parse reads the container as userinfo.
		if u.User == nil {
			return "", "", fmt.Errorf("abfss path %q missing container@account component", path)
		}
		container = u.User.Username()
		key = strings.TrimPrefix(u.Path, "/")
	case "az":
		container = u.Host
		key = strings.TrimPrefix(u.Path, "/")
	case "https":
		if !strings.Contains(u.Host, ".blob.core.windows.net") {
			return "", "", fmt.Errorf("unrecognized Azure HTTPS host %q in path %q", u.Host, path)
		}
		container, key, _ = strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	default:
		return "", "", fmt.Errorf("unrecognized Azure path scheme %q in %q", u.Scheme, path)
	}

	if container == "" {
		return "", "", fmt.Errorf("empty container in Azure path %q", path)
	}
	if key == "" {
		return "", "", fmt.Errorf("empty key in Azure path %q", path)
	}
	return container, key, nil
}
