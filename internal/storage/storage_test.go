package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocation(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    Location
		wantErr string
	}{
		{
			name: "local relative",
			path: "data/sales.csv",
			want: Location{Scheme: SchemeLocal, Key: "data/sales.csv", Raw: "data/sales.csv"},
		},
		{
			name: "file uri",
			path: "file:///tmp/sales.parquet",
			want: Location{Scheme: SchemeLocal, Key: "/tmp/sales.parquet", Raw: "file:///tmp/sales.parquet"},
		},
		{
			name: "s3",
			path: "s3://my-bucket/exports/sales.parquet",
			want: Location{Scheme: SchemeS3, Bucket: "my-bucket", Key: "exports/sales.parquet", Raw: "s3://my-bucket/exports/sales.parquet"},
		},
		{
			name: "gcs",
			path: "gs://my-bucket/a/b.csv",
			want: Location{Scheme: SchemeGCS, Bucket: "my-bucket", Key: "a/b.csv", Raw: "gs://my-bucket/a/b.csv"},
		},
		{
			name: "azure abfss",
			path: "abfss://mycontainer@myaccount.dfs.core.windows.net/data/file.parquet",
			want: Location{Scheme: SchemeAzure, Bucket: "mycontainer", Key: "data/file.parquet", Raw: "abfss://mycontainer@myaccount.dfs.core.windows.net/data/file.parquet"},
		},
		{
			name: "azure az",
			path: "az://mycontainer/data/file.xlsx",
			want: Location{Scheme: SchemeAzure, Bucket: "mycontainer", Key: "data/file.xlsx", Raw: "az://mycontainer/data/file.xlsx"},
		},
		{
			name: "azure https",
			path: "https://myaccount.blob.core.windows.net/mycontainer/data/file.csv",
			want: Location{Scheme: SchemeAzure, Bucket: "mycontainer", Key: "data/file.csv", Raw: "https://myaccount.blob.core.windows.net/mycontainer/data/file.csv"},
		},
		{name: "empty", path: "", wantErr: "path is required"},
		{name: "s3 no key", path: "s3://bucket-only", wantErr: "empty key"},
		{name: "s3 no bucket", path: "s3:///key", wantErr: "empty bucket"},
		{name: "abfss no container", path: "abfss://myaccount.dfs.core.windows.net/f", wantErr: "missing container"},
		{name: "foreign https", path: "https://example.com/x/y.csv", wantErr: "unrecognized Azure HTTPS host"},
		{name: "unknown scheme", path: "ftp://host/file.csv", wantErr: "unsupported storage scheme"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLocation(tt.path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type stubOpener struct {
	body string
	err  error
	got  Location
}

func (s *stubOpener) Open(_ context.Context, loc Location) (io.ReadCloser, error) {
	s.got = loc
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(strings.NewReader(s.body)), nil
}

func TestFetcher_Local(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sales.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n"), 0o600))

	f := NewFetcher(dir, slog.New(slog.DiscardHandler))
	lf, err := f.Fetch(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, lf.Path)
	lf.Release()

	_, err = os.Stat(path)
	require.NoError(t, err, "local files must survive Release")
}

func TestFetcher_LocalMissing(t *testing.T) {
	f := NewFetcher(t.TempDir(), slog.New(slog.DiscardHandler))
	_, err := f.Fetch(context.Background(), "/nonexistent/sales.csv")
	require.Error(t, err)
}

func TestFetcher_Remote(t *testing.T) {
	dir := t.TempDir()
	f := NewFetcher(dir, slog.New(slog.DiscardHandler))
	stub := &stubOpener{body: "region,amount\nNorth,100\n"}
	f.Register(SchemeS3, stub)

	lf, err := f.Fetch(context.Background(), "s3://bucket/exports/sales.csv")
	require.NoError(t, err)
	assert.Equal(t, "bucket", stub.got.Bucket)
	assert.Equal(t, ".csv", filepath.Ext(lf.Path))

	data, err := os.ReadFile(lf.Path)
	require.NoError(t, err)
	assert.Equal(t, stub.body, string(data))

	lf.Release()
	_, err = os.Stat(lf.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestFetcher_NoOpenerForScheme(t *testing.T) {
	f := NewFetcher(t.TempDir(), slog.New(slog.DiscardHandler))
	_, err := f.Fetch(context.Background(), "s3://bucket/key.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credentials configured")
}

func TestFetcher_OpenError(t *testing.T) {
	f := NewFetcher(t.TempDir(), slog.New(slog.DiscardHandler))
	f.Register(SchemeGCS, &stubOpener{err: errors.New("access denied")})
	_, err := f.Fetch(context.Background(), "gs://bucket/key.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}
