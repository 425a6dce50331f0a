package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	gcs "cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"google.golang.org/api/option"

	"duck-bi/internal/config"
)

// ObjectOpener opens a remote object for reading.
type ObjectOpener interface {
	Open(ctx context.Context, loc Location) (io.ReadCloser, error)
}

// LocalFile is a file source materialized on local disk. Release removes any
// scratch copy; it is a no-op for files that were already local.
type LocalFile struct {
	Path    string
	release func()
}

// Release frees the scratch copy, if any.
func (f *LocalFile) Release() {
	if f.release != nil {
		f.release()
	}
}

// Fetcher resolves file-source paths to local files, downloading remote
// objects through the client registered for their scheme.
type Fetcher struct {
	tempDir string
	openers map[Scheme]ObjectOpener
	logger  *slog.Logger
}

// NewFetcher creates a Fetcher writing scratch files into tempDir.
func NewFetcher(tempDir string, logger *slog.Logger) *Fetcher {
	return &Fetcher{tempDir: tempDir, openers: make(map[Scheme]ObjectOpener), logger: logger}
}

// Register installs the opener used for scheme.
func (f *Fetcher) Register(scheme Scheme, o ObjectOpener) {
	f.openers[scheme] = o
}

// NewFetcherFromConfig registers an opener for each cloud with credentials
// configured. GCS falls back to application default credentials.
func NewFetcherFromConfig(cfg *config.Config, logger *slog.Logger) *Fetcher {
	f := NewFetcher(cfg.TempDir, logger)
	st := cfg.Storage
	if st.HasS3Credentials() {
		f.Register(SchemeS3, NewS3Opener(st))
	}
	f.Register(SchemeGCS, &GCSOpener{keyFile: deref(st.GCSKeyFile)})
	if st.HasAzureCredentials() {
		o, err := NewAzureOpener(*st.AzureAccountName, *st.AzureAccountKey)
		if err != nil {
			logger.Warn("azure storage disabled", "error", err)
		} else {
			f.Register(SchemeAzure, o)
		}
	}
	return f
}

// Fetch returns a local file for path.
func (f *Fetcher) Fetch(ctx context.Context, path string) (*LocalFile, error) {
	loc, err := ParseLocation(path)
	if err != nil {
		return nil, err
	}
	if loc.Scheme == SchemeLocal {
		if _, err := os.Stat(loc.Key); err != nil {
			return nil, fmt.Errorf("file source %s: %w", loc.Key, err)
		}
		return &LocalFile{Path: loc.Key}, nil
	}

	opener, ok := f.openers[loc.Scheme]
	if !ok {
		return nil, fmt.Errorf("no credentials configured for %s:// sources", loc.Scheme)
	}
	body, err := opener.Open(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", loc.Raw, err)
	}
	defer body.Close() //nolint:errcheck

	tmp, err := os.CreateTemp(f.tempDir, "duckbi-*"+filepath.Ext(loc.Key))
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	n, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("download %s: %w", loc.Raw, err)
	}
	f.logger.Debug("fetched remote file source", "uri", loc.Raw, "bytes", n)

	name := tmp.Name()
	return &LocalFile{Path: name, release: func() { _ = os.Remove(name) }}, nil
}

// S3Opener reads objects from S3-compatible storage.
type S3Opener struct {
	client *s3.Client
}

// NewS3Opener creates an S3 client from static credentials. A custom endpoint
// switches to path-style addressing for S3-compatible providers.
func NewS3Opener(st config.StorageConfig) *S3Opener {
	region := "us-east-1"
	if st.S3Region != nil {
		region = *st.S3Region
	}
	opts := s3.Options{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(*st.S3KeyID, *st.S3Secret, ""),
	}
	if st.S3Endpoint != nil {
		opts.BaseEndpoint = aws.String("https://" + *st.S3Endpoint)
		opts.UsePathStyle = true
	}
	return &S3Opener{client: s3.New(opts)}
}

// Open implements ObjectOpener.
func (o *S3Opener) Open(ctx context.Context, loc Location) (io.ReadCloser, error) {
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// GCSOpener reads objects from Google Cloud Storage. A client is created per
// read so idle credentials are not held between runs.
type GCSOpener struct {
	keyFile string
}

// Open implements ObjectOpener.
func (o *GCSOpener) Open(ctx context.Context, loc Location) (io.ReadCloser, error) {
	var opts []option.ClientOption
	if o.keyFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, o.keyFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	r, err := client.Bucket(loc.Bucket).Object(loc.Key).NewReader(ctx)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &closeBoth{ReadCloser: r, client: client}, nil
}

type closeBoth struct {
	io.ReadCloser
	client *gcs.Client
}

func (c *closeBoth) Close() error {
	err := c.ReadCloser.Close()
	if cerr := c.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// AzureOpener reads blobs with shared-key credentials.
type AzureOpener struct {
	client *azblob.Client
}

// NewAzureOpener creates a blob client for the given storage account.
func NewAzureOpener(accountName, accountKey string) (*AzureOpener, error) {
	cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("create shared key credential: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net", accountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return &AzureOpener{client: client}, nil
}

// Open implements ObjectOpener.
func (o *AzureOpener) Open(ctx context.Context, loc Location) (io.ReadCloser, error) {
	resp, err := o.client.DownloadStream(ctx, loc.Bucket, loc.Key, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
