// Package objstore implements storage.Backend on S3-compatible object
// storage, one bucket per dataset.
package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/NOAA-OWP/DMOD-sub002/errors"
	"github.com/NOAA-OWP/DMOD-sub002/storage"
)

// Default timeouts for object-store operations.
const (
	DefaultMetadataTimeout = 10 * time.Second
	DefaultDataTimeout     = 60 * time.Second
)

// Config holds connection and timeout settings.
type Config struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	UseSSL    bool   `json:"use_ssl" yaml:"use_ssl"`

	// MetadataTimeout bounds list, stat and delete calls. Defaults to 10s.
	MetadataTimeout time.Duration `json:"metadata_timeout" yaml:"metadata_timeout"`
	// DataTimeout bounds get and put calls. Defaults to 60s.
	DataTimeout time.Duration `json:"data_timeout" yaml:"data_timeout"`
}

// Store is an object-store backend. Each dataset owns one bucket, which is
// why dataset names must already satisfy bucket naming rules.
type Store struct {
	client          *minio.Client
	endpoint        string
	metadataTimeout time.Duration
	dataTimeout     time.Duration
}

var _ storage.Backend = (*Store)(nil)

// New connects to the object store. The connection is verified eagerly so a
// bad endpoint fails at startup, not on first use.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "objstore", "New", "endpoint validation")
	}
	if cfg.MetadataTimeout == 0 {
		cfg.MetadataTimeout = DefaultMetadataTimeout
	}
	if cfg.DataTimeout == 0 {
		cfg.DataTimeout = DefaultDataTimeout
	}

	// ResponseHeaderTimeout bounds time to first byte, not whole transfers.
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: cfg.MetadataTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Transport: transport,
	})
	if err != nil {
		return nil, errors.WrapFatal(err, "objstore", "New", "create client")
	}

	s := &Store{
		client:          client,
		endpoint:        cfg.Endpoint,
		metadataTimeout: cfg.MetadataTimeout,
		dataTimeout:     cfg.DataTimeout,
	}

	probeCtx, cancel := s.withMetadataTimeout(ctx)
	defer cancel()
	if _, err := client.ListBuckets(probeCtx); err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrStorageUnavailable, err),
			"objstore", "New", "verify connection")
	}

	return s, nil
}

func (s *Store) withMetadataTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.metadataTimeout)
}

func (s *Store) withDataTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.dataTimeout)
}

// Create provisions the dataset's bucket.
func (s *Store) Create(ctx context.Context, dataset string) error {
	ctx, cancel := s.withMetadataTimeout(ctx)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, dataset)
	if err != nil {
		return errors.WrapTransient(err, "objstore", "Create", "check bucket")
	}
	if exists {
		return errors.WrapInvalid(errors.ErrDatasetExists, "objstore", "Create", dataset)
	}
	if err := s.client.MakeBucket(ctx, dataset, minio.MakeBucketOptions{}); err != nil {
		return errors.WrapTransient(err, "objstore", "Create", "make bucket")
	}
	return nil
}

// Delete removes the bucket and all objects in it.
func (s *Store) Delete(ctx context.Context, dataset string) error {
	listCtx, cancel := s.withDataTimeout(ctx)
	defer cancel()

	for obj := range s.client.ListObjects(listCtx, dataset, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return errors.WrapTransient(obj.Err, "objstore", "Delete", "list objects")
		}
		if err := s.client.RemoveObject(listCtx, dataset, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return errors.WrapTransient(err, "objstore", "Delete", "remove object")
		}
	}

	ctx, cancel2 := s.withMetadataTimeout(ctx)
	defer cancel2()
	if err := s.client.RemoveBucket(ctx, dataset); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchBucket" {
			return errors.WrapInvalid(errors.ErrDatasetNotFound, "objstore", "Delete", dataset)
		}
		return errors.WrapTransient(err, "objstore", "Delete", "remove bucket")
	}
	return nil
}

// Exists reports whether the dataset's bucket is provisioned.
func (s *Store) Exists(ctx context.Context, dataset string) (bool, error) {
	ctx, cancel := s.withMetadataTimeout(ctx)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, dataset)
	if err != nil {
		return false, errors.WrapTransient(err, "objstore", "Exists", "check bucket")
	}
	return exists, nil
}

// AddData writes one object.
func (s *Store) AddData(ctx context.Context, dataset, item string, data []byte) error {
	ctx, cancel := s.withDataTimeout(ctx)
	defer cancel()

	_, err := s.client.PutObject(ctx, dataset, item, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchBucket" {
			return errors.WrapInvalid(errors.ErrDatasetNotFound, "objstore", "AddData", dataset)
		}
		return errors.WrapTransient(err, "objstore", "AddData", "put object")
	}
	return nil
}

// GetData reads one object.
func (s *Store) GetData(ctx context.Context, dataset, item string) ([]byte, error) {
	ctx, cancel := s.withDataTimeout(ctx)
	defer cancel()

	obj, err := s.client.GetObject(ctx, dataset, item, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.WrapTransient(err, "objstore", "GetData", "get object")
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		switch minio.ToErrorResponse(err).Code {
		case "NoSuchKey":
			return nil, errors.WrapInvalid(errors.ErrItemNotFound, "objstore", "GetData", item)
		case "NoSuchBucket":
			return nil, errors.WrapInvalid(errors.ErrDatasetNotFound, "objstore", "GetData", dataset)
		}
		return nil, errors.WrapTransient(err, "objstore", "GetData", "read object")
	}
	return data, nil
}

// ListFiles returns metadata for every object in the dataset. The slice is
// empty, never nil, when the dataset holds nothing.
func (s *Store) ListFiles(ctx context.Context, dataset string) ([]storage.FileInfo, error) {
	ctx, cancel := s.withMetadataTimeout(ctx)
	defer cancel()

	files := make([]storage.FileInfo, 0)
	for obj := range s.client.ListObjects(ctx, dataset, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			if minio.ToErrorResponse(obj.Err).Code == "NoSuchBucket" {
				return nil, errors.WrapInvalid(errors.ErrDatasetNotFound, "objstore", "ListFiles", dataset)
			}
			return nil, errors.WrapTransient(obj.Err, "objstore", "ListFiles", "list objects")
		}
		files = append(files, storage.FileInfo{
			Name:     obj.Key,
			Size:     obj.Size,
			Modified: obj.LastModified,
		})
	}
	return files, nil
}

// AccessLocation returns the endpoint-qualified bucket address.
func (s *Store) AccessLocation(dataset string) string {
	return fmt.Sprintf("%s/%s", s.endpoint, dataset)
}
