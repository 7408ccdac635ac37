package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/solatis/watchkeeper/internal/types"
)

// ObjectStore is the subset of *minio.Client used by Archive.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucket, object string, expires time.Duration, params url.Values) (*url.URL, error)
}

// Archive stores snapshots in an S3-compatible bucket and hands out
// presigned URLs so sinks that fetch images themselves can reach them.
type Archive struct {
	store  ObjectStore
	bucket string
	expiry time.Duration
}

// NewMinioClient connects to an S3-compatible endpoint.
func NewMinioClient(endpoint, accessKey, secretKey string, secure bool) (*minio.Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return client, nil
}

// NewArchive creates an archive writing into bucket. URLs stay valid for expiry.
func NewArchive(store ObjectStore, bucket string, expiry time.Duration) *Archive {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &Archive{store: store, bucket: bucket, expiry: expiry}
}

// EnsureBucket creates the bucket when missing.
func (a *Archive) EnsureBucket(ctx context.Context) error {
	exists, err := a.store.BucketExists(ctx, a.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return a.store.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{})
	}
	return nil
}

// ObjectName returns the key used for a capture of camera at ts.
func ObjectName(camera types.DeviceID, ts time.Time) string {
	ts = ts.UTC()
	return fmt.Sprintf("%s/%s/%d.jpg", camera, ts.Format("2006-01-02"), ts.UnixMilli())
}

// Store uploads img and returns its presigned URL.
func (a *Archive) Store(ctx context.Context, camera types.DeviceID, ts time.Time, img *types.Image) (string, error) {
	object := ObjectName(camera, ts)
	contentType := img.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	_, err := a.store.PutObject(ctx, a.bucket, object, bytes.NewReader(img.Data), int64(len(img.Data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", types.WrapTransient("archive", object, err)
	}
	u, err := a.store.PresignedGetObject(ctx, a.bucket, object, a.expiry, nil)
	if err != nil {
		return "", types.WrapTransient("presign", object, err)
	}
	return u.String(), nil
}

// Archiving decorates a Snapshotter so every capture is archived and its
// URL filled in. Archive failures are logged; the image is still returned.
type Archiving struct {
	inner   Snapshotter
	archive *Archive
	logger  *slog.Logger
	now     func() time.Time
}

// NewArchiving wraps inner.
func NewArchiving(inner Snapshotter, archive *Archive, logger *slog.Logger) *Archiving {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiving{inner: inner, archive: archive, logger: logger, now: time.Now}
}

func (a *Archiving) TakeSnapshot(ctx context.Context, camera types.DeviceID, size types.SizeHint) (*types.Image, error) {
	img, err := a.inner.TakeSnapshot(ctx, camera, size)
	if err != nil {
		return nil, err
	}
	u, err := a.archive.Store(ctx, camera, a.now(), img)
	if err != nil {
		a.logger.Warn("snapshot archive failed", "camera", camera, "error", err)
		return img, nil
	}
	img.URL = u
	return img, nil
}
