package snapshot

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/watchkeeper/internal/types"
)

func TestHTTPCamera(t *testing.T) {
	var gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg-bytes"))
	}))
	defer server.Close()

	cam, err := NewHTTPCamera(server.URL+"/", nil)
	require.NoError(t, err)

	img, err := cam.TakeSnapshot(context.Background(), "front", types.SizeHint{Width: 1280, Height: 720})
	require.NoError(t, err)
	assert.Equal(t, "/cameras/front/snapshot", gotPath)
	assert.Equal(t, "height=720&width=1280", gotQuery)
	assert.Equal(t, []byte("jpeg-bytes"), img.Data)
	assert.Equal(t, "image/jpeg", img.ContentType)
}

func TestHTTPCamera_ErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cam, err := NewHTTPCamera(server.URL, nil)
	require.NoError(t, err)
	_, err = cam.TakeSnapshot(context.Background(), "front", types.SizeHint{})
	assert.True(t, types.IsTransient(err))
}

type fakeStore struct {
	objects map[string][]byte
	putErr  error
	buckets map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, buckets: map[string]bool{}}
}

func (f *fakeStore) BucketExists(_ context.Context, bucket string) (bool, error) {
	return f.buckets[bucket], nil
}

func (f *fakeStore) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.buckets[bucket] = true
	return nil
}

func (f *fakeStore) PutObject(_ context.Context, bucket, object string, r io.Reader, _ int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	data, _ := io.ReadAll(r)
	f.objects[bucket+"/"+object] = data
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: int64(len(data))}, nil
}

func (f *fakeStore) PresignedGetObject(_ context.Context, bucket, object string, _ time.Duration, _ url.Values) (*url.URL, error) {
	return url.Parse("https://s3.local/" + bucket + "/" + object + "?sig=x")
}

func TestArchiving(t *testing.T) {
	store := newFakeStore()
	archive := NewArchive(store, "snaps", time.Hour)
	require.NoError(t, archive.EnsureBucket(context.Background()))
	assert.True(t, store.buckets["snaps"])

	inner := Func(func(_ context.Context, _ types.DeviceID, size types.SizeHint) (*types.Image, error) {
		return &types.Image{Data: []byte("jpeg"), Size: size}, nil
	})
	a := NewArchiving(inner, archive, nil)
	a.now = func() time.Time { return time.UnixMilli(1714555800000) }

	img, err := a.TakeSnapshot(context.Background(), "front", types.SizeHint{Width: 640})
	require.NoError(t, err)
	assert.Equal(t, "https://s3.local/snaps/front/2024-05-01/1714555800000.jpg?sig=x", img.URL)
	assert.Equal(t, []byte("jpeg"), store.objects["snaps/front/2024-05-01/1714555800000.jpg"])
}

func TestArchiving_StoreFailureKeepsImage(t *testing.T) {
	store := newFakeStore()
	store.putErr = errors.New("bucket gone")
	inner := Func(func(context.Context, types.DeviceID, types.SizeHint) (*types.Image, error) {
		return &types.Image{Data: []byte("jpeg")}, nil
	})

	img, err := NewArchiving(inner, NewArchive(store, "snaps", 0), nil).TakeSnapshot(context.Background(), "front", types.SizeHint{})
	require.NoError(t, err)
	assert.Empty(t, img.URL)
	assert.Equal(t, []byte("jpeg"), img.Data)
}
