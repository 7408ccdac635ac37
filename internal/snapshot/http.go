package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/solatis/watchkeeper/internal/types"
)

// maxSnapshotBytes caps a single capture.
const maxSnapshotBytes = 16 << 20

// HTTPCamera fetches snapshots from a detector gateway exposing
// GET {base}/cameras/{id}/snapshot?width=W&height=H.
type HTTPCamera struct {
	base   string
	client *http.Client
}

// NewHTTPCamera creates a client for the gateway at base.
func NewHTTPCamera(base string, client *http.Client) (*HTTPCamera, error) {
	if base == "" {
		return nil, errors.New("snapshot: empty gateway url")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPCamera{base: strings.TrimRight(base, "/"), client: client}, nil
}

// TakeSnapshot captures one image. Failures are transient.
func (c *HTTPCamera) TakeSnapshot(ctx context.Context, camera types.DeviceID, size types.SizeHint) (*types.Image, error) {
	q := url.Values{}
	if size.Width > 0 {
		q.Set("width", strconv.Itoa(size.Width))
	}
	if size.Height > 0 {
		q.Set("height", strconv.Itoa(size.Height))
	}
	endpoint := fmt.Sprintf("%s/cameras/%s/snapshot", c.base, url.PathEscape(string(camera)))
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, types.WrapTransient("snapshot", string(camera), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, types.WrapTransient("snapshot", string(camera), fmt.Errorf("status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, types.WrapTransient("snapshot", string(camera), err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return &types.Image{Data: data, ContentType: contentType, Size: size}, nil
}
