package notify

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/solatis/watchkeeper/internal/types"
)

// NVR locates the video recorder UI used for deep links.
type NVR struct {
	BaseURL  string
	ServerID string
}

// Links are the URLs attached to one notification.
type Links struct {
	Timeline string
}

// BuildLinks returns the timeline deep link for camera at ts.
// An unconfigured NVR yields empty links.
func BuildLinks(nvr NVR, camera types.DeviceID, ts time.Time) Links {
	if nvr.BaseURL == "" {
		return Links{}
	}
	q := url.Values{}
	q.Set("time", fmt.Sprintf("%d", ts.UnixMilli()))
	q.Set("from", "notification")
	if nvr.ServerID != "" {
		q.Set("serverId", nvr.ServerID)
	}
	q.Set("disableTransition", "true")

	base := strings.TrimRight(nvr.BaseURL, "/")
	return Links{
		Timeline: fmt.Sprintf("%s/#/timeline/%s?%s", base, url.PathEscape(string(camera)), q.Encode()),
	}
}
