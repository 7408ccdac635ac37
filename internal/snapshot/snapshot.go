// Package snapshot acquires and archives camera images.
package snapshot

import (
	"context"

	"github.com/solatis/watchkeeper/internal/types"
)

// Snapshotter captures an image from a camera at roughly the requested size.
type Snapshotter interface {
	TakeSnapshot(ctx context.Context, camera types.DeviceID, size types.SizeHint) (*types.Image, error)
}

// Func adapts a function to Snapshotter.
type Func func(ctx context.Context, camera types.DeviceID, size types.SizeHint) (*types.Image, error)

func (f Func) TakeSnapshot(ctx context.Context, camera types.DeviceID, size types.SizeHint) (*types.Image, error) {
	return f(ctx, camera, size)
}
