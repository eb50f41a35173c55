package handler

import (
	"context"
	"errors"

	"parcelproof/internal/handover/ports"
)

var errNoFix = errors.New("device reported no location fix")

// reportedLocation serves the fix the device sent with the request.
type reportedLocation struct {
	fix *ports.Fix
}

func (l reportedLocation) CurrentLocation(ctx context.Context) (ports.Fix, error) {
	if err := ctx.Err(); err != nil {
		return ports.Fix{}, err
	}
	if l.fix == nil {
		return ports.Fix{}, errNoFix
	}
	return *l.fix, nil
}

// submittedPhoto serves the photo the device sent with the request.
type submittedPhoto struct {
	photo ports.Photo
}

func (c submittedPhoto) CapturePhoto(ctx context.Context) (ports.Photo, error) {
	if err := ctx.Err(); err != nil {
		return ports.Photo{}, err
	}
	if len(c.photo.Bytes) == 0 {
		return ports.Photo{}, ports.ErrCaptureCancelled
	}
	return c.photo, nil
}
