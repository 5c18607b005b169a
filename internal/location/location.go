// Package location describes the device-side location collaborator: the
// permission gate, single best-effort fixes and the sample stream.
package location

import (
	"context"
	"errors"
	"time"

	"backend-karttracker/internal/shared/geo"
)

var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrNoFix            = errors.New("location fix unavailable")
)

type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Sample is one position report. SpeedMps is nil when the platform did not
// supply a velocity.
type Sample struct {
	Coordinate geo.Coordinate `json:"coordinate"`
	SpeedMps   *float64       `json:"speed,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

type Provider interface {
	RequestPermission(ctx context.Context) (Permission, error)
	CurrentPosition(ctx context.Context) (geo.Coordinate, error)
}

// RequireGranted asks p for permission and maps anything but a grant to
// ErrPermissionDenied.
func RequireGranted(ctx context.Context, p Provider) error {
	if p == nil {
		return ErrPermissionDenied
	}
	perm, err := p.RequestPermission(ctx)
	if err != nil {
		return errors.Join(ErrPermissionDenied, err)
	}
	if perm != PermissionGranted {
		return ErrPermissionDenied
	}
	return nil
}

// BestEffort returns the current fix or nil when p is absent or fails.
func BestEffort(ctx context.Context, p Provider) *geo.Coordinate {
	if p == nil {
		return nil
	}
	c, err := p.CurrentPosition(ctx)
	if err != nil {
		return nil
	}
	return &c
}

// Static is a Provider with a fixed answer. The HTTP layer uses it to wrap a
// position the client already resolved on the device.
type Static struct {
	Permission Permission
	Position   *geo.Coordinate
}

func Granted(pos *geo.Coordinate) Static {
	return Static{Permission: PermissionGranted, Position: pos}
}

func (s Static) RequestPermission(context.Context) (Permission, error) {
	if s.Permission == "" {
		return PermissionDenied, nil
	}
	return s.Permission, nil
}

func (s Static) CurrentPosition(context.Context) (geo.Coordinate, error) {
	if s.Position == nil {
		return geo.Coordinate{}, ErrNoFix
	}
	return *s.Position, nil
}
