package backend

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"github.com/jbweber/ingot/internal/volume"
)

// AttachFunc uses an attached device for the duration of an Attach call.
type AttachFunc func(ctx context.Context, device string) error

// Attach attaches vol to the host, passes the device path to fn and detaches
// again. HostDetach runs on every exit path once attach has produced a
// device: when fn returns, when it fails, when ctx is cancelled and when fn
// panics (the panic is re-raised after detaching). If HostAttach fails but
// recorded a device on a volume that had none, that device is detached too.
//
// Errors from fn and from detaching are combined.
func Attach(ctx context.Context, b Backend, vol *volume.Volume, fn AttachFunc) (err error) {
	wasAttached := vol.Attached()
	device, attachErr := b.HostAttach(ctx, vol)
	if attachErr != nil {
		// A device recorded before this call belongs to someone else.
		if wasAttached || !vol.Attached() {
			return attachErr
		}
		// Partial attach, undo it before reporting
		if detachErr := b.HostDetach(context.WithoutCancel(ctx), vol); detachErr != nil {
			return multierror.Append(attachErr, fmt.Errorf("failed to detach after failed attach: %w", detachErr))
		}
		return attachErr
	}

	defer func() {
		// Detach must run even if the caller's context is already done.
		detachErr := b.HostDetach(context.WithoutCancel(ctx), vol)
		if detachErr != nil {
			log.Ctx(ctx).Error().Err(detachErr).
				Str("volume", vol.Name).
				Str("device", device).
				Msg("failed to detach volume")
			err = multierror.Append(err, detachErr).ErrorOrNil()
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	return fn(ctx, device)
}
