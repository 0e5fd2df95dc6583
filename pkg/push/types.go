package push

import (
	"github.com/google/uuid"
	"github.com/pylonhq/pylon/pkg/wire"
)

type HandleID uuid.UUID

// Handle is the live transport used to push envelopes to one device. The
// connection registry holds exactly one handle per device; handle-less
// records exist only for side-channel registrations.
type Handle interface {
	ID() HandleID
	Send(env wire.Envelope) error
	Close() error
}
