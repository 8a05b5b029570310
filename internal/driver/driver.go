// Package driver defines the narrow interface the worker agent uses to
// control sandbox containers on its host. The actual container runtime is
// out of scope for this system; this interface and its logging no-op
// implementation exist so the agent can be built and tested against a
// stable contract, modeled on the create/connect/pause/resume/delete
// surface of RuntimeManager in the system this was distilled from.
package driver

import (
	"context"

	"github.com/drsoft-oss/runtimefleet/internal/logging"
)

// Driver creates and controls sandbox runtimes identified by an opaque id.
type Driver interface {
	Create(ctx context.Context, id string) error
	Connect(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// NoopDriver logs every call and always succeeds. It stands in for the
// container runtime driver, which is explicitly out of scope.
type NoopDriver struct {
	log *logging.Logger
}

// NewNoopDriver creates a NoopDriver.
func NewNoopDriver(log *logging.Logger) *NoopDriver {
	if log == nil {
		log = logging.Default("[driver]")
	}
	return &NoopDriver{log: log}
}

func (d *NoopDriver) Create(_ context.Context, id string) error {
	d.log.Infof("create %s (no-op)", id)
	return nil
}

func (d *NoopDriver) Connect(_ context.Context, id string) error {
	d.log.Infof("connect %s (no-op)", id)
	return nil
}

func (d *NoopDriver) Pause(_ context.Context, id string) error {
	d.log.Infof("pause %s (no-op)", id)
	return nil
}

func (d *NoopDriver) Resume(_ context.Context, id string) error {
	d.log.Infof("resume %s (no-op)", id)
	return nil
}

func (d *NoopDriver) Delete(_ context.Context, id string) error {
	d.log.Infof("delete %s (no-op)", id)
	return nil
}
