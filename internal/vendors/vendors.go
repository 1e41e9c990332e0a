// Package vendors selects the video generation backend for a job.
package vendors

import (
	"context"
	"fmt"

	"github.com/snappy-loop/podcaststudio/internal/poller"
	"github.com/snappy-loop/podcaststudio/internal/relay"
	"github.com/snappy-loop/podcaststudio/internal/vendor"
	"github.com/snappy-loop/podcaststudio/internal/vendors/joggai"
	"github.com/snappy-loop/podcaststudio/internal/vendors/kling"
	"github.com/snappy-loop/podcaststudio/internal/vendors/replicate"
	"github.com/snappy-loop/podcaststudio/internal/vendors/tavus"
)

// Backend submits a job to one vendor and waits for its outcome. Await
// always returns a NormalizedResult; the error carries the typed cause.
type Backend interface {
	Name() vendor.Name
	Submit(ctx context.Context, spec vendor.JobSpec) (vendor.JobHandle, error)
	Await(ctx context.Context, handle vendor.JobHandle, opts poller.Options) (vendor.NormalizedResult, error)
}

// Canceler is implemented by backends whose jobs can be stopped after
// submission.
type Canceler interface {
	Cancel(ctx context.Context, handle vendor.JobHandle) error
}

var _ Canceler = (*replicate.Client)(nil)

// Relayer is the relay call the adapters need.
type Relayer interface {
	Do(ctx context.Context, name vendor.Name, env relay.Envelope) (*relay.Response, error)
}

// Registry maps vendor names to backends.
type Registry struct {
	backends map[vendor.Name]Backend
}

// NewRegistry builds the backends for every video vendor.
func NewRegistry(r Relayer) *Registry {
	return NewRegistryWith(kling.New(r), joggai.New(r), replicate.New(r), tavus.New(r))
}

// NewRegistryWith builds a registry from explicit backends.
func NewRegistryWith(backends ...Backend) *Registry {
	m := make(map[vendor.Name]Backend, len(backends))
	for _, b := range backends {
		m[b.Name()] = b
	}
	return &Registry{backends: m}
}

// Get returns the backend for a vendor.
func (r *Registry) Get(name vendor.Name) (Backend, error) {
	b, ok := r.backends[name]
	if !ok {
		return nil, &vendor.ValidationError{Field: "vendor", Message: fmt.Sprintf("%s does not generate video", name)}
	}
	return b, nil
}
