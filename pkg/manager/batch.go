package manager

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/pkgmng/pkgmng/pkg/cache"
)

// batchWorkers bounds how many packages a batch fetches concurrently.
const batchWorkers = 4

// Request pairs a descriptor with its per-package fetch behavior.
type Request struct {
	Descriptor  *cache.Descriptor
	KeepUpdated bool
}

// ProcessAll fetches every request, at most batchWorkers at a time. Requests
// must name distinct packages (manifest parsing enforces this); each package
// subtree is then touched by exactly one worker. The first failure cancels
// the remaining work and is returned.
func (m *Manager) ProcessAll(ctx context.Context, reqs []Request) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchWorkers)

	for _, req := range reqs {
		g.Go(func() error {
			_, err := m.Process(ctx, req.Descriptor, req.KeepUpdated)
			return err
		})
	}

	return g.Wait()
}
