package wait

import (
	"context"
	"sync"
)

// Group runs functions in the background and collects the first error.
type Group struct {
	wg   sync.WaitGroup
	once sync.Once
	err  error
}

func (g *Group) Add(f func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := f(); err != nil {
			g.once.Do(func() { g.err = err })
		}
	}()
}

// Wait blocks until every function returned. It returns ctx's error if ctx
// ended first, otherwise the first function error. Functions must honor ctx
// for a cancelled Wait to return.
func (g *Group) Wait(ctx context.Context) error {
	stopCh := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(stopCh)
	}()

	select {
	case <-ctx.Done():
		<-stopCh
		return ctx.Err()
	case <-stopCh:
		return g.err
	}
}
