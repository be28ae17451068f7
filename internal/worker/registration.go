package worker

import (
	"context"
	"sync"
)

// RegistrationManager makes "only one registration in flight" explicit: it is
// constructed once at startup and injected into every consumer that needs the
// worker registered, instead of each consumer racing a shared flag.
type RegistrationManager struct {
	w    *Worker
	once sync.Once
	err  error
}

func NewRegistrationManager(w *Worker) *RegistrationManager {
	return &RegistrationManager{w: w}
}

// Register installs and activates the worker exactly once. Concurrent callers
// block until the first registration finishes and share its result.
func (m *RegistrationManager) Register(ctx context.Context) error {
	m.once.Do(func() {
		if err := m.w.Install(ctx); err != nil {
			m.err = err
			return
		}
		m.err = m.w.Activate(ctx)
	})
	return m.err
}
