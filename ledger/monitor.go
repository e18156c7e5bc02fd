/*
monitor.go - Scheduled chain verification

PURPOSE:
  Periodically re-verifies every tenant's hash chains in the background
  and persists the outcome as verification runs. This is the durable
  logging path for ChainBroken: a tampered or corrupted chain is found
  without waiting for a compliance export to ask.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Enumerates tenants from the store, verifies each registered
    document type's chain
  - Records every run for audit and UI display
  - Broken chains are logged at error level by the verifier

USAGE:
  monitor := ledger.NewMonitor(store, verifier, log)
  monitor.Start()
  // ... later
  monitor.Stop()

SEE ALSO:
  - verify.go: The per-chain verification and run records
*/
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Monitor re-verifies all chains on a fixed interval.
type Monitor struct {
	Store         Store
	Verifier      *Verifier
	CheckInterval time.Duration
	Enabled       bool
	Log           zerolog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewMonitor(store Store, verifier *Verifier, log zerolog.Logger) *Monitor {
	return &Monitor{
		Store:         store,
		Verifier:      verifier,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Log:           log.With().Str("component", "monitor").Logger(),
		stop:          make(chan struct{}),
	}
}

// Start begins the background verification loop.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.Enabled {
		m.Log.Info().Msg("monitor disabled, not starting")
		return
	}

	m.ticker = time.NewTicker(m.CheckInterval)
	m.wg.Add(1)
	go m.run()
	m.Log.Info().Dur("interval", m.CheckInterval).Msg("monitor started")
}

// Stop stops the loop and waits for an in-flight sweep to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ticker != nil {
		m.ticker.Stop()
		close(m.stop)
		m.wg.Wait()
		m.Log.Info().Msg("monitor stopped")
	}
}

func (m *Monitor) run() {
	defer m.wg.Done()

	// Sweep immediately on start
	m.sweep()

	for {
		select {
		case <-m.ticker.C:
			m.sweep()
		case <-m.stop:
			return
		}
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (m *Monitor) RunNow() {
	m.sweep()
}

func (m *Monitor) sweep() {
	ctx := context.Background()

	tenants, err := m.Store.ListTenants(ctx)
	if err != nil {
		m.Log.Error().Err(err).Msg("failed to list tenants")
		return
	}

	checked := 0
	broken := 0
	for _, tenant := range tenants {
		for _, t := range ListTypes() {
			report, err := m.Verifier.Run(ctx, tenant, t.TypeID())
			if err != nil {
				m.Log.Error().Err(err).
					Str("tenant_id", string(tenant)).
					Str("doc_type", t.TypeID()).
					Msg("chain verification failed to run")
				continue
			}
			checked++
			if !report.Valid {
				broken++
			}
		}
	}

	if broken > 0 {
		m.Log.Error().Int("chains", checked).Int("broken", broken).Msg("sweep found broken chains")
	} else {
		m.Log.Debug().Int("chains", checked).Msg("sweep completed")
	}
}
