package netstate

import (
	"context"
	"sync/atomic"
	"time"

	"storesync/internal/domain"
	"storesync/internal/events"

	"github.com/rs/zerolog"
)

// Monitor tracks reachability of the remote store by probing its health
// endpoint and publishes transition events. The coordinator reads the
// current state; the drain worker reacts to offline→online transitions.
type Monitor struct {
	remote   domain.RemoteStore
	bus      domain.EventPublisher
	logger   *zerolog.Logger
	interval time.Duration
	online   atomic.Bool
}

func NewMonitor(remote domain.RemoteStore, bus domain.EventPublisher, interval time.Duration, logger *zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	m := &Monitor{
		remote:   remote,
		bus:      bus,
		logger:   logger,
		interval: interval,
	}
	// Assume online until the first probe says otherwise; an unconfigured
	// remote is permanently offline.
	m.online.Store(remote != nil)
	return m
}

// Online reports the last observed reachability state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Start probes on an interval until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	if m.remote == nil {
		m.logger.Warn().Msg("netstate: no remote store configured, staying offline")
		return
	}

	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check probes the remote once and returns the resulting state. Used by the
// interval loop and by explicit "sync now" flows that want a fresh answer.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.remote == nil {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	err := m.remote.Health(probeCtx)
	nowOnline := err == nil

	prev := m.online.Swap(nowOnline)
	if prev == nowOnline {
		return nowOnline
	}

	if nowOnline {
		m.logger.Info().Msg("netstate: remote store reachable again")
		m.publish(events.EventOnline, true)
	} else {
		m.logger.Warn().Err(err).Msg("netstate: remote store unreachable")
		m.publish(events.EventOffline, false)
	}
	return nowOnline
}

func (m *Monitor) publish(eventType string, online bool) {
	if m.bus == nil {
		return
	}
	_ = m.bus.PublishJSON(eventType, events.ConnectivityEventPayload{
		Online:    online,
		CheckedAt: time.Now(),
	})
}
