package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HealthPoller continuously monitors backend health in the background.
type HealthPoller struct {
	registry *Registry
	logger   zerolog.Logger
	interval time.Duration

	mu         sync.Mutex
	lastStatus map[string]bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewHealthPoller(registry *Registry, logger zerolog.Logger, interval time.Duration) *HealthPoller {
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}
	return &HealthPoller{
		registry:   registry,
		logger:     logger.With().Str("component", "health_poller").Logger(),
		interval:   interval,
		lastStatus: make(map[string]bool),
		done:       make(chan struct{}),
	}
}

func (hp *HealthPoller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	hp.cancel = cancel

	hp.logger.Info().Dur("interval", hp.interval).Msg("starting backend health poller")
	go hp.loop(ctx)
}

func (hp *HealthPoller) Stop() {
	if hp.cancel != nil {
		hp.cancel()
	}
	<-hp.done
	hp.logger.Info().Msg("health poller stopped")
}

func (hp *HealthPoller) loop(ctx context.Context) {
	defer close(hp.done)

	hp.poll(ctx)

	ticker := time.NewTicker(hp.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hp.poll(ctx)
		}
	}
}

func (hp *HealthPoller) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, hp.interval/2)
	defer cancel()

	backends := hp.registry.AllBackends()

	var wg sync.WaitGroup
	for _, b := range backends {
		agent, ok := hp.registry.GetAgent(b.ID)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(b *Backend, agent Agent) {
			defer wg.Done()
			status := agent.HealthCheck(pollCtx)
			hp.record(b, status)
		}(b, agent)
	}
	wg.Wait()
}

func (hp *HealthPoller) record(b *Backend, status HealthStatus) {
	hp.mu.Lock()
	wasHealthy, known := hp.lastStatus[b.ID]
	hp.lastStatus[b.ID] = status.Healthy
	hp.mu.Unlock()

	if known && wasHealthy != status.Healthy {
		transition := "recovered"
		if !status.Healthy {
			transition = "degraded"
		}
		hp.logger.Warn().
			Str("backend", b.Name).
			Str("transition", transition).
			Str("error", status.Error).
			Dur("latency", status.Latency).
			Msg("backend status change")
	}

	if status.Healthy {
		b.SetStatus(Healthy)
	} else {
		b.SetStatus(Unhealthy)
	}
}
