package ingest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cardeasec/cardea/alert"
	"github.com/cardeasec/cardea/analysis"
	"github.com/cardeasec/cardea/config"
	zlog "github.com/cardeasec/cardea/logger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const poolQueueFactor = 16

// ScoringPool runs the background scorer over admitted alerts. Each alert is
// submitted exactly once; submission is non-blocking and a full queue drops
// the job rather than stalling intake.
type ScoringPool struct {
	Scored  atomic.Uint64
	Dropped atomic.Uint64

	cfg     *config.Config
	scorer  *analysis.Scorer
	jobs    chan alert.Alert
	dropLog *rate.Limiter

	mu     sync.RWMutex
	closed bool
}

func NewScoringPool(cfg *config.Config, scorer *analysis.Scorer) *ScoringPool {
	workers := int(cfg.Oracle.ScoringWorkers)
	if workers < 1 {
		workers = 1
	}
	return &ScoringPool{
		cfg:    cfg,
		scorer: scorer,
		jobs:   make(chan alert.Alert, workers*poolQueueFactor),
		// at most one drop warning per second regardless of intake volume
		dropLog: rate.NewLimiter(1, 1),
	}
}

// Run blocks until the context is cancelled, then drains the queued jobs
func (p *ScoringPool) Run(ctx context.Context) error {
	workers := int(p.cfg.Oracle.ScoringWorkers)
	if workers < 1 {
		workers = 1
	}

	g := errgroup.Group{}
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			p.work()
			return nil
		})
	}
	<-ctx.Done()
	p.mu.Lock()
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	return g.Wait()
}

func (p *ScoringPool) work() {
	logger := zlog.GetLogger()
	for built := range p.jobs {
		// scoring outlives the intake request; a fresh context means
		// shutdown only stops new work, not the job in flight
		if err := p.scorer.Process(context.Background(), built); err != nil {
			logger.Warn().Err(err).Str("alert_id", built.ID).Msg("background scoring failed")
			continue
		}
		p.Scored.Add(1)
	}
}

// Submit queues one alert for scoring, reporting whether it was accepted.
// Submissions after shutdown are dropped.
func (p *ScoringPool) Submit(built alert.Alert) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.Dropped.Add(1)
		return false
	}

	select {
	case p.jobs <- built:
		return true
	default:
		p.Dropped.Add(1)
		if p.dropLog.Allow() {
			logger := zlog.GetLogger()
			logger.Warn().
				Str("alert_id", built.ID).
				Uint64("dropped_total", p.Dropped.Load()).
				Msg("scoring queue full, alert left unscored")
		}
		return false
	}
}
