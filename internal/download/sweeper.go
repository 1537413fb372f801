package download

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// StaleDownloadStore captures the cleanup operation required by the sweeper.
type StaleDownloadStore interface {
	// FailStale marks reserved downloads older than the cutoff as failed and
	// returns how many rows were moved.
	FailStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// SweeperConfig controls the cadence of the background sweep.
type SweeperConfig struct {
	Interval time.Duration
	MaxAge   time.Duration
}

// Sweeper periodically fails download rows stuck in reserved, covering
// crashes and timeouts that aborted a pipeline run after reservation. The
// accounting stays fail-closed: swept rows keep their quota slot.
type Sweeper struct {
	store  StaleDownloadStore
	cfg    SweeperConfig
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewSweeper constructs and starts the background sweep loop.
func NewSweeper(store StaleDownloadStore, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Sweeper{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}

	s.wg.Add(1)
	go s.run()

	return s
}

// WithNowFunc overrides the time source. Intended for tests.
func (s *Sweeper) WithNowFunc(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Shutdown stops the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Shutdown(ctx context.Context) error {
	s.once.Do(s.cancel)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := s.now().UTC().Add(-s.cfg.MaxAge)
	swept, err := s.store.FailStale(ctx, cutoff)
	if err != nil {
		s.logger.Error("stale download sweep failed", "error", err)
		return
	}
	if swept > 0 {
		s.logger.Info("stale downloads failed", "count", swept, "cutoff", cutoff)
	}
}
