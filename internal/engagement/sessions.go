package engagement

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonesrussell/amplify/internal/clock"
	"github.com/jonesrussell/amplify/internal/domain"
	"github.com/jonesrussell/amplify/internal/logger"
)

// SessionStore persists per-post engagement sessions.
type SessionStore interface {
	ListOpenSessions(ctx context.Context, limit int) ([]domain.PostEngagementSession, error)
	AdvancePhase(ctx context.Context, postID string, from, to domain.SessionPhase, enteredAt time.Time) error
}

// PhaseSchedule maps each phase to its offset from publish time. A session
// enters a phase once that much time has elapsed since the post went out.
type PhaseSchedule map[domain.SessionPhase]time.Duration

// DefaultPhaseSchedule is the standard engagement lifecycle.
func DefaultPhaseSchedule() PhaseSchedule {
	return PhaseSchedule{
		domain.PhaseInitialHook:      0,
		domain.PhaseActiveDiscussion: 15 * time.Minute,
		domain.PhaseExpertPhase:      2 * time.Hour,
		domain.PhaseConversionPush:   8 * time.Hour,
		domain.PhaseRetention:        24 * time.Hour,
	}
}

// phaseFor returns the phase a session should be in after the given elapsed
// time since publish.
func (s PhaseSchedule) phaseFor(elapsed time.Duration) domain.SessionPhase {
	current := domain.PhaseInitialHook
	for _, phase := range []domain.SessionPhase{
		domain.PhaseActiveDiscussion,
		domain.PhaseExpertPhase,
		domain.PhaseConversionPush,
		domain.PhaseRetention,
	} {
		offset, ok := s[phase]
		if !ok || elapsed < offset {
			break
		}
		current = phase
	}
	return current
}

// SessionWorkerConfig holds phase advancement loop options.
type SessionWorkerConfig struct {
	TickInterval time.Duration
	BatchSize    int
}

// SessionWorker advances open sessions along the phase schedule. Phases move
// strictly forward one step at a time; a worker that was down simply walks a
// session through the missed phases on its next tick.
type SessionWorker struct {
	store    SessionStore
	schedule PhaseSchedule
	cfg      SessionWorkerConfig
	clock    clock.Clock
	logger   logger.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// NewSessionWorker creates a phase advancement worker.
func NewSessionWorker(store SessionStore, schedule PhaseSchedule, cfg SessionWorkerConfig, clk clock.Clock, log logger.Logger) *SessionWorker {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if schedule == nil {
		schedule = DefaultPhaseSchedule()
	}
	return &SessionWorker{
		store:    store,
		schedule: schedule,
		cfg:      cfg,
		clock:    clk,
		logger:   log,
		stopChan: make(chan struct{}),
	}
}

// Start launches the advancement loop.
func (w *SessionWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true

	w.wg.Add(1)
	go w.run(ctx)
	w.logger.Info("session phase worker started",
		logger.Duration("tick_interval", w.cfg.TickInterval))
}

// Stop halts the loop and waits for the in-flight tick.
func (w *SessionWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	w.started = false
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("session phase worker stopped")
}

func (w *SessionWorker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick advances every open session that is due for a later phase.
func (w *SessionWorker) Tick(ctx context.Context) {
	sessions, err := w.store.ListOpenSessions(ctx, w.cfg.BatchSize)
	if err != nil {
		w.logger.Error("failed to list open sessions", logger.Error(err))
		return
	}

	now := w.clock.Now()
	for i := range sessions {
		w.advance(ctx, &sessions[i], now)
	}
}

// advance walks a session forward one phase at a time until it reaches the
// phase the elapsed time calls for. Each step is a CAS in the store, so a
// concurrent worker advancing the same session just loses the race cleanly.
func (w *SessionWorker) advance(ctx context.Context, session *domain.PostEngagementSession, now time.Time) {
	target := w.schedule.phaseFor(now.Sub(session.PublishedAt))
	targetIdx := domain.PhaseIndex(target)

	current := session.Phase
	for domain.PhaseIndex(current) < targetIdx {
		next := nextPhase(current)
		if next == "" {
			return
		}
		enteredAt := session.PublishedAt.Add(w.schedule[next])

		err := w.store.AdvancePhase(ctx, session.PostID, current, next, enteredAt)
		if errors.Is(err, domain.ErrNotFound) {
			return
		}
		if err != nil {
			w.logger.Error("failed to advance session phase",
				logger.String("post_id", session.PostID),
				logger.String("from", string(current)),
				logger.String("to", string(next)),
				logger.Error(err))
			return
		}

		w.logger.Info("advanced session phase",
			logger.String("post_id", session.PostID),
			logger.String("phase", string(next)))
		current = next
	}
}

func nextPhase(p domain.SessionPhase) domain.SessionPhase {
	switch p {
	case domain.PhaseInitialHook:
		return domain.PhaseActiveDiscussion
	case domain.PhaseActiveDiscussion:
		return domain.PhaseExpertPhase
	case domain.PhaseExpertPhase:
		return domain.PhaseConversionPush
	case domain.PhaseConversionPush:
		return domain.PhaseRetention
	}
	return ""
}
