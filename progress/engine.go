package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/planetdecred/indexerlib/events"
	"github.com/planetdecred/indexerlib/profile"
	"github.com/planetdecred/indexerlib/syncstate"
	"golang.org/x/sync/errgroup"
)

// DefaultInterval is the time between two polls while the indexer runs.
const DefaultInterval = 4 * time.Second

// HeightProber supplies the two heights compared on every tick.
type HeightProber interface {
	ChainHeight(ctx context.Context, rpcURL string) (int64, error)
	IndexerHeight(ctx context.Context) (int64, error)
}

// StateStore persists the per-profile baseline.
type StateStore interface {
	Load(profileID string) (*syncstate.SyncState, error)
	Save(profileID string, state syncstate.SyncState, force bool) error
}

type Config struct {
	Prober   HeightProber
	Store    StateStore
	Notifier events.Notifier

	// Profile returns the active profile. It is read at the start of every
	// tick.
	Profile func() profile.Profile

	// Publish receives every snapshot produced by a completed tick.
	Publish func(snapshot events.ProgressSnapshot)

	// TrayLabel, if set, receives the progress formatted as "NN%".
	TrayLabel func(label string)

	Interval time.Duration
}

// Engine polls the prober while the indexer is active and turns the heights
// into progress snapshots.
type Engine struct {
	cfg Config

	activeMu sync.Mutex
	active   bool
	wake     chan struct{}

	// held for the duration of a tick
	tickMu sync.Mutex

	mu              sync.Mutex
	baseline        *int64
	baselineProfile string
	last            events.ProgressSnapshot
}

func New(cfg Config) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Engine{
		cfg:  cfg,
		wake: make(chan struct{}, 1),
	}
}

// SetActive starts or stops polling. It never blocks.
func (e *Engine) SetActive(active bool) {
	e.activeMu.Lock()
	changed := e.active != active
	e.active = active
	e.activeMu.Unlock()

	if !changed {
		return
	}
	if active {
		log.Info("Starting progress sync loop")
	} else {
		log.Info("Stopping progress sync loop")
	}

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) isActive() bool {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	return e.active
}

// Run polls every interval while the engine is active until ctx is done.
// Ticks run inline so two ticks never overlap.
func (e *Engine) Run(ctx context.Context) {
	var ticker *time.Ticker
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker = nil
		}
	}
	defer stopTicker()

	for {
		// a nil channel blocks forever, so no polling happens while inactive
		var tickerChan <-chan time.Time
		if ticker != nil {
			tickerChan = ticker.C
		}

		select {
		case <-ctx.Done():
			return

		case <-e.wake:
			if e.isActive() {
				if ticker == nil {
					ticker = time.NewTicker(e.cfg.Interval)
				}
			} else {
				stopTicker()
			}

		case <-tickerChan:
			e.tickIfActive(ctx)
		}
	}
}

// Pause stops polling, waits for a tick in flight to finish and runs fn
// before any other tick can start. Polling resumes with SetActive(true).
func (e *Engine) Pause(fn func() error) error {
	e.SetActive(false)

	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	return fn()
}

// a tick already queued on the ticker is dropped once the engine is paused.
func (e *Engine) tickIfActive(ctx context.Context) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	if !e.isActive() {
		return
	}
	e.tick(ctx)
}

// Tick performs a single poll and publishes the resulting snapshot. A failed
// indexer probe aborts the tick without publishing.
func (e *Engine) Tick(ctx context.Context) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	e.tick(ctx)
}

func (e *Engine) tick(ctx context.Context) {
	p := e.cfg.Profile()

	var (
		chainHeight, indexerHeight int64
		chainErr, indexerErr       error
	)

	var wg errgroup.Group
	wg.Go(func() error {
		chainHeight, chainErr = e.cfg.Prober.ChainHeight(ctx, p.RPC)
		return nil
	})
	wg.Go(func() error {
		indexerHeight, indexerErr = e.cfg.Prober.IndexerHeight(ctx)
		return indexerErr
	})
	_ = wg.Wait()

	if chainErr != nil {
		log.Errorf("Error fetching chain current block: %v", chainErr)
		e.cfg.Notifier.Error("Failed to get chain block: %v", chainErr)
		chainHeight = 0
	}
	if indexerErr != nil {
		log.Errorf("Error during sync/progress update: %v", indexerErr)
		e.cfg.Notifier.Error("Error during sync/progress update: %v", indexerErr)
		return
	}

	snapshot := e.update(p.ID, indexerHeight, chainHeight)

	if e.cfg.TrayLabel != nil {
		e.cfg.TrayLabel(fmt.Sprintf("%d%%", snapshot.Progress))
	}
	if e.cfg.Publish != nil {
		e.cfg.Publish(snapshot)
	}
}

func (e *Engine) update(profileID string, indexerHeight, chainHeight int64) events.ProgressSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.baselineProfile != profileID {
		e.baseline = nil
		e.baselineProfile = profileID
	}

	if e.baseline == nil {
		e.adoptBaseline(profileID, indexerHeight)
	}

	e.last = events.ProgressSnapshot{
		Progress:            CalculateProgress(e.baseline, indexerHeight, chainHeight),
		InitialBlock:        copyHeight(e.baseline),
		CurrentIndexerBlock: indexerHeight,
		CurrentChainBlock:   chainHeight,
	}
	log.Debugf("progress %d%% (indexer %d, chain %d)", e.last.Progress, indexerHeight, chainHeight)
	return e.last
}

// this function requires e.mu locked.
func (e *Engine) adoptBaseline(profileID string, indexerHeight int64) {
	state, err := e.cfg.Store.Load(profileID)
	if err != nil {
		e.cfg.Notifier.Error("Error reading sync state: %v", err)
		return
	}
	if state.FirstBlock != nil {
		e.baseline = copyHeight(state.FirstBlock)
		return
	}
	if indexerHeight <= 0 {
		return
	}

	log.Infof("Setting initial indexer block to %d", indexerHeight)
	first := indexerHeight
	if err := e.cfg.Store.Save(profileID, syncstate.SyncState{FirstBlock: &first}, true); err != nil {
		e.cfg.Notifier.Error("Error saving sync state: %v", err)
		return
	}
	e.baseline = &first
}

// LoadBaseline replaces the held baseline with the one persisted for
// profileID. Heights are kept.
func (e *Engine) LoadBaseline(profileID string) (*int64, error) {
	state, err := e.cfg.Store.Load(profileID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.baseline = copyHeight(state.FirstBlock)
	e.baselineProfile = profileID
	return copyHeight(e.baseline), nil
}

// Reset clears the persisted baseline of profileID together with the held
// baseline and heights. The next tick with a positive indexer height adopts
// a new baseline.
func (e *Engine) Reset(profileID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.cfg.Store.Save(profileID, syncstate.SyncState{}, true); err != nil {
		return err
	}

	e.baseline = nil
	e.baselineProfile = profileID
	e.last = events.ProgressSnapshot{}
	return nil
}

// LastSnapshot returns the snapshot of the last completed tick.
func (e *Engine) LastSnapshot() events.ProgressSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := e.last
	snapshot.InitialBlock = copyHeight(e.last.InitialBlock)
	return snapshot
}

func copyHeight(h *int64) *int64 {
	if h == nil {
		return nil
	}
	v := *h
	return &v
}
