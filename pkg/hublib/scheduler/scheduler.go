// Package scheduler drives the hub's per-dataset detect/package loop
// (spec.md §4). It follows the teacher's active-object pattern: a
// single goroutine owns all scheduling state and is driven entirely by
// a timer, a trigger channel and a done channel, so the freshness detector, packager and
// state store never need their own locking against the clock.
package scheduler

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/datahubsync/datahubsync/pkg/hublib"
	"github.com/datahubsync/datahubsync/pkg/hublib/freshness"
	"github.com/datahubsync/datahubsync/pkg/hublib/packager"
	"github.com/datahubsync/datahubsync/pkg/hublib/state"
	"github.com/datahubsync/datahubsync/pkg/logging"
)

// Clock abstracts time so tests can drive ticks without real sleeps.
type Clock interface {
	Now() time.Time
	// After returns a channel that fires once d has elapsed; tick uses it
	// for the debounce wait before the re-scan.
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Scheduler ticks over every configured dataset on a fixed interval,
// running the detect -> debounce re-scan -> package -> state-write
// sequence for each one in turn.
type Scheduler struct {
	datasets []hublib.Dataset
	store    *state.Store
	pkg      *packager.Packager
	log      logging.Logger
	interval time.Duration
	clock    Clock

	runNow chan string
}

// New constructs a Scheduler. interval is the tick period between
// full sweeps over every dataset.
func New(datasets []hublib.Dataset, store *state.Store, pkg *packager.Packager, log logging.Logger, interval time.Duration) *Scheduler {
	return &Scheduler{
		datasets: datasets,
		store:    store,
		pkg:      pkg,
		log:      log,
		interval: interval,
		clock:    realClock{},
		runNow:   make(chan string, len(datasets)),
	}
}

// Run blocks until ctx is cancelled, sweeping every dataset once per
// tick. It is intended to run in its own goroutine from cmd/datahub-hub.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case name := <-s.runNow:
			s.tick(ctx, name)

		case <-timer.C:
			for _, d := range s.datasets {
				select {
				case <-ctx.Done():
					return
				default:
				}
				s.tick(ctx, d.Name)
			}
			timer.Reset(s.interval)
		}
	}
}

// TriggerNow asks the scheduler to run one dataset's tick out of band,
// coalescing with the running loop rather than starting a second
// concurrent tick for the same dataset.
func (s *Scheduler) TriggerNow(name string) {
	select {
	case s.runNow <- name:
	default:
		// The trigger queue is full; this request is dropped and the
		// dataset is covered by the next timed sweep.
	}
}

func (s *Scheduler) datasetByName(name string) (hublib.Dataset, bool) {
	for _, d := range s.datasets {
		if d.Name == name {
			return d, true
		}
	}
	return hublib.Dataset{}, false
}

// tick runs one detect/debounce/package/state-write sequence for the
// named dataset, per spec.md §4.2's settlement rule.
func (s *Scheduler) tick(ctx context.Context, name string) {
	d, ok := s.datasetByName(name)
	if !ok {
		return
	}

	current, err := s.store.Get(name)
	if err != nil {
		s.log.Error("scheduler: dataset state missing for %s: %v", name, err)
		return
	}

	if !current.LastTriggerAt.IsZero() {
		elapsed := s.clock.Now().Sub(current.LastTriggerAt)
		if elapsed < time.Duration(d.DebounceSeconds)*time.Second {
			return
		}
	}

	first, err := freshness.Scan(d.SourcePath, current.LastUpdated, d.MtimeGranularity, d.NewerRatioThreshold, d.TabularExtensions)
	if err != nil {
		s.log.Warning("scheduler: scan failed for %s: %v", name, err)
		return
	}
	for _, path := range first.Unreadable {
		s.log.Warning("scheduler: skipping unreadable file for %s: %s", name, path)
	}
	if !first.Fresh {
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-s.clock.After(time.Duration(d.DebounceSeconds) * time.Second):
	}

	second, err := freshness.Scan(d.SourcePath, current.LastUpdated, d.MtimeGranularity, d.NewerRatioThreshold, d.TabularExtensions)
	if err != nil {
		s.log.Warning("scheduler: re-scan failed for %s: %v", name, err)
		return
	}
	for _, path := range second.Unreadable {
		s.log.Warning("scheduler: skipping unreadable file for %s: %s", name, path)
	}
	if !freshness.Agree(first, second) {
		s.log.Info("scheduler: re-scan disagreed for %s, deferring", name)
		return
	}

	if second.MajorityMinute.Equal(current.LastUpdated) {
		// The source has settled on the same version already published;
		// nothing changed, so packaging is skipped (spec.md §4.3 step 6).
		return
	}

	result, err := s.pkg.Build(name, d.SourcePath, second.MajorityMinute, d.TabularExtensions)
	if err != nil {
		s.log.Warning("scheduler: packaging failed for %s: %v", name, err)
		return
	}

	now := s.clock.Now()
	err = s.store.Update(name, func(ds hublib.DatasetState) hublib.DatasetState {
		ds.LastUpdated = second.MajorityMinute
		ds.FileCount = second.FileCount
		ds.TotalSize = second.TotalSize
		ds.PackageReady = true
		ds.PackageSize = result.Size
		ds.PackagePath = result.Path
		ds.LastTriggerAt = now
		return ds
	})
	if err != nil {
		s.log.Error("scheduler: state write failed for %s: %v", name, err)
		return
	}

	s.log.Info("scheduler: packaged new version for %s (files=%d size=%s)",
		name, second.FileCount, humanize.Bytes(uint64(result.Size)))
}
