package simulator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"discord-simulator/backend/internal/markov"
	"discord-simulator/backend/internal/metrics"
	apperrors "discord-simulator/backend/pkg/errors"
)

// EntityPruneResult is the outcome of one entity pass
type EntityPruneResult struct {
	EntityID     string `json:"entity_id"`
	EdgesRemoved int    `json:"edges_removed"`
	NodesRemoved int    `json:"nodes_removed"`
	// Removed is set when pruning emptied START and the graph was deleted
	Removed bool `json:"removed"`
	// Missing is set when the entity had no stored graph
	Missing bool `json:"missing"`
}

// EntityError records a failed entity pass
type EntityError struct {
	EntityID string `json:"entity_id"`
	Error    string `json:"error"`
}

// PruneReport summarises a sweep. EntitiesProcessed counts passes that ran,
// failed ones included; EntitiesSkipped counts entities never started
// because the sweep was cancelled or the graph was already gone.
type PruneReport struct {
	SweepID           string        `json:"sweep_id"`
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration"`
	EntitiesProcessed int           `json:"entities_processed"`
	EntitiesRemoved   int           `json:"entities_removed"`
	EntitiesSkipped   int           `json:"entities_skipped"`
	EdgesRemoved      int           `json:"edges_removed"`
	NodesRemoved      int           `json:"nodes_removed"`
	Errors            []EntityError `json:"errors,omitempty"`
}

// PruneEntity prunes one entity's graph under its lock and commits the
// result in one transaction, deleting the graph when START is emptied.
// Once started the pass ignores cancellation of ctx.
func (s *Service) PruneEntity(ctx context.Context, entityID string) (EntityPruneResult, error) {
	defer s.metrics.ObserveDuration("prune", time.Now())
	ctx = context.WithoutCancel(ctx)

	var out EntityPruneResult
	err := s.retry(ctx, "prune", func(ctx context.Context) error {
		out = EntityPruneResult{EntityID: entityID}
		return s.withEntityLock(ctx, entityID, func() error {
			g, err := s.store.Load(ctx, entityID)
			if apperrors.IsUnknownEntity(err) {
				out.Missing = true
				return nil
			}
			if err != nil {
				return err
			}

			nodesBefore, edgesBefore := g.Len(), g.EdgeCount()
			result := g.Prune(s.opts.PrunePolicy)
			if result.Emptied {
				if err := s.store.Delete(ctx, entityID); err != nil {
					return err
				}
				out.Removed = true
				out.NodesRemoved, out.EdgesRemoved = nodesBefore, edgesBefore
				return nil
			}
			if err := s.store.Commit(ctx, g.Changes()); err != nil {
				return err
			}
			out.NodesRemoved, out.EdgesRemoved = result.NodesRemoved, result.EdgesRemoved
			return nil
		})
	})
	if err != nil {
		return EntityPruneResult{EntityID: entityID}, err
	}
	return out, nil
}

// RunPruneSweep prunes entities independently with up to PruneWorkers
// passes in flight. A failed entity is logged, keeps its last committed
// graph and does not stop the sweep. Cancelling ctx stops new passes from
// starting; passes already running finish.
func (s *Service) RunPruneSweep(ctx context.Context, entities []string) PruneReport {
	report := PruneReport{SweepID: uuid.NewString(), StartedAt: time.Now()}
	log := s.logger.With(zap.String("sweep_id", report.SweepID))
	s.metrics.PruneSweepStarted()
	log.Info("Prune sweep started", zap.Int("entities", len(entities)), zap.Int("workers", s.opts.PruneWorkers))

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.opts.PruneWorkers)

	for _, entityID := range entities {
		if ctx.Err() != nil {
			mu.Lock()
			report.EntitiesSkipped++
			mu.Unlock()
			s.metrics.EntityPruned(metrics.PruneSkipped, 0, 0)
			continue
		}

		g.Go(func() error {
			// Queued behind the limit while the sweep was cancelled
			if ctx.Err() != nil {
				mu.Lock()
				report.EntitiesSkipped++
				mu.Unlock()
				s.metrics.EntityPruned(metrics.PruneSkipped, 0, 0)
				return nil
			}

			result, err := s.PruneEntity(ctx, entityID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.EntitiesProcessed++
				report.Errors = append(report.Errors, EntityError{EntityID: entityID, Error: err.Error()})
				s.metrics.EntityPruned(metrics.PruneFailed, 0, 0)
				log.Error("Failed to prune entity, keeping last committed graph",
					zap.String("entity_id", entityID),
					zap.Error(err),
				)
			case result.Missing:
				report.EntitiesSkipped++
				s.metrics.EntityPruned(metrics.PruneSkipped, 0, 0)
			default:
				report.EntitiesProcessed++
				report.EdgesRemoved += result.EdgesRemoved
				report.NodesRemoved += result.NodesRemoved
				outcome := metrics.PruneKept
				if result.Removed {
					report.EntitiesRemoved++
					outcome = metrics.PruneRemoved
					log.Info("Entity graph emptied by pruning, deleted", zap.String("entity_id", entityID))
				}
				s.metrics.EntityPruned(outcome, result.EdgesRemoved, result.NodesRemoved)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(report.StartedAt)
	log.Info("Prune sweep finished",
		zap.Int("processed", report.EntitiesProcessed),
		zap.Int("removed", report.EntitiesRemoved),
		zap.Int("skipped", report.EntitiesSkipped),
		zap.Int("failed", len(report.Errors)),
		zap.Int("edges_removed", report.EdgesRemoved),
		zap.Int("nodes_removed", report.NodesRemoved),
		zap.Duration("duration", report.Duration),
	)
	return report
}

// PruneAll sweeps every stored entity whose id starts with prefix
func (s *Service) PruneAll(ctx context.Context, prefix string) (PruneReport, error) {
	entities, err := s.Entities(ctx, prefix)
	if err != nil {
		return PruneReport{}, err
	}
	return s.RunPruneSweep(ctx, entities), nil
}

// Snapshot is an operator's view of one graph
type Snapshot struct {
	EntityID  string        `json:"entity_id"`
	NodeCount int           `json:"node_count"`
	EdgeCount int           `json:"edge_count"`
	Nodes     []markov.Node `json:"nodes"`
	// Problem describes the first broken invariant, if any
	Problem string `json:"problem,omitempty"`
}

// Inspect loads the entity's graph and checks its invariants
func (s *Service) Inspect(ctx context.Context, entityID string) (*Snapshot, error) {
	var g *markov.Graph
	err := s.retry(ctx, "inspect", func(ctx context.Context) error {
		var err error
		g, err = s.store.Load(ctx, entityID)
		return err
	})
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		EntityID:  entityID,
		NodeCount: g.Len(),
		EdgeCount: g.EdgeCount(),
		Nodes:     g.Nodes(),
	}
	if err := g.Validate(); err != nil {
		snap.Problem = err.Error()
	}
	return snap, nil
}
