package ledger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultSourceLabel = "qq_monitor"

// Message is one raw chat message accepted by an adapter.
type Message struct {
	Text          string
	SourceGroupID string
	ObservedAt    time.Time
}

// SourceLabel is provenance only. It never feeds the entity identifier.
func (m Message) SourceLabel() string {
	if m.SourceGroupID == "" {
		return defaultSourceLabel
	}
	return "qq_group_" + m.SourceGroupID
}

type Outcome struct {
	Result  UpsertResult
	Skipped bool
	Err     error
}

type Pipeline struct {
	builder  *Builder
	store    Store
	notifier Notifier
	log      *zap.Logger
}

type PipelineOption func(*Pipeline)

// WithNotifier publishes inserts and new versions. Notification failures are
// logged and never fail the ingest.
func WithNotifier(n Notifier) PipelineOption {
	return func(p *Pipeline) { p.notifier = n }
}

func NewPipeline(b *Builder, s Store, log *zap.Logger, opts ...PipelineOption) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pipeline{builder: b, store: s, log: log}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest returns ErrNoIdentifier when the message names no group.
func (p *Pipeline) Ingest(ctx context.Context, msg Message) (UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return UpsertResult{}, err
	}
	cand, err := p.builder.Build(msg.Text, msg.SourceLabel(), msg.ObservedAt)
	if err != nil {
		p.log.Debug("message skipped", zap.String("source", msg.SourceLabel()), zap.Error(err))
		return UpsertResult{}, err
	}
	res, err := p.store.Upsert(ctx, cand)
	if err != nil {
		p.log.Error("upsert failed", zap.String("entity_id", cand.EntityID), zap.Error(err))
		return UpsertResult{}, err
	}
	p.log.Info("group processed",
		zap.String("entity_id", res.EntityID),
		zap.Stringer("action", res.Action),
		zap.Int("version", res.Version),
		zap.String("group_type", string(cand.Classification.GroupType)),
		zap.String("worldview", string(cand.Classification.Worldview)),
		zap.Strings("tags", cand.Tags),
		zap.String("source", cand.SourceLabel),
	)
	if p.notifier != nil && res.ContentChanged() {
		p.notify(ctx, cand, res)
	}
	return res, nil
}

func (p *Pipeline) notify(ctx context.Context, cand Candidate, res UpsertResult) {
	err := p.notifier.Notify(ctx, Change{
		EntityID:       res.EntityID,
		Action:         res.Action,
		Version:        res.Version,
		Content:        cand.Content,
		Tags:           cand.Tags,
		Classification: cand.Classification,
		SourceLabel:    cand.SourceLabel,
		BatchID:        cand.BatchID,
		ObservedAt:     cand.ObservedAt,
	})
	if err != nil {
		p.log.Warn("change notification failed", zap.String("entity_id", res.EntityID), zap.Error(err))
	}
}

// IngestBatch ingests msgs with at most concurrency upserts in flight. It stops
// early and returns the error once the store is unavailable or malformed.
func (p *Pipeline) IngestBatch(ctx context.Context, msgs []Message, concurrency int) ([]Outcome, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	out := make([]Outcome, len(msgs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, m := range msgs {
		g.Go(func() error {
			res, err := p.Ingest(gctx, m)
			switch {
			case err == nil:
				out[i] = Outcome{Result: res}
			case errors.Is(err, ErrNoIdentifier):
				out[i] = Outcome{Skipped: true}
			default:
				out[i] = Outcome{Err: err}
				if errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrMalformedState) {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, ctx.Err()
}
