package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Builder turns raw message text into a Candidate.
type Builder struct {
	classifier *Classifier
	now        func() time.Time
	newBatchID func() string
}

type BuilderOption func(*Builder)

func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

func WithBatchIDs(next func() string) BuilderOption {
	return func(b *Builder) { b.newBatchID = next }
}

func NewBuilder(c *Classifier, opts ...BuilderOption) *Builder {
	if c == nil {
		c = NewClassifier(DefaultKeywords())
	}
	b := &Builder{
		classifier: c,
		now:        time.Now,
		newBatchID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build fails only with ErrNoIdentifier. A zero observedAt means now.
func (b *Builder) Build(raw string, sourceLabel string, observedAt time.Time) (Candidate, error) {
	id, ok := ExtractEntityID(raw)
	if !ok {
		return Candidate{}, ErrNoIdentifier
	}
	if observedAt.IsZero() {
		observedAt = b.now()
	}
	content := NormalizeContent(raw)
	return Candidate{
		EntityID:       id,
		Content:        content,
		ContentHash:    HashContent(content),
		Tags:           ExtractTags(content),
		Classification: b.classifier.Classify(content),
		SourceLabel:    sourceLabel,
		BatchID:        b.newBatchID(),
		ObservedAt:     observedAt.UTC(),
	}, nil
}
