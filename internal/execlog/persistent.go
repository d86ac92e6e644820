package execlog

import (
	"context"

	"go.uber.org/zap"
)

// Store is the durable side of the persistent logger. StartExecution writes the
// request half of a record; CompleteExecution attaches outcome, usage, cost and
// quality to the row created by StartExecution.
type Store interface {
	StartExecution(ctx context.Context, rec Record) error
	CompleteExecution(ctx context.Context, rec Record) error
}

// CostFunc prices a record; it may return an error when pricing is unknown.
type CostFunc func(rec Record) (float64, error)

// Persistent writes records through a Store in two steps.
type Persistent struct {
	store  Store
	logger *zap.Logger
	cost   CostFunc
}

func NewPersistent(store Store, logger *zap.Logger, cost CostFunc) *Persistent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persistent{store: store, logger: logger.Named("execlog"), cost: cost}
}

func (p *Persistent) Log(ctx context.Context, rec Record) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("execution log panicked", zap.String("execution_id", rec.ID), zap.Any("panic", r))
		}
	}()
	// A cancelled run must still be recorded.
	ctx = context.WithoutCancel(ctx)

	if err := p.store.StartExecution(ctx, rec); err != nil {
		p.logger.Warn("start execution log failed", zap.String("execution_id", rec.ID), zap.Error(err))
		return
	}
	if rec.Cost == 0 && p.cost != nil {
		if c, err := p.cost(rec); err == nil {
			rec.Cost = c
		} else {
			p.logger.Debug("cost unavailable", zap.String("execution_id", rec.ID), zap.Error(err))
			rec.Cost = 0
		}
	}
	if err := p.store.CompleteExecution(ctx, rec); err != nil {
		p.logger.Warn("complete execution log failed", zap.String("execution_id", rec.ID), zap.Error(err))
	}
}
