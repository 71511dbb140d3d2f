package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/apperr"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
)

// opState - состояние операции ledger-а
type opState string

const (
	stateProposed   opState = "proposed"
	stateValidated  opState = "validated"
	stateApplied    opState = "applied"
	stateCommitted  opState = "committed"
	stateRolledBack opState = "rolled_back"
)

// допустимые переходы: Proposed -> Validated -> Applied -> {Committed | RolledBack}
var opTransitions = map[opState][]opState{
	stateProposed:  {stateValidated, stateRolledBack},
	stateValidated: {stateApplied, stateRolledBack},
	stateApplied:   {stateCommitted, stateRolledBack},
}

// operation - одна логическая операция (продажа, возврат, ...) в рамках одной попытки
type operation struct {
	id        string
	kind      string
	actor     string
	state     opState
	movements []repository.Movement

	logger *zap.Logger
	span   trace.Span
}

func newOperation(id, kind, actor string, logger *zap.Logger, span trace.Span) *operation {
	return &operation{
		id:     id,
		kind:   kind,
		actor:  actor,
		state:  stateProposed,
		logger: logger,
		span:   span,
	}
}

// advance переводит операцию в следующее состояние
func (o *operation) advance(next opState) error {
	for _, allowed := range opTransitions[o.state] {
		if allowed == next {
			o.logger.Debug("ledger operation state changed",
				zap.String("operation_id", o.id),
				zap.String("kind", o.kind),
				zap.String("from", string(o.state)),
				zap.String("to", string(next)),
			)
			o.span.AddEvent("state."+string(next), trace.WithAttributes(attribute.String("from", string(o.state))))
			o.state = next
			return nil
		}
	}
	return apperr.Newf(apperr.KindInvariantViolation, "service.operation",
		"operation %s: illegal transition %s -> %s", o.id, o.state, next)
}

// record добавляет движение в журнал и запоминает его для outbox-события
func (o *operation) record(ctx context.Context, uow repository.UnitOfWork, m repository.Movement) (repository.Movement, error) {
	m.TransactionRef = o.id
	m.Actor = o.actor
	saved, err := uow.AppendMovement(ctx, m)
	if err != nil {
		return repository.Movement{}, err
	}
	o.movements = append(o.movements, saved)
	return saved, nil
}

// recordMutation пишет движение по результату Mutate
func (o *operation) recordMutation(ctx context.Context, uow repository.UnitOfWork, res repository.MutationResult,
	movementType repository.MovementType, contextBatchID, reason string) (repository.Movement, error) {
	return o.record(ctx, uow, repository.Movement{
		BatchID:        res.After.ID,
		ProductID:      res.After.ProductID,
		Type:           movementType,
		Delta:          res.After.QuantityOnHand - res.Before.QuantityOnHand,
		QuantityBefore: res.Before.QuantityOnHand,
		QuantityAfter:  res.After.QuantityOnHand,
		ContextBatchID: contextBatchID,
		Reason:         reason,
	})
}
