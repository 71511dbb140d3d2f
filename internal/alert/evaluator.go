// Package alert классифицирует партии по сроку годности и товары по остатку
// и поднимает алерты с дедупликацией через cool-down окно.
//
// Evaluator только читает состояние партий: он никогда не пишет в batches.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/platform/observability"
)

const alertRaisedEvent = "pharmacy.alert.raised"

// Пороги срока годности в днях
const (
	criticalDays = 30
	warningDays  = 60
	watchDays    = 90
)

// Options - настройки Evaluator
type Options struct {
	// Cooldown - окно, в течение которого одинаковый алерт не поднимается повторно
	Cooldown time.Duration
	// Topic - Kafka топик для outbox; пусто - алерты только сохраняются
	Topic string
	// Now - источник времени (для тестов)
	Now func() time.Time
}

// Evaluator - AlertEvaluator
type Evaluator struct {
	store    repository.Store
	cooldown repository.CooldownStore
	logger   *zap.Logger
	opts     Options
}

// SweepResult - итог одного прохода
type SweepResult struct {
	Evaluated  int
	Raised     []repository.Alert
	Suppressed int
}

// NewEvaluator создаёт Evaluator
func NewEvaluator(store repository.Store, cooldown repository.CooldownStore, logger *zap.Logger, opts Options) *Evaluator {
	if opts.Cooldown <= 0 {
		opts.Cooldown = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Evaluator{
		store:    store,
		cooldown: cooldown,
		logger:   logger,
		opts:     opts,
	}
}

// ExpiryTier возвращает уровень по числу дней до истечения срока; пусто - алерт не нужен
func ExpiryTier(days int) repository.AlertTier {
	switch {
	case days <= 0:
		return repository.TierExpired
	case days <= criticalDays:
		return repository.TierCritical
	case days <= warningDays:
		return repository.TierWarning
	case days <= watchDays:
		return repository.TierWatch
	}
	return ""
}

// StockTier возвращает уровень по суммарному доступному остатку товара
func StockTier(available, minimum, reorderPoint int64) repository.AlertTier {
	switch {
	case available <= 0:
		return repository.TierOutOfStock
	case available*2 <= minimum:
		return repository.TierCritical
	case available <= minimum:
		return repository.TierLow
	case available <= reorderPoint:
		return repository.TierReorder
	}
	return repository.TierNormal
}

// DaysUntil - число календарных дней (UTC) от now до даты истечения
func DaysUntil(expiration, now time.Time) int {
	exp := truncateDay(expiration)
	today := truncateDay(now)
	return int(exp.Sub(today).Hours() / 24)
}

// Sweep классифицирует все активные партии и товары и поднимает новые алерты.
// force поднимает алерты независимо от cool-down и продлевает его.
// Проход можно прервать через ctx: повтор безопасен благодаря дедупликации.
func (e *Evaluator) Sweep(ctx context.Context, force bool) (*SweepResult, error) {
	logger := observability.L(ctx, e.logger)
	now := e.opts.Now().UTC()

	candidates, err := e.evaluate(ctx, now)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Evaluated: len(candidates)}
	acquired := make([]string, 0, len(candidates))

	// при любом выходе без коммита снимаются только отметки, поставленные этим проходом через Acquire;
	// продлённые в force чужие отметки остаются, иначе следующий проход поднимет дубль
	committed := false
	defer func() {
		if committed {
			return
		}
		for _, key := range acquired {
			if err := e.cooldown.Release(context.WithoutCancel(ctx), key); err != nil {
				logger.Warn("failed to release alert cooldown", zap.Error(err), zap.String("key", key))
			}
		}
	}()

	for _, a := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		key := repository.CooldownKey(a.ProductID, a.BatchID, a.Tier)
		if force {
			if err := e.cooldown.Refresh(ctx, key, e.opts.Cooldown); err != nil {
				return nil, fmt.Errorf("failed to refresh cooldown: %w", err)
			}
			a.Forced = true
		} else {
			ok, err := e.cooldown.Acquire(ctx, key, e.opts.Cooldown)
			if err != nil {
				return nil, fmt.Errorf("failed to acquire cooldown: %w", err)
			}
			if !ok {
				result.Suppressed++
				continue
			}
			acquired = append(acquired, key)
		}
		result.Raised = append(result.Raised, a)
	}

	if len(result.Raised) == 0 {
		committed = true
		logger.Debug("alert sweep finished, nothing to raise",
			zap.Int("evaluated", result.Evaluated),
			zap.Int("suppressed", result.Suppressed),
		)
		return result, nil
	}

	if err := e.persist(ctx, result.Raised); err != nil {
		return nil, err
	}
	committed = true

	logger.Info("alert sweep finished",
		zap.Int("evaluated", result.Evaluated),
		zap.Int("raised", len(result.Raised)),
		zap.Int("suppressed", result.Suppressed),
		zap.Bool("force", force),
	)
	return result, nil
}

// evaluate строит список кандидатов: сначала по партиям, затем по товарам
func (e *Evaluator) evaluate(ctx context.Context, now time.Time) ([]repository.Alert, error) {
	batches, err := e.store.ListAllActiveBatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active batches: %w", err)
	}
	products, err := e.store.ListActiveProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active products: %w", err)
	}

	available := make(map[string]int64, len(products))
	var out []repository.Alert

	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// просроченная партия уже не продаётся
		if !b.IsExpired(now) {
			available[b.ProductID] += b.Available()
		}

		if b.QuantityOnHand <= 0 {
			continue
		}
		days := DaysUntil(b.ExpirationDate, now)
		tier := ExpiryTier(days)
		if tier == "" {
			continue
		}
		out = append(out, repository.Alert{
			ID:             uuid.NewString(),
			Category:       repository.AlertCategoryExpiry,
			Tier:           tier,
			ProductID:      b.ProductID,
			BatchID:        b.ID,
			Quantity:       b.QuantityOnHand,
			DaysToExpiry:   days,
			ExpirationDate: b.ExpirationDate,
			Message:        expiryMessage(b, days),
			RaisedAt:       now,
		})
	}

	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	for _, p := range products {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		qty := available[p.ID]
		tier := StockTier(qty, p.MinimumStock, p.ReorderPoint)
		if tier == repository.TierNormal {
			continue
		}
		out = append(out, repository.Alert{
			ID:        uuid.NewString(),
			Category:  repository.AlertCategoryStock,
			Tier:      tier,
			ProductID: p.ID,
			Quantity:  qty,
			Message:   fmt.Sprintf("%s (%s): %d available, minimum %d, reorder point %d", p.Name, p.SKU, qty, p.MinimumStock, p.ReorderPoint),
			RaisedAt:  now,
		})
	}

	return out, nil
}

type alertEvent struct {
	AlertID        string    `json:"alert_id"`
	Category       string    `json:"category"`
	Tier           string    `json:"tier"`
	ProductID      string    `json:"product_id"`
	BatchID        string    `json:"batch_id,omitempty"`
	Quantity       int64     `json:"quantity"`
	DaysToExpiry   int       `json:"days_to_expiry,omitempty"`
	ExpirationDate time.Time `json:"expiration_date"`
	Message        string    `json:"message"`
	Forced         bool      `json:"forced"`
	RaisedAt       time.Time `json:"raised_at"`
}

// persist сохраняет алерты и outbox-события одной единицей работы
func (e *Evaluator) persist(ctx context.Context, alerts []repository.Alert) error {
	uow, err := e.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin alert unit of work: %w", err)
	}
	defer uow.Rollback(context.WithoutCancel(ctx))

	headers := observability.InjectHeaders(ctx)
	for _, a := range alerts {
		if err := uow.InsertAlert(ctx, a); err != nil {
			return fmt.Errorf("failed to insert alert: %w", err)
		}
		if e.opts.Topic == "" {
			continue
		}

		payload, err := json.Marshal(alertEvent{
			AlertID:        a.ID,
			Category:       string(a.Category),
			Tier:           string(a.Tier),
			ProductID:      a.ProductID,
			BatchID:        a.BatchID,
			Quantity:       a.Quantity,
			DaysToExpiry:   a.DaysToExpiry,
			ExpirationDate: a.ExpirationDate,
			Message:        a.Message,
			Forced:         a.Forced,
			RaisedAt:       a.RaisedAt,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal alert event: %w", err)
		}

		if err := uow.EnqueueOutboxEvent(ctx, repository.OutboxEvent{
			EventID:     uuid.NewString(),
			Topic:       e.opts.Topic,
			AggregateID: a.ProductID,
			EventType:   alertRaisedEvent,
			Payload:     payload,
			Headers:     headers,
		}); err != nil {
			return fmt.Errorf("failed to enqueue alert event: %w", err)
		}
	}

	if err := uow.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit alerts: %w", err)
	}
	return nil
}

func expiryMessage(b repository.Batch, days int) string {
	if days <= 0 {
		return fmt.Sprintf("batch %s expired on %s with %d units on hand", b.BatchNumber, b.ExpirationDate.Format(time.DateOnly), b.QuantityOnHand)
	}
	return fmt.Sprintf("batch %s expires in %d days (%s) with %d units on hand", b.BatchNumber, days, b.ExpirationDate.Format(time.DateOnly), b.QuantityOnHand)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
