package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/apperr"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
)

// Store реализует repository.Store в памяти.
// Используется в unit-тестах и для локального запуска без PostgreSQL.
//
// Писатель в каждый момент один: Begin захватывает семафор на всё время единицы работы
// и работает с копией закоммиченного состояния. Commit подменяет состояние целиком,
// поэтому частично применённых изменений не бывает, а читатели видят только закоммиченный снимок.
type Store struct {
	writer chan struct{}

	mu        sync.RWMutex
	committed *state
	now       func() time.Time
}

type outboxRecord struct {
	event repository.OutboxEvent
	sent  bool
}

type state struct {
	products       map[string]repository.Product
	batches        map[string]repository.Batch
	movements      []repository.Movement
	sales          map[string]repository.Sale
	lineToSale     map[string]string
	operations     map[string]string
	alerts         []repository.Alert
	outbox         []outboxRecord
	nextMovementID int64
}

// NewStore создаёт пустое in-memory хранилище
func NewStore() *Store {
	return &Store{
		writer: make(chan struct{}, 1),
		committed: &state{
			products:   make(map[string]repository.Product),
			batches:    make(map[string]repository.Batch),
			sales:      make(map[string]repository.Sale),
			lineToSale: make(map[string]string),
			operations: make(map[string]string),
		},
		now: time.Now,
	}
}

// WithClock подменяет источник времени (для тестов)
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// PutProduct добавляет или заменяет товар каталога
func (s *Store) PutProduct(p repository.Product) {
	s.writer <- struct{}{}
	defer func() { <-s.writer }()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed.products[p.ID] = p
}

// PutBatch кладёт партию напрямую, минуя журнал (только для подготовки тестов)
func (s *Store) PutBatch(b repository.Batch) {
	s.writer <- struct{}{}
	defer func() { <-s.writer }()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed.batches[b.ID] = b
}

// Ping всегда успешен
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Begin захватывает право записи и открывает единицу работы над копией состояния
func (s *Store) Begin(ctx context.Context) (repository.UnitOfWork, error) {
	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.RLock()
	work := s.committed.clone()
	s.mu.RUnlock()

	return &unitOfWork{store: s, st: work}, nil
}

// GetProduct возвращает товар каталога
func (s *Store) GetProduct(ctx context.Context, id string) (repository.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.committed.products[id]
	if !ok {
		return repository.Product{}, apperr.NotFound("memory.GetProduct", "product", id)
	}
	return p, nil
}

// ListActiveProducts возвращает активные товары, отсортированные по ID
func (s *Store) ListActiveProducts(ctx context.Context) ([]repository.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]repository.Product, 0, len(s.committed.products))
	for _, p := range s.committed.products {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetBatch возвращает закоммиченное состояние партии
func (s *Store) GetBatch(ctx context.Context, id string) (repository.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.committed.batches[id]
	if !ok {
		return repository.Batch{}, apperr.NotFound("memory.GetBatch", "batch", id)
	}
	return b, nil
}

// ListActiveBatches возвращает активные партии товара в FIFO-порядке
func (s *Store) ListActiveBatches(ctx context.Context, productID string) ([]repository.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committed.activeBatches(productID), nil
}

// ListAllActiveBatches возвращает все активные партии
func (s *Store) ListAllActiveBatches(ctx context.Context) ([]repository.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committed.activeBatches(""), nil
}

// ListMovementsByBatch возвращает историю партии по возрастанию ID
func (s *Store) ListMovementsByBatch(ctx context.Context, batchID string) ([]repository.Movement, error) {
	return s.QueryMovements(ctx, repository.MovementFilter{BatchID: batchID, SortBy: "id", Limit: repository.MaxMovementLimit})
}

// ListMovementsByProduct возвращает историю товара за период [from, to)
func (s *Store) ListMovementsByProduct(ctx context.Context, productID string, from, to time.Time) ([]repository.Movement, error) {
	return s.QueryMovements(ctx, repository.MovementFilter{
		ProductID: productID, From: from, To: to, SortBy: "id", Limit: repository.MaxMovementLimit,
	})
}

// QueryMovements фильтрует журнал
func (s *Store) QueryMovements(ctx context.Context, filter repository.MovementFilter) ([]repository.Movement, error) {
	filter, err := filter.Validate()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	matched := make([]repository.Movement, 0)
	for _, m := range s.committed.movements {
		if matchMovement(m, filter) {
			matched = append(matched, m)
		}
	}
	s.mu.RUnlock()

	sortMovements(matched, filter.SortBy, filter.SortDesc)

	if filter.Offset >= len(matched) {
		return []repository.Movement{}, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[filter.Offset:end], nil
}

// SummarizeMovements агрегирует журнал по типам
func (s *Store) SummarizeMovements(ctx context.Context, filter repository.MovementFilter) ([]repository.MovementSummary, error) {
	filter, err := filter.Validate()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	byType := make(map[repository.MovementType]*repository.MovementSummary)
	for _, m := range s.committed.movements {
		if !matchMovement(m, filter) {
			continue
		}
		sum, ok := byType[m.Type]
		if !ok {
			sum = &repository.MovementSummary{Type: m.Type}
			byType[m.Type] = sum
		}
		sum.Count++
		sum.NetDelta += m.Delta
	}
	s.mu.RUnlock()

	out := make([]repository.MovementSummary, 0, len(byType))
	for _, sum := range byType {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

// SumMovementDeltas считает сумму дельт партии
func (s *Store) SumMovementDeltas(ctx context.Context, batchID string) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum, count int64
	for _, m := range s.committed.movements {
		if m.BatchID == batchID {
			sum += m.Delta
			count++
		}
	}
	return sum, count, nil
}

// GetSale возвращает продажу со строками
func (s *Store) GetSale(ctx context.Context, id string) (repository.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sale, ok := s.committed.sales[id]
	if !ok {
		return repository.Sale{}, apperr.NotFound("memory.GetSale", "sale", id)
	}
	return cloneSale(sale), nil
}

// ListAlerts возвращает ленту алертов, новые первыми
func (s *Store) ListAlerts(ctx context.Context, filter repository.AlertFilter) ([]repository.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]repository.Alert, 0)
	for i := len(s.committed.alerts) - 1; i >= 0; i-- {
		a := s.committed.alerts[i]
		if !filter.Since.IsZero() && a.RaisedAt.Before(filter.Since) {
			continue
		}
		if filter.Category != "" && a.Category != filter.Category {
			continue
		}
		if filter.ProductID != "" && a.ProductID != filter.ProductID {
			continue
		}
		out = append(out, a)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// GetPendingOutboxEvents возвращает неотправленные события в порядке добавления
func (s *Store) GetPendingOutboxEvents(ctx context.Context, limit int) ([]repository.OutboxEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]repository.OutboxEvent, 0)
	for _, rec := range s.committed.outbox {
		if rec.sent {
			continue
		}
		out = append(out, rec.event)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MarkOutboxEventSent отмечает событие отправленным
func (s *Store) MarkOutboxEventSent(ctx context.Context, eventID string) error {
	return s.updateOutbox(ctx, eventID, func(rec *outboxRecord) { rec.sent = true })
}

// MarkOutboxEventFailed сохраняет ошибку публикации
func (s *Store) MarkOutboxEventFailed(ctx context.Context, eventID string, errMsg string) error {
	return s.updateOutbox(ctx, eventID, func(rec *outboxRecord) {
		rec.event.Attempts++
		rec.event.LastError = errMsg
	})
}

// updateOutbox тоже занимает слот писателя, иначе Commit открытой единицы работы затёр бы отметку
func (s *Store) updateOutbox(ctx context.Context, eventID string, fn func(rec *outboxRecord)) error {
	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.writer }()

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.committed.outbox {
		if s.committed.outbox[i].event.EventID == eventID {
			fn(&s.committed.outbox[i])
			return nil
		}
	}
	return apperr.NotFound("memory.updateOutbox", "outbox event", eventID)
}

func (st *state) activeBatches(productID string) []repository.Batch {
	out := make([]repository.Batch, 0)
	for _, b := range st.batches {
		if b.Status != repository.BatchStatusActive {
			continue
		}
		if productID != "" && b.ProductID != productID {
			continue
		}
		out = append(out, b)
	}
	repository.SortFIFO(out)
	return out
}

func (st *state) clone() *state {
	c := &state{
		products:       make(map[string]repository.Product, len(st.products)),
		batches:        make(map[string]repository.Batch, len(st.batches)),
		movements:      make([]repository.Movement, len(st.movements)),
		sales:          make(map[string]repository.Sale, len(st.sales)),
		lineToSale:     make(map[string]string, len(st.lineToSale)),
		operations:     make(map[string]string, len(st.operations)),
		alerts:         make([]repository.Alert, len(st.alerts)),
		outbox:         make([]outboxRecord, len(st.outbox)),
		nextMovementID: st.nextMovementID,
	}
	for k, v := range st.products {
		c.products[k] = v
	}
	for k, v := range st.batches {
		c.batches[k] = v
	}
	copy(c.movements, st.movements)
	for k, v := range st.sales {
		c.sales[k] = cloneSale(v)
	}
	for k, v := range st.lineToSale {
		c.lineToSale[k] = v
	}
	for k, v := range st.operations {
		c.operations[k] = v
	}
	copy(c.alerts, st.alerts)
	copy(c.outbox, st.outbox)
	return c
}

func cloneSale(s repository.Sale) repository.Sale {
	out := s
	out.Payments = append([]repository.Payment(nil), s.Payments...)
	out.Lines = make([]repository.SaleLine, len(s.Lines))
	for i, l := range s.Lines {
		l.Allocations = append([]repository.SaleAllocation(nil), l.Allocations...)
		out.Lines[i] = l
	}
	return out
}

func matchMovement(m repository.Movement, f repository.MovementFilter) bool {
	if f.BatchID != "" && m.BatchID != f.BatchID {
		return false
	}
	if f.ProductID != "" && m.ProductID != f.ProductID {
		return false
	}
	if f.Actor != "" && m.Actor != f.Actor {
		return false
	}
	if f.TransactionRef != "" && m.TransactionRef != f.TransactionRef {
		return false
	}
	if !f.From.IsZero() && m.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !m.CreatedAt.Before(f.To) {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if m.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func sortMovements(ms []repository.Movement, by string, desc bool) {
	less := func(a, b repository.Movement) bool {
		switch by {
		case "delta":
			if a.Delta != b.Delta {
				return a.Delta < b.Delta
			}
		case "type":
			if a.Type != b.Type {
				return a.Type < b.Type
			}
		case "created_at":
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
		}
		return a.ID < b.ID
	}
	sort.SliceStable(ms, func(i, j int) bool {
		if desc {
			return less(ms[j], ms[i])
		}
		return less(ms[i], ms[j])
	})
}
