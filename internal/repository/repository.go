package repository

import (
	"context"
	"time"
)

// Store - точка входа в хранилище ledger-а.
// Чтения идут по закоммиченному снимку и не блокируют писателей,
// все изменения - только через UnitOfWork, полученный из Begin.
type Store interface {
	ProductReader
	BatchReader
	MovementReader
	SaleReader
	AlertReader
	OutboxRepository

	// Begin открывает единицу работы (транзакцию).
	// Вызывающий обязан сделать defer uow.Rollback(ctx): после Commit это no-op,
	// а на любом другом пути выхода откатывает изменения и освобождает соединение.
	Begin(ctx context.Context) (UnitOfWork, error)

	// Ping проверяет доступность хранилища (для readiness)
	Ping(ctx context.Context) error
}

// UnitOfWork - транзакционный хэндл одной логической операции
type UnitOfWork interface {
	BatchWriter
	MovementWriter
	SaleWriter
	OperationWriter
	AlertWriter
	OutboxWriter

	// Commit фиксирует все изменения единицы работы
	Commit(ctx context.Context) error
	// Rollback откатывает изменения; безопасно вызывать повторно и после Commit
	Rollback(ctx context.Context) error
}

// ProductReader - справочные данные каталога (только чтение)
type ProductReader interface {
	// GetProduct возвращает товар или apperr NotFound
	GetProduct(ctx context.Context, id string) (Product, error)
	// ListActiveProducts возвращает все активные товары
	ListActiveProducts(ctx context.Context) ([]Product, error)
}

// BatchReader - чтение партий по закоммиченному снимку
type BatchReader interface {
	GetBatch(ctx context.Context, id string) (Batch, error)
	// ListActiveBatches возвращает активные партии товара
	// в порядке expiration ASC, received ASC, id ASC
	ListActiveBatches(ctx context.Context, productID string) ([]Batch, error)
	// ListAllActiveBatches - все активные партии (для AlertEvaluator)
	ListAllActiveBatches(ctx context.Context) ([]Batch, error)
}

// BatchWriter - изменение партий внутри единицы работы
type BatchWriter interface {
	// GetForUpdate читает партию и держит эксклюзивную блокировку строки
	// до конца единицы работы (read-for-mutation)
	GetForUpdate(ctx context.Context, id string) (Batch, error)
	// LockActiveByProduct блокирует все активные партии товара в порядке ListActiveBatches
	LockActiveByProduct(ctx context.Context, productID string) ([]Batch, error)
	// FindForReceipt ищет и блокирует партию с тем же номером партии/лота и сроком годности
	FindForReceipt(ctx context.Context, productID, batchNumber, lotNumber string, expiration time.Time) (Batch, error)
	// CreateBatch создаёт партию с нулевыми количествами
	CreateBatch(ctx context.Context, batch Batch) (Batch, error)
	// Mutate - атомарный compare-and-apply над on_hand/reserved.
	// Отклоняет (InvariantViolation) результат с on_hand < 0 или reserved вне [0, on_hand].
	Mutate(ctx context.Context, batchID string, onHandDelta, reservedDelta int64) (MutationResult, error)
	// SetBatchStatus меняет статус партии
	SetBatchStatus(ctx context.Context, batchID string, status BatchStatus) (Batch, error)
}

// MovementReader - запросы к журналу движений
type MovementReader interface {
	ListMovementsByBatch(ctx context.Context, batchID string) ([]Movement, error)
	ListMovementsByProduct(ctx context.Context, productID string, from, to time.Time) ([]Movement, error)
	// QueryMovements - фильтрация/сортировка/пагинация по allow-list полей
	QueryMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	// SummarizeMovements - агрегаты по типу движения
	SummarizeMovements(ctx context.Context, filter MovementFilter) ([]MovementSummary, error)
	// SumMovementDeltas возвращает сумму дельт и количество движений партии
	SumMovementDeltas(ctx context.Context, batchID string) (sum int64, count int64, err error)
}

// MovementWriter - append-only запись журнала
type MovementWriter interface {
	// AppendMovement добавляет движение и возвращает его с присвоенным ID
	AppendMovement(ctx context.Context, m Movement) (Movement, error)
}

// SaleReader - чтение продаж
type SaleReader interface {
	GetSale(ctx context.Context, id string) (Sale, error)
}

// SaleWriter - запись продаж внутри единицы работы
type SaleWriter interface {
	CreateSale(ctx context.Context, sale Sale) error
	// GetSaleForUpdate читает продажу со строками и блокирует её
	GetSaleForUpdate(ctx context.Context, id string) (Sale, error)
	// FindSaleIDByLine возвращает ID продажи по ID строки
	FindSaleIDByLine(ctx context.Context, lineID string) (string, error)
	// UpdateSaleReturns сохраняет статус продажи и возвращённые количества строк/аллокаций
	UpdateSaleReturns(ctx context.Context, sale Sale) error
}

// OperationWriter - реестр применённых операций (идемпотентность)
type OperationWriter interface {
	// RegisterOperation фиксирует operationID; повтор уже закоммиченного ID - apperr State
	RegisterOperation(ctx context.Context, operationID, kind string) error
}

// AlertReader - лента алертов для notification-коллаборатора
type AlertReader interface {
	ListAlerts(ctx context.Context, filter AlertFilter) ([]Alert, error)
}

// AlertWriter - сохранение алертов
type AlertWriter interface {
	InsertAlert(ctx context.Context, alert Alert) error
}

// OutboxWriter - запись событий в outbox в той же транзакции
type OutboxWriter interface {
	EnqueueOutboxEvent(ctx context.Context, event OutboxEvent) error
}

// OutboxRepository - работа dispatcher-а с outbox вне единиц работы
type OutboxRepository interface {
	// GetPendingOutboxEvents возвращает до limit событий со статусом pending
	GetPendingOutboxEvents(ctx context.Context, limit int) ([]OutboxEvent, error)
	// MarkOutboxEventSent переводит событие в sent
	MarkOutboxEventSent(ctx context.Context, eventID string) error
	// MarkOutboxEventFailed сохраняет last_error и увеличивает attempts, событие остаётся pending
	MarkOutboxEventFailed(ctx context.Context, eventID string, errMsg string) error
}
