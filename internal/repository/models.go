package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product - справочные данные каталога.
// Ядро их только читает, владелец - catalog-коллаборатор.
type Product struct {
	ID                   string
	SKU                  string
	Name                 string
	MinimumStock         int64
	ReorderPoint         int64
	MaximumStock         int64
	TaxRate              decimal.Decimal // проценты, например 16.00
	RequiresPrescription bool
	Controlled           bool
	Active               bool
}

// BatchStatus статус партии
type BatchStatus string

const (
	BatchStatusActive   BatchStatus = "active"
	BatchStatusExpired  BatchStatus = "expired"
	BatchStatusDamaged  BatchStatus = "damaged"
	BatchStatusRecalled BatchStatus = "recalled"
)

// Valid проверяет, что статус из допустимого набора
func (s BatchStatus) Valid() bool {
	switch s {
	case BatchStatusActive, BatchStatusExpired, BatchStatusDamaged, BatchStatusRecalled:
		return true
	}
	return false
}

// Batch - партия товара с одним сроком годности, атомарная единица учёта
type Batch struct {
	ID               string
	ProductID        string
	BatchNumber      string
	LotNumber        string
	SupplierID       string
	QuantityOnHand   int64
	QuantityReserved int64
	UnitCost         int64 // в минимальных денежных единицах
	ExpirationDate   time.Time
	ReceivedAt       time.Time
	Status           BatchStatus
	Location         string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Available = on_hand - reserved, всегда вычисляется при чтении
func (b Batch) Available() int64 {
	return b.QuantityOnHand - b.QuantityReserved
}

// IsExpired - срок годности наступил на момент now
func (b Batch) IsExpired(now time.Time) bool {
	return !now.Before(b.ExpirationDate)
}

// MutationResult - снимок партии до и после Mutate
type MutationResult struct {
	Before Batch
	After  Batch
}

// MovementType тип движения
type MovementType string

const (
	MovementPurchase    MovementType = "purchase"
	MovementSale        MovementType = "sale"
	MovementReturn      MovementType = "return"
	MovementAdjustment  MovementType = "adjustment"
	MovementTransferIn  MovementType = "transfer_in"
	MovementTransferOut MovementType = "transfer_out"
	MovementExpired     MovementType = "expired"
	MovementDamaged     MovementType = "damaged"
)

// Valid проверяет, что тип из допустимого набора
func (t MovementType) Valid() bool {
	switch t {
	case MovementPurchase, MovementSale, MovementReturn, MovementAdjustment,
		MovementTransferIn, MovementTransferOut, MovementExpired, MovementDamaged:
		return true
	}
	return false
}

// Movement - неизменяемая запись о закоммиченном изменении on_hand
type Movement struct {
	ID             int64
	BatchID        string
	ProductID      string
	Type           MovementType
	Delta          int64
	QuantityBefore int64
	QuantityAfter  int64
	TransactionRef string // ID исходной операции
	ContextBatchID string // партия-контрагент для перемещений
	Actor          string
	Reason         string
	CreatedAt      time.Time
}

// MovementFilter - фильтр журнала движений.
// SortBy проверяется по allow-list в реализации хранилища.
type MovementFilter struct {
	BatchID        string
	ProductID      string
	Types          []MovementType
	Actor          string
	TransactionRef string
	From           time.Time
	To             time.Time
	SortBy         string
	SortDesc       bool
	Limit          int
	Offset         int
}

// MovementSummary - агрегат по одному типу движения
type MovementSummary struct {
	Type     MovementType
	Count    int64
	NetDelta int64
}

// SaleStatus статус продажи
type SaleStatus string

const (
	SaleStatusCompleted         SaleStatus = "completed"
	SaleStatusPartiallyRefunded SaleStatus = "partially_refunded"
	SaleStatusRefunded          SaleStatus = "refunded"
	SaleStatusCancelled         SaleStatus = "cancelled"
)

// Sale - закоммиченная продажа
type Sale struct {
	ID            string
	OperationID   string
	Actor         string
	Status        SaleStatus
	Subtotal      int64
	DiscountTotal int64
	TaxTotal      int64
	Total         int64
	Payments      []Payment
	Lines         []SaleLine
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Payment - оплата в минимальных денежных единицах
type Payment struct {
	Method string `json:"method"`
	Amount int64  `json:"amount"`
}

// SaleLine - строка продажи
type SaleLine struct {
	ID               string
	SaleID           string
	LineNo           int
	ProductID        string
	Quantity         int64
	RefundedQuantity int64
	UnitPrice        int64
	DiscountPct      decimal.Decimal
	Gross            int64
	Discount         int64
	Tax              int64
	LineTotal        int64
	PinnedBatchID    string
	Allocations      []SaleAllocation
}

// Refundable - сколько ещё можно вернуть по строке
func (l SaleLine) Refundable() int64 {
	return l.Quantity - l.RefundedQuantity
}

// SaleAllocation - сколько строка продажи взяла из конкретной партии
type SaleAllocation struct {
	Seq              int
	BatchID          string
	BatchNumber      string
	ExpirationDate   time.Time
	Quantity         int64
	RefundedQuantity int64
}

// AlertCategory категория алерта
type AlertCategory string

const (
	AlertCategoryExpiry AlertCategory = "expiry"
	AlertCategoryStock  AlertCategory = "stock"
)

// AlertTier уровень алерта
type AlertTier string

const (
	TierExpired    AlertTier = "expired"
	TierCritical   AlertTier = "critical"
	TierWarning    AlertTier = "warning"
	TierWatch      AlertTier = "watch"
	TierOutOfStock AlertTier = "out_of_stock"
	TierLow        AlertTier = "low"
	TierReorder    AlertTier = "reorder"
	TierNormal     AlertTier = "normal"
)

// Alert - запись ленты алертов
type Alert struct {
	ID             string
	Category       AlertCategory
	Tier           AlertTier
	ProductID      string
	BatchID        string // пусто для алертов по остатку товара
	Quantity       int64
	DaysToExpiry   int
	ExpirationDate time.Time
	Message        string
	Forced         bool
	RaisedAt       time.Time
}

// AlertFilter - фильтр ленты алертов
type AlertFilter struct {
	Since     time.Time
	Category  AlertCategory
	ProductID string
	Limit     int
}

// OutboxEvent - событие для публикации в Kafka
type OutboxEvent struct {
	EventID     string
	Topic       string
	AggregateID string
	EventType   string
	Payload     []byte
	Headers     map[string]string
	Attempts    int
	LastError   string
	CreatedAt   time.Time
}
