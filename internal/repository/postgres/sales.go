package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/apperr"
	"github.com/JoseOrtizQ/MedBE-PharmaFlow/internal/repository"
)

const saleColumns = `id, operation_id, actor, status, subtotal, discount_total, tax_total, total, payments,
	created_at, updated_at`

// GetSale получает продажу со строками и аллокациями
func (s *Store) GetSale(ctx context.Context, id string) (repository.Sale, error) {
	return loadSale(ctx, s.pool, "postgres.GetSale", id, false)
}

// GetSaleForUpdate блокирует строку продажи до конца транзакции
func (u *unitOfWork) GetSaleForUpdate(ctx context.Context, id string) (repository.Sale, error) {
	return loadSale(ctx, u.tx, "postgres.GetSaleForUpdate", id, true)
}

func loadSale(ctx context.Context, q querier, op, id string, forUpdate bool) (repository.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var sale repository.Sale
	var status string
	var payments []byte
	err := q.QueryRow(ctx, query, id).Scan(&sale.ID, &sale.OperationID, &sale.Actor, &status, &sale.Subtotal,
		&sale.DiscountTotal, &sale.TaxTotal, &sale.Total, &payments, &sale.CreatedAt, &sale.UpdatedAt)
	if err != nil {
		return repository.Sale{}, notFoundOr(op, "sale", id, err)
	}
	sale.Status = repository.SaleStatus(status)
	if err := json.Unmarshal(payments, &sale.Payments); err != nil {
		return repository.Sale{}, fmt.Errorf("%s: decode payments: %w", op, err)
	}

	lines, err := loadSaleLines(ctx, q, op, id)
	if err != nil {
		return repository.Sale{}, err
	}
	sale.Lines = lines
	return sale, nil
}

func loadSaleLines(ctx context.Context, q querier, op, saleID string) ([]repository.SaleLine, error) {
	rows, err := q.Query(ctx,
		`SELECT id, sale_id, line_no, product_id, quantity, refunded_quantity, unit_price, discount_pct::text,
		        gross, discount, tax, line_total, pinned_batch_id
		 FROM sale_lines WHERE sale_id = $1 ORDER BY line_no`, saleID)
	if err != nil {
		return nil, translate(op, err)
	}

	lines := make([]repository.SaleLine, 0)
	index := make(map[string]int)
	for rows.Next() {
		var l repository.SaleLine
		var discountPct string
		var pinned *string
		if err := rows.Scan(&l.ID, &l.SaleID, &l.LineNo, &l.ProductID, &l.Quantity, &l.RefundedQuantity,
			&l.UnitPrice, &discountPct, &l.Gross, &l.Discount, &l.Tax, &l.LineTotal, &pinned); err != nil {
			rows.Close()
			return nil, translate(op, err)
		}
		l.DiscountPct, err = decimal.NewFromString(discountPct)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("%s: decode discount: %w", op, err)
		}
		l.PinnedBatchID = fromNullable(pinned)
		index[l.ID] = len(lines)
		lines = append(lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, translate(op, err)
	}

	allocRows, err := q.Query(ctx,
		`SELECT a.sale_line_id, a.seq, a.batch_id, a.batch_number, a.expiration_date, a.quantity, a.refunded_quantity
		 FROM sale_line_allocations a
		 JOIN sale_lines l ON l.id = a.sale_line_id
		 WHERE l.sale_id = $1
		 ORDER BY a.sale_line_id, a.seq`, saleID)
	if err != nil {
		return nil, translate(op, err)
	}
	defer allocRows.Close()

	for allocRows.Next() {
		var lineID string
		var a repository.SaleAllocation
		if err := allocRows.Scan(&lineID, &a.Seq, &a.BatchID, &a.BatchNumber, &a.ExpirationDate,
			&a.Quantity, &a.RefundedQuantity); err != nil {
			return nil, translate(op, err)
		}
		if i, ok := index[lineID]; ok {
			lines[i].Allocations = append(lines[i].Allocations, a)
		}
	}
	if err := allocRows.Err(); err != nil {
		return nil, translate(op, err)
	}

	return lines, nil
}

// CreateSale сохраняет продажу, строки и аллокации
func (u *unitOfWork) CreateSale(ctx context.Context, sale repository.Sale) error {
	const op = "postgres.CreateSale"

	payments, err := json.Marshal(sale.Payments)
	if err != nil {
		return fmt.Errorf("%s: encode payments: %w", op, err)
	}
	if sale.Payments == nil {
		payments = []byte("[]")
	}

	_, err = u.tx.Exec(ctx,
		`INSERT INTO sales (id, operation_id, actor, status, subtotal, discount_total, tax_total, total, payments)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sale.ID, sale.OperationID, sale.Actor, string(sale.Status), sale.Subtotal, sale.DiscountTotal,
		sale.TaxTotal, sale.Total, payments)
	if err != nil {
		return translate(op, err)
	}

	for _, l := range sale.Lines {
		_, err = u.tx.Exec(ctx,
			`INSERT INTO sale_lines (id, sale_id, line_no, product_id, quantity, refunded_quantity, unit_price,
			                         discount_pct, gross, discount, tax, line_total, pinned_batch_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12, $13)`,
			l.ID, sale.ID, l.LineNo, l.ProductID, l.Quantity, l.RefundedQuantity, l.UnitPrice,
			l.DiscountPct.String(), l.Gross, l.Discount, l.Tax, l.LineTotal, nullable(l.PinnedBatchID))
		if err != nil {
			return translate(op, err)
		}

		for _, a := range l.Allocations {
			_, err = u.tx.Exec(ctx,
				`INSERT INTO sale_line_allocations (sale_line_id, seq, batch_id, batch_number, expiration_date,
				                                    quantity, refunded_quantity)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				l.ID, a.Seq, a.BatchID, a.BatchNumber, a.ExpirationDate, a.Quantity, a.RefundedQuantity)
			if err != nil {
				return translate(op, err)
			}
		}
	}

	return nil
}

// FindSaleIDByLine возвращает ID продажи по строке
func (u *unitOfWork) FindSaleIDByLine(ctx context.Context, lineID string) (string, error) {
	const op = "postgres.FindSaleIDByLine"
	var saleID string
	if err := u.tx.QueryRow(ctx, `SELECT sale_id FROM sale_lines WHERE id = $1`, lineID).Scan(&saleID); err != nil {
		return "", notFoundOr(op, "sale line", lineID, err)
	}
	return saleID, nil
}

// UpdateSaleReturns сохраняет статус и возвращённые количества
func (u *unitOfWork) UpdateSaleReturns(ctx context.Context, sale repository.Sale) error {
	const op = "postgres.UpdateSaleReturns"

	tag, err := u.tx.Exec(ctx,
		`UPDATE sales SET status = $2, updated_at = now() WHERE id = $1`, sale.ID, string(sale.Status))
	if err != nil {
		return translate(op, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(op, "sale", sale.ID)
	}

	for _, l := range sale.Lines {
		if _, err := u.tx.Exec(ctx,
			`UPDATE sale_lines SET refunded_quantity = $2 WHERE id = $1`, l.ID, l.RefundedQuantity); err != nil {
			return translate(op, err)
		}
		for _, a := range l.Allocations {
			if _, err := u.tx.Exec(ctx,
				`UPDATE sale_line_allocations SET refunded_quantity = $3 WHERE sale_line_id = $1 AND seq = $2`,
				l.ID, a.Seq, a.RefundedQuantity); err != nil {
				return translate(op, err)
			}
		}
	}

	return nil
}

// RegisterOperation фиксирует применённую операцию; повтор ловится PRIMARY KEY
func (u *unitOfWork) RegisterOperation(ctx context.Context, operationID, kind string) error {
	const op = "postgres.RegisterOperation"
	_, err := u.tx.Exec(ctx,
		`INSERT INTO ledger_operations (operation_id, kind) VALUES ($1, $2)`, operationID, kind)
	return translate(op, err)
}
