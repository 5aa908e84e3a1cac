package db

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"selcom-gateway/internal/checkout"
	"selcom-gateway/internal/message"
	"selcom-gateway/internal/model"
)

var ErrOrderNotFound = errors.New("order not found")

// OrderRepository is the Postgres order store. It also serves cart and stock
// updates, the attempt log and the payment event outbox.
type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *OrderRepository) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	query := `SELECT o.id, o.order_key, o.customer_id, o.status, o.total, o.currency,
	                 o.billing_first_name, o.billing_last_name, o.billing_email, o.billing_phone,
	                 o.payment_method, COALESCE(o.transaction_id, ''), o.stock_reduced, o.created_at, o.paid_at,
	                 COALESCE((SELECT SUM(i.quantity) FROM order_item i WHERE i.order_id = o.id), 0)
	          FROM shop_order o WHERE o.id = $1`

	var order model.Order
	var status string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&order.ID, &order.OrderKey, &order.CustomerID, &status, &order.Total, &order.Currency,
		&order.BillingFirst, &order.BillingLast, &order.BillingEmail, &order.BillingPhone,
		&order.PaymentMethod, &order.TransactionID, &order.StockReduced, &order.CreatedAt, &order.PaidAt,
		&order.ItemCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get order %d", id)
	}

	order.Status = model.OrderStatus(status)
	return &order, nil
}

// MarkPaid moves a pending or on-hold order to paid and queues a payment event in
// the same transaction. It returns false when the order was not payable, which
// makes the first completion win.
func (r *OrderRepository) MarkPaid(ctx context.Context, id int64, transactionRef string) (bool, error) {
	return r.markPaid(ctx, id, transactionRef, model.OrderStatusPending, model.OrderStatusOnHold)
}

// MarkPaidIfPending is MarkPaid restricted to pending orders.
func (r *OrderRepository) MarkPaidIfPending(ctx context.Context, id int64, transactionRef string) (bool, error) {
	return r.markPaid(ctx, id, transactionRef, model.OrderStatusPending)
}

func (r *OrderRepository) markPaid(ctx context.Context, id int64, transactionRef string, from ...model.OrderStatus) (bool, error) {
	statuses := make([]string, len(from))
	for i, status := range from {
		statuses[i] = string(status)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, errors.Wrap(err, "begin mark paid")
	}
	defer tx.Rollback(ctx)

	query := `UPDATE shop_order
	          SET status = 'paid', transaction_id = $2, paid_at = now(), updated_at = now()
	          WHERE id = $1 AND status = ANY($3::text[])
	          RETURNING order_key, customer_id, total, currency, paid_at`

	event := message.PaymentCompleted{
		ID:            uuid.New(),
		Event:         message.EventPaymentCompleted,
		OrderID:       id,
		TransactionID: transactionRef,
	}
	err = tx.QueryRow(ctx, query, id, transactionRef, statuses).
		Scan(&event.OrderKey, &event.CustomerID, &event.Total, &event.Currency, &event.PaidAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "mark order %d paid", id)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return false, err
	}

	_, err = tx.Exec(ctx, `INSERT INTO payment_event (id, order_id, event, payload, created_at, scheduled_at)
	                       VALUES ($1, $2, $3, $4, now(), now())`,
		event.ID, id, event.Event, string(payload))
	if err != nil {
		return false, errors.Wrap(err, "insert payment event")
	}

	if err := tx.Commit(ctx); err != nil {
		return false, errors.Wrap(err, "commit mark paid")
	}
	return true, nil
}

func (r *OrderRepository) AddNote(ctx context.Context, id int64, note string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO order_note (order_id, note) VALUES ($1, $2)`, id, note)
	return errors.Wrapf(err, "add note to order %d", id)
}

func (r *OrderRepository) GetNotes(ctx context.Context, id int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT note FROM order_note WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *OrderRepository) EmptyCart(ctx context.Context, customerID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM cart_item WHERE customer_id = $1`, customerID)
	return errors.Wrapf(err, "empty cart of customer %d", customerID)
}

// ReduceStockLevels decrements product stock for the order's items. It runs at
// most once per order; later calls are no-ops.
func (r *OrderRepository) ReduceStockLevels(ctx context.Context, orderID int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin reduce stock")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE shop_order SET stock_reduced = true, updated_at = now()
	                          WHERE id = $1 AND NOT stock_reduced`, orderID)
	if err != nil {
		return errors.Wrapf(err, "flag stock reduced for order %d", orderID)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	_, err = tx.Exec(ctx, `UPDATE product p
	                       SET stock = p.stock - i.quantity
	                       FROM (SELECT product_id, SUM(quantity) AS quantity
	                             FROM order_item WHERE order_id = $1 GROUP BY product_id) i
	                       WHERE p.id = i.product_id AND p.manage_stock`, orderID)
	if err != nil {
		return errors.Wrapf(err, "reduce stock for order %d", orderID)
	}

	return errors.Wrap(tx.Commit(ctx), "commit reduce stock")
}

func (r *OrderRepository) SaveAttempt(ctx context.Context, attempt *checkout.Attempt) error {
	query := `INSERT INTO payment_attempt (attempt_id, order_id, state, message, trans_id, trace_id, span_id, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query, attempt.ID, attempt.OrderID, string(attempt.State), attempt.Message,
		attempt.TransID, attempt.TraceID, attempt.SpanID, attempt.CreatedAt)
	return errors.Wrap(err, "save attempt")
}

func (r *OrderRepository) GetAttempts(ctx context.Context, orderID int64) ([]*checkout.Attempt, error) {
	query := `SELECT attempt_id, order_id, state, message, trans_id, trace_id, span_id, created_at
	          FROM payment_attempt WHERE order_id = $1 ORDER BY id`
	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*checkout.Attempt
	for rows.Next() {
		var a checkout.Attempt
		var state string
		if err := rows.Scan(&a.ID, &a.OrderID, &state, &a.Message, &a.TransID, &a.TraceID, &a.SpanID, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.State = checkout.State(state)
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}

// GetUnpublishedEvents locks due outbox rows so concurrent producers skip them.
func (r *OrderRepository) GetUnpublishedEvents(ctx context.Context, tx pgx.Tx, limit int) ([]*PaymentEventEntity, error) {
	query := `SELECT id, order_id, event, payload, created_at, scheduled_at, published_at, publish_attempts, error
	          FROM payment_event
	          WHERE published_at IS NULL AND scheduled_at IS NOT NULL AND scheduled_at <= now()
	          ORDER BY scheduled_at
	          LIMIT $1
	          FOR UPDATE SKIP LOCKED`
	rows, err := tx.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*PaymentEventEntity
	for rows.Next() {
		var e PaymentEventEntity
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Event, &e.Payload, &e.CreatedAt, &e.ScheduledAt,
			&e.PublishedAt, &e.PublishAttempts, &e.Error); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (r *OrderRepository) UpdateEvent(ctx context.Context, tx pgx.Tx, e *PaymentEventEntity) error {
	query := `UPDATE payment_event
	          SET scheduled_at = $2, published_at = $3, publish_attempts = $4, error = $5
	          WHERE id = $1`
	_, err := tx.Exec(ctx, query, e.ID, e.ScheduledAt, e.PublishedAt, e.PublishAttempts, e.Error)
	return err
}

func (r *OrderRepository) GetEvent(ctx context.Context, id uuid.UUID) (*PaymentEventEntity, error) {
	query := `SELECT id, order_id, event, payload, created_at, scheduled_at, published_at, publish_attempts, error
	          FROM payment_event WHERE id = $1`
	var e PaymentEventEntity
	err := r.pool.QueryRow(ctx, query, id).Scan(&e.ID, &e.OrderID, &e.Event, &e.Payload, &e.CreatedAt,
		&e.ScheduledAt, &e.PublishedAt, &e.PublishAttempts, &e.Error)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
