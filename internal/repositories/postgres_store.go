package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bizledger/internal/apperrors"
	"bizledger/internal/models"
	"bizledger/internal/money"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DB is the subset of *pgxpool.Pool the store needs. pgxmock pools satisfy it too.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

const invoiceColumns = `id, number, client_id, line_item_ids, currency, issue_date, due_date,
	subtotal_minor, tax_rate::text, discount_rate::text, tax_minor, discount_minor, total_minor, paid_minor,
	status, notes, sent_at, paid_at, cancelled_at, version, created_at, updated_at`

const paymentColumns = `id, invoice_id, client_id, amount_minor, currency, method, payment_date,
	reference, notes, voided, voided_at, void_reason, created_at`

const policyColumns = `prefix, next_sequence, period_format, due_in_days, currency, default_tax_rate::text, updated_at`

const overdueCondition = `due_date < %s AND paid_minor < total_minor AND status NOT IN ('paid', 'cancelled')`

// PostgresStore implements LedgerStore on PostgreSQL. Each mutation locks the
// invoice row with SELECT ... FOR UPDATE and writes back with a version check.
type PostgresStore struct {
	db          DB
	lockTimeout time.Duration
	logger      *zap.Logger
}

func NewPostgresStore(db DB, lockTimeout time.Duration, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{db: db, lockTimeout: lockTimeout, logger: logger}
}

// inTx runs fn in a transaction with the store's lock timeout applied.
func (s *PostgresStore) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return mapError(op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if s.lockTimeout > 0 {
		timeout := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
			return mapError(op, err)
		}
	}

	if err := fn(tx); err != nil {
		mapped := mapError(op, err)
		if apperrors.IsRetryable(mapped) {
			s.logger.Warn("ledger transaction conflict", zap.String("op", op), zap.Error(err))
		}
		return mapped
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(op, err)
	}
	return nil
}

func mapError(op string, err error) error {
	if _, ok := apperrors.As(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return apperrors.ErrConflict.WithCause(err)
		case "23505":
			return apperrors.Newf(apperrors.KindConflict, "duplicate key on %s", pgErr.ConstraintName).WithCause(err)
		}
	}
	return apperrors.Internal(op, err)
}

func (s *PostgresStore) CreateInvoice(ctx context.Context, build InvoiceBuilder) (*models.Invoice, error) {
	var created *models.Invoice
	err := s.inTx(ctx, "create invoice", func(tx pgx.Tx) error {
		policy, err := scanPolicy(tx.QueryRow(ctx, `SELECT `+policyColumns+` FROM numbering_policy WHERE id = 1 FOR UPDATE`))
		if err != nil {
			return err
		}
		inv, next, err := build(policy)
		if err != nil {
			return err
		}
		if err := checkInvoice(inv); err != nil {
			return err
		}
		if next.NextSequence <= policy.NextSequence {
			return apperrors.Newf(apperrors.KindInternal, "numbering sequence did not advance past %d", policy.NextSequence)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO invoices (id, number, client_id, line_item_ids, currency, issue_date, due_date,
				subtotal_minor, tax_rate, discount_rate, tax_minor, discount_minor, total_minor, paid_minor,
				status, notes, sent_at, paid_at, cancelled_at, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
			inv.ID, inv.Number, inv.ClientID, inv.LineItemIDs, inv.Currency, inv.IssueDate, inv.DueDate,
			inv.Subtotal.Minor(), inv.TaxRate.String(), inv.DiscountRate.String(), inv.TaxAmount.Minor(),
			inv.DiscountAmount.Minor(), inv.Total.Minor(), inv.PaidAmount.Minor(),
			string(inv.Status), inv.Notes, inv.SentAt, inv.PaidAt, inv.CancelledAt, inv.Version, inv.CreatedAt, inv.UpdatedAt)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `UPDATE numbering_policy SET next_sequence = $1, updated_at = NOW() WHERE id = 1`, next.NextSequence); err != nil {
			return err
		}
		created = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *PostgresStore) GetInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	inv, err := scanInvoice(s.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("invoice")
	}
	if err != nil {
		return nil, mapError("get invoice", err)
	}
	return inv, nil
}

func (s *PostgresStore) ListInvoices(ctx context.Context, filter models.InvoiceFilter) ([]*models.Invoice, error) {
	var (
		conditions []string
		args       []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.ClientID != nil {
		conditions = append(conditions, "client_id = "+arg(*filter.ClientID))
	}
	if filter.Status != nil {
		conditions = append(conditions, "status = "+arg(string(*filter.Status)))
	}
	if filter.IssuedFrom != nil {
		conditions = append(conditions, "issue_date >= "+arg(*filter.IssuedFrom))
	}
	if filter.IssuedTo != nil {
		conditions = append(conditions, "issue_date < "+arg(*filter.IssuedTo))
	}
	if filter.OverdueAsOf != nil {
		conditions = append(conditions, fmt.Sprintf(overdueCondition, arg(*filter.OverdueAsOf)))
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	limit, offset := normalizeLimit(filter.Limit, filter.Offset)
	query += " ORDER BY created_at DESC, number DESC LIMIT " + arg(limit) + " OFFSET " + arg(offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("list invoices", err)
	}
	defer rows.Close()

	invoices := []*models.Invoice{}
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, mapError("scan invoice", err)
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list invoices", err)
	}
	return invoices, nil
}

func lockInvoice(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Invoice, error) {
	inv, err := scanInvoice(tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("invoice")
	}
	return inv, err
}

// updateInvoice writes work back if the row still carries current's version.
func updateInvoice(ctx context.Context, tx pgx.Tx, current, work *models.Invoice) error {
	work.ID = current.ID
	work.Number = current.Number
	if err := checkInvoice(work); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE invoices SET
			line_item_ids = $3, subtotal_minor = $4, tax_rate = $5, discount_rate = $6,
			tax_minor = $7, discount_minor = $8, total_minor = $9, paid_minor = $10,
			status = $11, notes = $12, sent_at = $13, paid_at = $14, cancelled_at = $15,
			updated_at = $16, version = version + 1
		WHERE id = $1 AND version = $2`,
		current.ID, current.Version,
		work.LineItemIDs, work.Subtotal.Minor(), work.TaxRate.String(), work.DiscountRate.String(),
		work.TaxAmount.Minor(), work.DiscountAmount.Minor(), work.Total.Minor(), work.PaidAmount.Minor(),
		string(work.Status), work.Notes, work.SentAt, work.PaidAt, work.CancelledAt, work.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Newf(apperrors.KindConflict, "invoice %s changed concurrently", current.Number)
	}
	work.Version = current.Version + 1
	return nil
}

func (s *PostgresStore) MutateInvoice(ctx context.Context, id uuid.UUID, fn func(inv *models.Invoice) error) (*models.Invoice, error) {
	var result *models.Invoice
	err := s.inTx(ctx, "update invoice", func(tx pgx.Tx) error {
		current, err := lockInvoice(ctx, tx, id)
		if err != nil {
			return err
		}
		work := current.Clone()
		if err := fn(work); err != nil {
			return err
		}
		if err := updateInvoice(ctx, tx, current, work); err != nil {
			return err
		}
		result = work
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) DeleteInvoice(ctx context.Context, id uuid.UUID) error {
	return s.inTx(ctx, "delete invoice", func(tx pgx.Tx) error {
		if _, err := lockInvoice(ctx, tx, id); err != nil {
			return err
		}
		var hasPayments bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE invoice_id = $1 AND NOT voided)`, id).Scan(&hasPayments); err != nil {
			return err
		}
		if hasPayments {
			return apperrors.ErrHasPayments.WithDetails(map[string]interface{}{"invoice_id": id})
		}
		_, err := tx.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
		return err
	})
}

func (s *PostgresStore) RecordPayment(ctx context.Context, invoiceID uuid.UUID, fn func(inv *models.Invoice) (*models.Payment, error)) (*models.Payment, *models.Invoice, error) {
	var (
		payment *models.Payment
		invoice *models.Invoice
	)
	err := s.inTx(ctx, "record payment", func(tx pgx.Tx) error {
		current, err := lockInvoice(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		work := current.Clone()
		p, err := fn(work)
		if err != nil {
			return err
		}
		if p.InvoiceID != invoiceID {
			return apperrors.Newf(apperrors.KindInternal, "payment references invoice %s, expected %s", p.InvoiceID, invoiceID)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO payments (id, invoice_id, client_id, amount_minor, currency, method, payment_date,
				reference, notes, voided, voided_at, void_reason, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			p.ID, p.InvoiceID, p.ClientID, p.Amount.Minor(), p.Amount.Currency(), string(p.Method), p.PaymentDate,
			p.Reference, p.Notes, p.Voided, p.VoidedAt, p.VoidReason, p.CreatedAt)
		if err != nil {
			return err
		}
		if err := updateInvoice(ctx, tx, current, work); err != nil {
			return err
		}
		payment, invoice = p, work
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return payment, invoice, nil
}

func (s *PostgresStore) VoidPayment(ctx context.Context, paymentID uuid.UUID, fn func(inv *models.Invoice, p *models.Payment) error) (*models.Payment, *models.Invoice, error) {
	var (
		payment *models.Payment
		invoice *models.Invoice
	)
	err := s.inTx(ctx, "void payment", func(tx pgx.Tx) error {
		var invoiceID uuid.UUID
		err := tx.QueryRow(ctx, `SELECT invoice_id FROM payments WHERE id = $1`, paymentID).Scan(&invoiceID)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("payment")
		}
		if err != nil {
			return err
		}

		// Invoice first, then payment: the same order RecordPayment takes.
		current, err := lockInvoice(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		p, err := scanPayment(tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, paymentID))
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("payment")
		}
		if err != nil {
			return err
		}

		work := current.Clone()
		if err := fn(work, p); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE payments SET voided = $2, voided_at = $3, void_reason = $4 WHERE id = $1`,
			paymentID, p.Voided, p.VoidedAt, p.VoidReason); err != nil {
			return err
		}
		if err := updateInvoice(ctx, tx, current, work); err != nil {
			return err
		}
		payment, invoice = p, work
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return payment, invoice, nil
}

func (s *PostgresStore) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	p, err := scanPayment(s.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("payment")
	}
	if err != nil {
		return nil, mapError("get payment", err)
	}
	return p, nil
}

func (s *PostgresStore) ListPayments(ctx context.Context, filter models.PaymentFilter) ([]*models.Payment, error) {
	var (
		conditions []string
		args       []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.InvoiceID != nil {
		conditions = append(conditions, "invoice_id = "+arg(*filter.InvoiceID))
	}
	if filter.ClientID != nil {
		conditions = append(conditions, "client_id = "+arg(*filter.ClientID))
	}
	if !filter.IncludeVoided {
		conditions = append(conditions, "NOT voided")
	}

	query := `SELECT ` + paymentColumns + ` FROM payments`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	limit, offset := normalizeLimit(filter.Limit, filter.Offset)
	query += " ORDER BY payment_date DESC, created_at DESC LIMIT " + arg(limit) + " OFFSET " + arg(offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("list payments", err)
	}
	defer rows.Close()

	payments := []*models.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, mapError("scan payment", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list payments", err)
	}
	return payments, nil
}

func (s *PostgresStore) SumClientPayments(ctx context.Context, clientID uuid.UUID, currency string) (money.Money, error) {
	var minor int64
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_minor), 0)::bigint FROM payments
		WHERE client_id = $1 AND currency = $2 AND NOT voided`, clientID, currency).Scan(&minor)
	if err != nil {
		return money.Money{}, mapError("sum client payments", err)
	}
	return money.New(minor, currency)
}

// SumPayments totals non-voided payments dated in [from, to). Nil bounds are open.
func (s *PostgresStore) SumPayments(ctx context.Context, currency string, from, to *time.Time) (money.Money, error) {
	var minor int64
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_minor), 0)::bigint FROM payments
		WHERE currency = $1
			AND payment_date >= COALESCE($2, '-infinity'::timestamptz)
			AND payment_date < COALESCE($3, 'infinity'::timestamptz)
			AND NOT voided`, currency, from, to).Scan(&minor)
	if err != nil {
		return money.Money{}, mapError("sum payments", err)
	}
	return money.New(minor, currency)
}

func (s *PostgresStore) SummarizeInvoices(ctx context.Context, asOf time.Time, currency string) (InvoiceStats, error) {
	query := `
		SELECT CASE WHEN ` + fmt.Sprintf(overdueCondition, "$1") + ` THEN 'overdue' ELSE status END AS effective_status,
			COUNT(*),
			COALESCE(SUM(CASE WHEN status IN ('sent', 'partially_paid') AND currency = $2
				THEN total_minor - paid_minor ELSE 0 END), 0)::bigint
		FROM invoices
		GROUP BY 1`

	rows, err := s.db.Query(ctx, query, asOf, currency)
	if err != nil {
		return InvoiceStats{}, mapError("summarize invoices", err)
	}
	defer rows.Close()

	stats := InvoiceStats{StatusCounts: make(map[models.InvoiceStatus]int)}
	var outstanding int64
	for rows.Next() {
		var (
			status string
			count  int64
			owed   int64
		)
		if err := rows.Scan(&status, &count, &owed); err != nil {
			return InvoiceStats{}, mapError("scan invoice summary", err)
		}
		stats.StatusCounts[models.InvoiceStatus(status)] = int(count)
		outstanding += owed
	}
	if err := rows.Err(); err != nil {
		return InvoiceStats{}, mapError("summarize invoices", err)
	}
	if stats.Outstanding, err = money.New(outstanding, currency); err != nil {
		return InvoiceStats{}, err
	}
	return stats, nil
}

func (s *PostgresStore) GetNumberingPolicy(ctx context.Context) (models.NumberingPolicy, error) {
	policy, err := scanPolicy(s.db.QueryRow(ctx, `SELECT `+policyColumns+` FROM numbering_policy WHERE id = 1`))
	if err != nil {
		return models.NumberingPolicy{}, mapError("get numbering policy", err)
	}
	return policy, nil
}

func (s *PostgresStore) UpdateNumberingPolicy(ctx context.Context, fn func(policy models.NumberingPolicy) (models.NumberingPolicy, error)) (models.NumberingPolicy, error) {
	var result models.NumberingPolicy
	err := s.inTx(ctx, "update numbering policy", func(tx pgx.Tx) error {
		current, err := scanPolicy(tx.QueryRow(ctx, `SELECT `+policyColumns+` FROM numbering_policy WHERE id = 1 FOR UPDATE`))
		if err != nil {
			return err
		}
		updated, err := fn(current)
		if err != nil {
			return err
		}
		err = tx.QueryRow(ctx, `
			UPDATE numbering_policy SET prefix = $1, next_sequence = $2, period_format = $3, due_in_days = $4,
				currency = $5, default_tax_rate = $6, updated_at = NOW()
			WHERE id = 1
			RETURNING updated_at`,
			updated.Prefix, updated.NextSequence, updated.PeriodFormat, updated.DueInDays,
			updated.Currency, updated.DefaultTaxRate.String()).Scan(&updated.UpdatedAt)
		if err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		return models.NumberingPolicy{}, err
	}
	return result, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func scanInvoice(row pgx.Row) (*models.Invoice, error) {
	var (
		inv                                  models.Invoice
		taxRate, discountRate, status        string
		subtotal, tax, discount, total, paid int64
	)
	err := row.Scan(&inv.ID, &inv.Number, &inv.ClientID, &inv.LineItemIDs, &inv.Currency, &inv.IssueDate, &inv.DueDate,
		&subtotal, &taxRate, &discountRate, &tax, &discount, &total, &paid,
		&status, &inv.Notes, &inv.SentAt, &inv.PaidAt, &inv.CancelledAt, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}

	inv.Currency = strings.TrimSpace(inv.Currency)
	if err := money.ValidateCurrency(inv.Currency); err != nil {
		return nil, err
	}
	inv.Status = models.InvoiceStatus(status)
	if inv.TaxRate, err = decimal.NewFromString(taxRate); err != nil {
		return nil, fmt.Errorf("invalid tax rate %q: %w", taxRate, err)
	}
	if inv.DiscountRate, err = decimal.NewFromString(discountRate); err != nil {
		return nil, fmt.Errorf("invalid discount rate %q: %w", discountRate, err)
	}
	inv.Subtotal = money.FromMinor(subtotal, inv.Currency)
	inv.TaxAmount = money.FromMinor(tax, inv.Currency)
	inv.DiscountAmount = money.FromMinor(discount, inv.Currency)
	inv.Total = money.FromMinor(total, inv.Currency)
	inv.PaidAmount = money.FromMinor(paid, inv.Currency)
	return &inv, nil
}

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var (
		p                models.Payment
		amount           int64
		currency, method string
	)
	err := row.Scan(&p.ID, &p.InvoiceID, &p.ClientID, &amount, &currency, &method, &p.PaymentDate,
		&p.Reference, &p.Notes, &p.Voided, &p.VoidedAt, &p.VoidReason, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if p.Amount, err = money.New(amount, strings.TrimSpace(currency)); err != nil {
		return nil, err
	}
	p.Method = models.PaymentMethod(method)
	return &p, nil
}

func scanPolicy(row pgx.Row) (models.NumberingPolicy, error) {
	var (
		policy  models.NumberingPolicy
		taxRate string
	)
	err := row.Scan(&policy.Prefix, &policy.NextSequence, &policy.PeriodFormat, &policy.DueInDays,
		&policy.Currency, &taxRate, &policy.UpdatedAt)
	if err != nil {
		return models.NumberingPolicy{}, err
	}
	policy.Currency = strings.TrimSpace(policy.Currency)
	if policy.DefaultTaxRate, err = decimal.NewFromString(taxRate); err != nil {
		return models.NumberingPolicy{}, fmt.Errorf("invalid default tax rate %q: %w", taxRate, err)
	}
	return policy, nil
}

var _ LedgerStore = (*PostgresStore)(nil)
