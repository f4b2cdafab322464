// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/nkarpova/docrequest-system/internal/model"
	"github.com/nkarpova/docrequest-system/internal/status"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrRequestNotFound возвращается, если заявка с указанным номером не найдена.
	ErrRequestNotFound = errors.New("request not found")
	// ErrPaymentNotFound возвращается, если платёж с указанной ссылкой не найден.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrDuplicateRequestNumber возвращается при коллизии номера заявки.
	ErrDuplicateRequestNumber = errors.New("request number already exists")
	// ErrDuplicateReference возвращается при коллизии платёжной ссылки.
	ErrDuplicateReference = errors.New("payment reference already exists")
	// ErrDuplicateReceipt возвращается, если номер квитанции уже присвоен другому платежу.
	ErrDuplicateReceipt = errors.New("official receipt number already used")
	// ErrPaymentAlreadyConfirmed возвращается при повторном подтверждении платежа.
	ErrPaymentAlreadyConfirmed = errors.New("payment is not pending")
	// ErrConcurrentModification возвращается, если статус заявки изменился между чтением и записью.
	ErrConcurrentModification = errors.New("request status changed concurrently")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure и Deadlocks.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя с указанной ролью.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, role) VALUES ($1, $2, $3) RETURNING id`,
		login, passwordHash, string(role),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, role, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)

	return &u, nil
}

// CountRequestsForDay возвращает число неотменённых заявок пользователя, созданных в указанные сутки.
func (r *PostgresRepository) CountRequestsForDay(ctx context.Context, requesterID int64, day time.Time) (int, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())

	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM requests
		 WHERE requester_id = $1
		   AND created_at >= $2 AND created_at < $3
		   AND status <> $4`,
		requesterID, dayStart, dayStart.Add(24*time.Hour), string(status.StatusCancelled),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count requests: %w", err)
	}

	return count, nil
}

// CreateRequest сохраняет новую заявку.
func (r *PostgresRepository) CreateRequest(ctx context.Context, req *model.DocumentRequest) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO requests
		     (request_number, requester_id, document_type, quantity, purpose, amount, status, payment_deadline)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.Number, req.RequesterID, req.DocumentType, req.Quantity, req.Purpose,
		req.AmountCents, string(req.Status), req.PaymentDeadline,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateRequestNumber, req.Number)
		}
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

const requestColumns = `request_number, requester_id, document_type, quantity, purpose, amount,
	 payment_method, status, payment_deadline, processed_by, rejection_reason,
	 released_by, released_to, release_id_type, release_id_number, claimed_at, created_at`

func scanRequest(row pgx.Row) (*model.DocumentRequest, error) {
	var req model.DocumentRequest
	var st string
	err := row.Scan(
		&req.Number, &req.RequesterID, &req.DocumentType, &req.Quantity, &req.Purpose, &req.AmountCents,
		&req.PaymentMethod, &st, &req.PaymentDeadline, &req.ProcessedBy, &req.RejectionReason,
		&req.ReleasedBy, &req.ReleasedTo, &req.ReleaseIDType, &req.ReleaseIDNumber, &req.ClaimedAt, &req.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.Status = status.Status(st)
	return &req, nil
}

// GetRequestByNumber возвращает заявку по её номеру.
func (r *PostgresRepository) GetRequestByNumber(ctx context.Context, number string) (*model.DocumentRequest, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE request_number = $1`,
		number,
	)

	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("get request: %w", err)
	}

	return req, nil
}

func collectRequests(rows pgx.Rows) ([]model.DocumentRequest, error) {
	defer rows.Close()

	var res []model.DocumentRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		res = append(res, *req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListRequestsByRequester возвращает заявки пользователя, новые первыми.
func (r *PostgresRepository) ListRequestsByRequester(ctx context.Context, requesterID int64) ([]model.DocumentRequest, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+requestColumns+`
		 FROM requests
		 WHERE requester_id = $1
		 ORDER BY created_at DESC`,
		requesterID,
	)
	if err != nil {
		return nil, fmt.Errorf("select requests: %w", err)
	}

	return collectRequests(rows)
}

// ListActiveRequests возвращает заявки в нетерминальных статусах для рабочей очереди персонала.
func (r *PostgresRepository) ListActiveRequests(ctx context.Context) ([]model.DocumentRequest, error) {
	active := status.ActiveStatuses()
	statuses := make([]string, 0, len(active))
	for _, s := range active {
		statuses = append(statuses, string(s))
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+requestColumns+`
		 FROM requests
		 WHERE status = ANY($1)
		 ORDER BY created_at`,
		statuses,
	)
	if err != nil {
		return nil, fmt.Errorf("select active requests: %w", err)
	}

	return collectRequests(rows)
}

// casUpdateStatus выполняет переход статуса заявки по схеме compare-and-swap:
// запись происходит только если текущий статус совпадает с ожидаемым from.
func casUpdateStatus(ctx context.Context, tx pgx.Tx, number string, from, to status.Status, set string, args []any) error {
	query := `UPDATE requests SET status = $2` + set + ` WHERE request_number = $1 AND status = $3`

	allArgs := append([]any{number, string(to), string(from)}, args...)

	cmdTag, err := tx.Exec(ctx, query, allArgs...)
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}

	if cmdTag.RowsAffected() == 1 {
		return nil
	}

	// Отличаем отсутствующую заявку от конкурентного изменения статуса.
	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM requests WHERE request_number = $1)`, number,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check request exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrRequestNotFound, number)
	}
	return fmt.Errorf("%w: %s", ErrConcurrentModification, number)
}

// AdvanceRequest переводит заявку из статуса from в статус to, фиксируя исполнителя
// и причину (для отклонения). Переход выполняется только если текущий статус равен from.
func (r *PostgresRepository) AdvanceRequest(ctx context.Context, number string, from, to status.Status, actorID int64, reason *string) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		err = casUpdateStatus(ctx, tx, number, from, to,
			`, processed_by = $4, rejection_reason = COALESCE($5, rejection_reason)`,
			[]any{actorID, reason},
		)
		if err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
}

// ConfirmClaim переводит заявку ready_for_claim -> claimed и фиксирует время явки.
func (r *PostgresRepository) ConfirmClaim(ctx context.Context, number string, actorID int64, claimedAt time.Time) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		err = casUpdateStatus(ctx, tx, number, status.StatusReadyForClaim, status.StatusClaimed,
			`, processed_by = $4, claimed_at = $5`,
			[]any{actorID, claimedAt},
		)
		if err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
}

// ReleaseRequest переводит заявку claimed -> released и фиксирует получателя документа.
func (r *PostgresRepository) ReleaseRequest(ctx context.Context, number string, actorID int64, releasedTo, idType, idNumber string) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		err = casUpdateStatus(ctx, tx, number, status.StatusClaimed, status.StatusReleased,
			`, released_by = $4, released_to = $5, release_id_type = $6, release_id_number = $7`,
			[]any{actorID, releasedTo, idType, idNumber},
		)
		if err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
}

// CancelRequest переводит заявку из её текущего нетерминального статуса в cancelled.
func (r *PostgresRepository) CancelRequest(ctx context.Context, number string, from status.Status, actorID int64, reason *string) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		err = casUpdateStatus(ctx, tx, number, from, status.StatusCancelled,
			`, processed_by = $4, rejection_reason = COALESCE($5, rejection_reason)`,
			[]any{actorID, reason},
		)
		if err != nil {
			return err
		}

		// Незакрытые платежи отменённой заявки помечаются неуспешными.
		_, err = tx.Exec(ctx,
			`UPDATE payments SET status = $2 WHERE request_number = $1 AND status = $3`,
			number, string(model.PaymentStatusFailed), string(model.PaymentStatusPending),
		)
		if err != nil {
			return fmt.Errorf("fail pending payments: %w", err)
		}

		return tx.Commit(ctx)
	})
}

// CreatePayment сохраняет новый платёж и фиксирует выбранный способ оплаты на заявке.
func (r *PostgresRepository) CreatePayment(ctx context.Context, p *model.Payment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO payments (request_number, method, reference_number, amount, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		p.RequestNumber, p.Method, p.Reference, p.AmountCents, string(p.Status),
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: %s", ErrDuplicateReference, p.Reference)
			}
			if pgErr.Code == pgerrcode.ForeignKeyViolation {
				return fmt.Errorf("%w: %s", ErrRequestNotFound, p.RequestNumber)
			}
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE requests SET payment_method = $2 WHERE request_number = $1`,
		p.RequestNumber, p.Method,
	)
	if err != nil {
		return fmt.Errorf("set payment method: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

const paymentColumns = `id, request_number, method, reference_number, cashier_id,
	 official_receipt_number, amount, status, paid_at, created_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var p model.Payment
	var st string
	err := row.Scan(
		&p.ID, &p.RequestNumber, &p.Method, &p.Reference, &p.CashierID,
		&p.ReceiptNumber, &p.AmountCents, &st, &p.PaidAt, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = model.PaymentStatus(st)
	return &p, nil
}

// GetPaymentByReference возвращает платёж по платёжной ссылке.
func (r *PostgresRepository) GetPaymentByReference(ctx context.Context, reference string) (*model.Payment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE reference_number = $1`,
		reference,
	)

	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}

	return p, nil
}

// ListPaymentsByRequest возвращает платежи заявки, новые первыми.
func (r *PostgresRepository) ListPaymentsByRequest(ctx context.Context, requestNumber string) ([]model.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE request_number = $1
		 ORDER BY created_at DESC`,
		requestNumber,
	)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	var res []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ConfirmCashPayment подтверждает наличный платёж и переводит заявку в статус paid
// в одной транзакции: строка платежа блокируется FOR UPDATE, заявка переводится
// по схеме compare-and-swap. Либо обе записи обновляются, либо ни одна.
func (r *PostgresRepository) ConfirmCashPayment(ctx context.Context, reference string, cashierID int64, receiptNumber string, paidAt time.Time) (*model.Payment, error) {
	var confirmed *model.Payment

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		row := tx.QueryRow(ctx,
			`SELECT `+paymentColumns+` FROM payments WHERE reference_number = $1 FOR UPDATE`,
			reference,
		)
		p, err := scanPayment(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrPaymentNotFound, reference)
			}
			return fmt.Errorf("lock payment: %w", err)
		}

		if p.Status != model.PaymentStatusPending {
			return fmt.Errorf("%w: %s is %s", ErrPaymentAlreadyConfirmed, reference, p.Status)
		}

		_, err = tx.Exec(ctx,
			`UPDATE payments
			 SET status = $2, cashier_id = $3, official_receipt_number = $4, paid_at = $5
			 WHERE id = $1`,
			p.ID, string(model.PaymentStatusPaid), cashierID, receiptNumber, paidAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: %s", ErrDuplicateReceipt, receiptNumber)
			}
			return fmt.Errorf("update payment: %w", err)
		}

		err = casUpdateStatus(ctx, tx, p.RequestNumber, status.StatusPendingPayment, status.StatusPaid, ``, nil)
		if err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		p.Status = model.PaymentStatusPaid
		p.CashierID = &cashierID
		p.ReceiptNumber = &receiptNumber
		p.PaidAt = &paidAt
		confirmed = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	return confirmed, nil
}

// FindExpiredRequestNumbers возвращает номера заявок в pending_payment с истекшим сроком оплаты.
func (r *PostgresRepository) FindExpiredRequestNumbers(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT request_number
		 FROM requests
		 WHERE status = $1 AND payment_deadline < $2
		 ORDER BY payment_deadline
		 LIMIT $3`,
		string(status.StatusPendingPayment), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select expired requests: %w", err)
	}
	defer rows.Close()

	var res []string
	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			return nil, fmt.Errorf("scan request number: %w", err)
		}
		res = append(res, number)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ExpireRequest переводит одну просроченную заявку в payment_expired и каскадно
// помечает её незакрытые платежи просроченными. Возвращает false, если заявку
// успела обработать параллельная операция (повторный запуск свипера безопасен).
func (r *PostgresRepository) ExpireRequest(ctx context.Context, number string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cmdTag, err := tx.Exec(ctx,
		`UPDATE requests SET status = $2 WHERE request_number = $1 AND status = $3`,
		number, string(status.StatusPaymentExpired), string(status.StatusPendingPayment),
	)
	if err != nil {
		return false, fmt.Errorf("expire request: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx,
		`UPDATE payments SET status = $2 WHERE request_number = $1 AND status = $3`,
		number, string(model.PaymentStatusExpired), string(model.PaymentStatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("expire payments: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}

	return true, nil
}

// CreateNotification сохраняет запись исходящего уведомления.
func (r *PostgresRepository) CreateNotification(ctx context.Context, requestNumber, event string, recipientID int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO notifications (request_number, event, recipient_id, status)
		 VALUES ($1, $2, $3, $4)`,
		requestNumber, event, recipientID, string(model.NotificationStatusPending),
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// GetPendingNotifications возвращает недоставленные уведомления, старые первыми.
func (r *PostgresRepository) GetPendingNotifications(ctx context.Context, limit int) ([]model.Notification, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, request_number, event, recipient_id, status, last_error, created_at
		 FROM notifications
		 WHERE status = $1
		 ORDER BY created_at
		 LIMIT $2`,
		string(model.NotificationStatusPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select notifications: %w", err)
	}
	defer rows.Close()

	var res []model.Notification
	for rows.Next() {
		var n model.Notification
		var st string
		if err := rows.Scan(&n.ID, &n.RequestNumber, &n.Event, &n.RecipientID, &st, &n.LastError, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Status = model.NotificationStatus(st)
		res = append(res, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// MarkNotificationSent помечает уведомление доставленным.
func (r *PostgresRepository) MarkNotificationSent(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notifications SET status = $2, last_error = NULL WHERE id = $1`,
		id, string(model.NotificationStatusSent),
	)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}

// MarkNotificationFailed фиксирует ошибку доставки на записи уведомления.
func (r *PostgresRepository) MarkNotificationFailed(ctx context.Context, id int64, cause string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notifications SET status = $2, last_error = $3 WHERE id = $1`,
		id, string(model.NotificationStatusFailed), cause,
	)
	if err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	return nil
}
