// Package service реализует бизнес-логику портала заявок на документы.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nkarpova/docrequest-system/internal/model"
	"github.com/nkarpova/docrequest-system/internal/notification"
	"github.com/nkarpova/docrequest-system/internal/repository"
	"github.com/nkarpova/docrequest-system/internal/status"
)

// ErrIllegalTransition возвращается при попытке перевести заявку в недопустимый статус.
var (
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrDailyLimitExceeded возвращается, если пользователь исчерпал дневной лимит заявок.
	ErrDailyLimitExceeded = errors.New("daily request limit exceeded")
	// ErrNotRequestOwner возвращается, если заявка принадлежит другому пользователю.
	ErrNotRequestOwner = errors.New("request belongs to another user")
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// События уведомлений, передаваемые во внешний шлюз.
const (
	EventRequestCreated   = "request_created"
	EventPaymentConfirmed = "payment_confirmed"
	EventReadyForClaim    = "ready_for_claim"
	EventRejected         = "rejected"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	CountRequestsForDay(ctx context.Context, requesterID int64, day time.Time) (int, error)
	CreateRequest(ctx context.Context, req *model.DocumentRequest) error
	GetRequestByNumber(ctx context.Context, number string) (*model.DocumentRequest, error)
	ListRequestsByRequester(ctx context.Context, requesterID int64) ([]model.DocumentRequest, error)
	ListActiveRequests(ctx context.Context) ([]model.DocumentRequest, error)
	AdvanceRequest(ctx context.Context, number string, from, to status.Status, actorID int64, reason *string) error
	ConfirmClaim(ctx context.Context, number string, actorID int64, claimedAt time.Time) error
	ReleaseRequest(ctx context.Context, number string, actorID int64, releasedTo, idType, idNumber string) error
	CancelRequest(ctx context.Context, number string, from status.Status, actorID int64, reason *string) error
	CreatePayment(ctx context.Context, p *model.Payment) error
	GetPaymentByReference(ctx context.Context, reference string) (*model.Payment, error)
	ListPaymentsByRequest(ctx context.Context, requestNumber string) ([]model.Payment, error)
	ConfirmCashPayment(ctx context.Context, reference string, cashierID int64, receiptNumber string, paidAt time.Time) (*model.Payment, error)
	FindExpiredRequestNumbers(ctx context.Context, now time.Time, limit int) ([]string, error)
	ExpireRequest(ctx context.Context, number string) (bool, error)
	CreateNotification(ctx context.Context, requestNumber, event string, recipientID int64) error
	GetPendingNotifications(ctx context.Context, limit int) ([]model.Notification, error)
	MarkNotificationSent(ctx context.Context, id int64) error
	MarkNotificationFailed(ctx context.Context, id int64, cause string) error
}

// Notifier описывает контракт клиента шлюза уведомлений.
type Notifier interface {
	Send(ctx context.Context, ev notification.Event) (int, time.Duration, error)
}

// Settings содержит параметры бизнес-логики сервиса.
type Settings struct {
	DailyRequestLimit int
	PaymentTTL        time.Duration
	SweepInterval     time.Duration
}

const (
	sweepBatchSize    = 100
	dispatchBatchSize = 100
	dispatchInterval  = 10 * time.Second
)

// Service содержит бизнес-логику портала заявок на документы.
type Service struct {
	repo     Repository
	notifier Notifier
	logger   *zap.Logger
	settings Settings

	// now выделено в поле для управляемого времени в тестах.
	now func() time.Time
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом шлюза уведомлений.
func NewService(repo Repository, notifier Notifier, logger *zap.Logger, settings Settings) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		settings: settings,
		now:      time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя портала. Роль всегда student:
// служебные роли назначаются администратором вне этого сервиса.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed, model.RoleStudent)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return 0, repository.ErrUserExists
		}
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его учётную запись.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return nil, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// CreateRequest создаёт новую заявку в статусе pending_payment. Сумма считается по
// прейскуранту один раз при создании, срок оплаты — now + PaymentTTL.
//
// Проверка дневного лимита выполняется чтением счётчика без блокировки: два
// одновременных вызова могут оба пройти проверку. Лимит трактуется как best-effort.
func (s *Service) CreateRequest(ctx context.Context, requesterID int64, documentType string, quantity int, purpose string) (*model.DocumentRequest, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", quantity)
	}
	if strings.TrimSpace(purpose) == "" {
		return nil, errors.New("purpose must not be empty")
	}

	amount, err := model.AmountFor(documentType, quantity)
	if err != nil {
		return nil, err
	}

	now := s.now()

	count, err := s.repo.CountRequestsForDay(ctx, requesterID, now)
	if err != nil {
		return nil, err
	}
	if count >= s.settings.DailyRequestLimit {
		return nil, fmt.Errorf("%w: %d of %d", ErrDailyLimitExceeded, count, s.settings.DailyRequestLimit)
	}

	req := &model.DocumentRequest{
		RequesterID:     requesterID,
		DocumentType:    documentType,
		Quantity:        quantity,
		Purpose:         purpose,
		AmountCents:     amount,
		Status:          status.StatusPendingPayment,
		PaymentDeadline: now.Add(s.settings.PaymentTTL),
		CreatedAt:       now,
	}

	// Номер заявки содержит случайный суффикс: при коллизии пробуем ещё раз.
	for attempt := 0; attempt < 3; attempt++ {
		req.Number = generateRequestNumber(now)
		err = s.repo.CreateRequest(ctx, req)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrDuplicateRequestNumber) {
			return nil, err
		}
	}
	if err != nil {
		return nil, err
	}

	s.notify(ctx, req.Number, EventRequestCreated, requesterID)

	return req, nil
}

func generateRequestNumber(now time.Time) string {
	return fmt.Sprintf("REQ-%s-%04d", now.Format("20060102"), rand.Intn(10000))
}

func generatePaymentReference(now time.Time) string {
	suffix := uuid.NewString()[:8]
	return fmt.Sprintf("PAY-%s-%s", now.Format("20060102150405"), suffix)
}

// GenerateCashPayment открывает платёж наличными по заявке. Платёж создаётся только
// пока заявка ожидает оплаты; сумма платежа равна сумме заявки.
func (s *Service) GenerateCashPayment(ctx context.Context, number string, requesterID int64) (*model.Payment, error) {
	req, err := s.repo.GetRequestByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != requesterID {
		return nil, fmt.Errorf("%w: %s", ErrNotRequestOwner, number)
	}
	if req.Status != status.StatusPendingPayment {
		return nil, fmt.Errorf("%w: payment for request in status %s", ErrIllegalTransition, req.Status)
	}

	p := &model.Payment{
		RequestNumber: req.Number,
		Method:        model.PaymentMethodCash,
		Reference:     generatePaymentReference(s.now()),
		AmountCents:   req.AmountCents,
		Status:        model.PaymentStatusPending,
	}

	if err := s.repo.CreatePayment(ctx, p); err != nil {
		return nil, err
	}

	return p, nil
}

// ConfirmCashPayment подтверждает платёж по платёжной ссылке: платёж становится paid
// с номером квитанции, заявка переходит pending_payment -> paid в той же транзакции.
// При конкурентном изменении статуса операция повторяется один раз.
func (s *Service) ConfirmCashPayment(ctx context.Context, reference string, cashierID int64, receiptNumber string) (*model.Payment, error) {
	if strings.TrimSpace(receiptNumber) == "" {
		return nil, errors.New("official receipt number must not be empty")
	}

	var p *model.Payment
	err := s.retryOnConflict(func() error {
		var err error
		p, err = s.repo.ConfirmCashPayment(ctx, reference, cashierID, receiptNumber, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	if req, err := s.repo.GetRequestByNumber(ctx, p.RequestNumber); err == nil {
		s.notify(ctx, p.RequestNumber, EventPaymentConfirmed, req.RequesterID)
	}

	return p, nil
}

// Advance переводит заявку в новый статус после проверки политики переходов.
// Для отклонения в reason передаётся причина. При конкурентном изменении статуса
// операция повторяется один раз с перечитыванием текущего статуса.
func (s *Service) Advance(ctx context.Context, number string, to status.Status, actorID int64, reason *string) (*model.DocumentRequest, error) {
	if !status.IsValid(to) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrIllegalTransition, to)
	}

	err := s.retryOnConflict(func() error {
		req, err := s.repo.GetRequestByNumber(ctx, number)
		if err != nil {
			return err
		}
		if !status.CanTransition(req.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, req.Status, to)
		}
		return s.repo.AdvanceRequest(ctx, number, req.Status, to, actorID, reason)
	})
	if err != nil {
		return nil, err
	}

	req, err := s.repo.GetRequestByNumber(ctx, number)
	if err != nil {
		return nil, err
	}

	switch to {
	case status.StatusReadyForClaim:
		s.notify(ctx, number, EventReadyForClaim, req.RequesterID)
	case status.StatusRejected:
		s.notify(ctx, number, EventRejected, req.RequesterID)
	}

	return req, nil
}

// MarkReadyForClaim переводит заявку processing -> ready_for_claim.
func (s *Service) MarkReadyForClaim(ctx context.Context, number string, actorID int64) (*model.DocumentRequest, error) {
	return s.Advance(ctx, number, status.StatusReadyForClaim, actorID, nil)
}

// Reject отклоняет заявку с обязательной причиной.
func (s *Service) Reject(ctx context.Context, number string, actorID int64, reason string) (*model.DocumentRequest, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, errors.New("rejection reason must not be empty")
	}
	return s.Advance(ctx, number, status.StatusRejected, actorID, &reason)
}

// ConfirmClaim фиксирует явку получателя: ready_for_claim -> claimed.
func (s *Service) ConfirmClaim(ctx context.Context, number string, actorID int64) (*model.DocumentRequest, error) {
	err := s.retryOnConflict(func() error {
		req, err := s.repo.GetRequestByNumber(ctx, number)
		if err != nil {
			return err
		}
		if !status.CanTransition(req.Status, status.StatusClaimed) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, req.Status, status.StatusClaimed)
		}
		return s.repo.ConfirmClaim(ctx, number, actorID, s.now())
	})
	if err != nil {
		return nil, err
	}

	return s.repo.GetRequestByNumber(ctx, number)
}

// Release выдаёт документ получателю: claimed -> released, с фиксацией данных
// получателя и предъявленного удостоверения.
func (s *Service) Release(ctx context.Context, number string, actorID int64, releasedTo, idType, idNumber string) (*model.DocumentRequest, error) {
	if strings.TrimSpace(releasedTo) == "" || strings.TrimSpace(idType) == "" || strings.TrimSpace(idNumber) == "" {
		return nil, errors.New("release recipient and ID details must not be empty")
	}

	err := s.retryOnConflict(func() error {
		req, err := s.repo.GetRequestByNumber(ctx, number)
		if err != nil {
			return err
		}
		if !status.CanTransition(req.Status, status.StatusReleased) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, req.Status, status.StatusReleased)
		}
		return s.repo.ReleaseRequest(ctx, number, actorID, releasedTo, idType, idNumber)
	})
	if err != nil {
		return nil, err
	}

	return s.repo.GetRequestByNumber(ctx, number)
}

// Cancel отменяет заявку из любого нетерминального статуса.
func (s *Service) Cancel(ctx context.Context, number string, actorID int64, reason *string) (*model.DocumentRequest, error) {
	err := s.retryOnConflict(func() error {
		req, err := s.repo.GetRequestByNumber(ctx, number)
		if err != nil {
			return err
		}
		if !status.CanTransition(req.Status, status.StatusCancelled) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, req.Status, status.StatusCancelled)
		}
		return s.repo.CancelRequest(ctx, number, req.Status, actorID, reason)
	})
	if err != nil {
		return nil, err
	}

	return s.repo.GetRequestByNumber(ctx, number)
}

// retryOnConflict выполняет операцию и повторяет её один раз, если статус заявки
// изменился конкурентно между чтением и записью.
func (s *Service) retryOnConflict(fn func() error) error {
	err := fn()
	if errors.Is(err, repository.ErrConcurrentModification) {
		err = fn()
	}
	return err
}

// GetRequest возвращает заявку по номеру.
func (s *Service) GetRequest(ctx context.Context, number string) (*model.DocumentRequest, error) {
	return s.repo.GetRequestByNumber(ctx, number)
}

// ListRequestsByRequester возвращает заявки пользователя.
func (s *Service) ListRequestsByRequester(ctx context.Context, requesterID int64) ([]model.DocumentRequest, error) {
	return s.repo.ListRequestsByRequester(ctx, requesterID)
}

// ListActiveRequests возвращает рабочую очередь персонала: заявки в нетерминальных статусах.
func (s *Service) ListActiveRequests(ctx context.Context) ([]model.DocumentRequest, error) {
	return s.repo.ListActiveRequests(ctx)
}

// ListPaymentsByRequest возвращает платежи заявки.
func (s *Service) ListPaymentsByRequest(ctx context.Context, number string) ([]model.Payment, error) {
	return s.repo.ListPaymentsByRequest(ctx, number)
}

// notify сохраняет запись уведомления. Ошибка записи не прерывает основную операцию.
func (s *Service) notify(ctx context.Context, requestNumber, event string, recipientID int64) {
	if err := s.repo.CreateNotification(ctx, requestNumber, event, recipientID); err != nil && s.logger != nil {
		s.logger.Error("create notification",
			zap.Error(err),
			zap.String("request", requestNumber),
			zap.String("event", event),
		)
	}
}

// RunExpirySweep находит заявки в pending_payment с истекшим сроком оплаты и переводит
// их в payment_expired, каскадно просрочивая незакрытые платежи. Каждая заявка
// обрабатывается в собственной транзакции; повторный запуск не даёт новых переходов.
// Возвращает число переведённых заявок.
func (s *Service) RunExpirySweep(ctx context.Context) (int, error) {
	total := 0

	for {
		numbers, err := s.repo.FindExpiredRequestNumbers(ctx, s.now(), sweepBatchSize)
		if err != nil {
			return total, err
		}
		if len(numbers) == 0 {
			return total, nil
		}

		progressed := false
		for _, number := range numbers {
			expired, err := s.repo.ExpireRequest(ctx, number)
			if err != nil {
				return total, err
			}
			if expired {
				total++
				progressed = true
			}
		}

		// Если ни одна заявка из выборки не перешла, их обработал кто-то другой.
		if !progressed || len(numbers) < sweepBatchSize {
			return total, nil
		}
	}
}

// StartExpirySweeps запускает периодический свип просроченных заявок.
func (s *Service) StartExpirySweeps(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.settings.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				count, err := s.RunExpirySweep(ctx)
				if err != nil {
					if s.logger != nil {
						s.logger.Error("expiry sweep", zap.Error(err))
					}
					continue
				}
				if count > 0 && s.logger != nil {
					s.logger.Info("expiry sweep", zap.Int("expired", count))
				}
			}
		}
	}()
}

// StartNotificationDispatch запускает фоновую доставку уведомлений во внешний шлюз.
// Неудача доставки фиксируется на записи уведомления и не влияет на основные операции.
func (s *Service) StartNotificationDispatch(ctx context.Context) {
	if s.notifier == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(dispatchInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processNotificationBatch(ctx)
			}
		}
	}()
}

func (s *Service) processNotificationBatch(ctx context.Context) {
	pending, err := s.repo.GetPendingNotifications(ctx, dispatchBatchSize)
	if err != nil {
		return
	}

	for _, n := range pending {
		code, retryAfter, err := s.notifier.Send(ctx, notification.Event{
			RequestNumber: n.RequestNumber,
			Event:         n.Event,
			RecipientID:   n.RecipientID,
		})
		if err != nil {
			_ = s.repo.MarkNotificationFailed(ctx, n.ID, err.Error())
			continue
		}

		if code == 429 {
			if retryAfter > 0 {
				timer := time.NewTimer(retryAfter)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			continue
		}

		_ = s.repo.MarkNotificationSent(ctx, n.ID)
	}
}
