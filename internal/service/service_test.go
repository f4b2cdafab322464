package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nkarpova/docrequest-system/internal/model"
	"github.com/nkarpova/docrequest-system/internal/notification"
	"github.com/nkarpova/docrequest-system/internal/repository"
	"github.com/nkarpova/docrequest-system/internal/status"
)

// memRepo — репозиторий в памяти с той же семантикой уникальности и
// compare-and-swap, что и у PostgreSQL-реализации.
type memRepo struct {
	requests      map[string]*model.DocumentRequest
	payments      map[string]*model.Payment
	notifications []model.Notification
	nextPaymentID int64
	nextNotifID   int64

	// failConfirmOnce заставляет следующий вызов ConfirmCashPayment вернуть
	// ErrConcurrentModification, не меняя данных.
	failConfirmOnce bool
	// failNotifications заставляет CreateNotification возвращать ошибку.
	failNotifications bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		requests: make(map[string]*model.DocumentRequest),
		payments: make(map[string]*model.Payment),
	}
}

func (m *memRepo) Close() error { return nil }

func (m *memRepo) CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error) {
	return 1, nil
}

func (m *memRepo) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	return nil, repository.ErrUserNotFound
}

func (m *memRepo) CountRequestsForDay(ctx context.Context, requesterID int64, day time.Time) (int, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	count := 0
	for _, req := range m.requests {
		if req.RequesterID != requesterID || req.Status == status.StatusCancelled {
			continue
		}
		if !req.CreatedAt.Before(dayStart) && req.CreatedAt.Before(dayStart.Add(24*time.Hour)) {
			count++
		}
	}
	return count, nil
}

func (m *memRepo) CreateRequest(ctx context.Context, req *model.DocumentRequest) error {
	if _, ok := m.requests[req.Number]; ok {
		return repository.ErrDuplicateRequestNumber
	}
	cp := *req
	m.requests[req.Number] = &cp
	return nil
}

func (m *memRepo) GetRequestByNumber(ctx context.Context, number string) (*model.DocumentRequest, error) {
	req, ok := m.requests[number]
	if !ok {
		return nil, repository.ErrRequestNotFound
	}
	cp := *req
	return &cp, nil
}

func (m *memRepo) ListRequestsByRequester(ctx context.Context, requesterID int64) ([]model.DocumentRequest, error) {
	var res []model.DocumentRequest
	for _, req := range m.requests {
		if req.RequesterID == requesterID {
			res = append(res, *req)
		}
	}
	return res, nil
}

func (m *memRepo) ListActiveRequests(ctx context.Context) ([]model.DocumentRequest, error) {
	var res []model.DocumentRequest
	for _, req := range m.requests {
		if status.IsActive(req.Status) {
			res = append(res, *req)
		}
	}
	return res, nil
}

func (m *memRepo) cas(number string, from, to status.Status) (*model.DocumentRequest, error) {
	req, ok := m.requests[number]
	if !ok {
		return nil, repository.ErrRequestNotFound
	}
	if req.Status != from {
		return nil, repository.ErrConcurrentModification
	}
	req.Status = to
	return req, nil
}

func (m *memRepo) AdvanceRequest(ctx context.Context, number string, from, to status.Status, actorID int64, reason *string) error {
	req, err := m.cas(number, from, to)
	if err != nil {
		return err
	}
	req.ProcessedBy = &actorID
	if reason != nil {
		req.RejectionReason = reason
	}
	return nil
}

func (m *memRepo) ConfirmClaim(ctx context.Context, number string, actorID int64, claimedAt time.Time) error {
	req, err := m.cas(number, status.StatusReadyForClaim, status.StatusClaimed)
	if err != nil {
		return err
	}
	req.ProcessedBy = &actorID
	req.ClaimedAt = &claimedAt
	return nil
}

func (m *memRepo) ReleaseRequest(ctx context.Context, number string, actorID int64, releasedTo, idType, idNumber string) error {
	req, err := m.cas(number, status.StatusClaimed, status.StatusReleased)
	if err != nil {
		return err
	}
	req.ReleasedBy = &actorID
	req.ReleasedTo = &releasedTo
	req.ReleaseIDType = &idType
	req.ReleaseIDNumber = &idNumber
	return nil
}

func (m *memRepo) CancelRequest(ctx context.Context, number string, from status.Status, actorID int64, reason *string) error {
	req, err := m.cas(number, from, status.StatusCancelled)
	if err != nil {
		return err
	}
	req.ProcessedBy = &actorID
	if reason != nil {
		req.RejectionReason = reason
	}
	for _, p := range m.payments {
		if p.RequestNumber == number && p.Status == model.PaymentStatusPending {
			p.Status = model.PaymentStatusFailed
		}
	}
	return nil
}

func (m *memRepo) CreatePayment(ctx context.Context, p *model.Payment) error {
	if _, ok := m.payments[p.Reference]; ok {
		return repository.ErrDuplicateReference
	}
	if _, ok := m.requests[p.RequestNumber]; !ok {
		return repository.ErrRequestNotFound
	}
	m.nextPaymentID++
	p.ID = m.nextPaymentID
	cp := *p
	m.payments[p.Reference] = &cp
	m.requests[p.RequestNumber].PaymentMethod = &cp.Method
	return nil
}

func (m *memRepo) GetPaymentByReference(ctx context.Context, reference string) (*model.Payment, error) {
	p, ok := m.payments[reference]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memRepo) ListPaymentsByRequest(ctx context.Context, requestNumber string) ([]model.Payment, error) {
	var res []model.Payment
	for _, p := range m.payments {
		if p.RequestNumber == requestNumber {
			res = append(res, *p)
		}
	}
	return res, nil
}

func (m *memRepo) ConfirmCashPayment(ctx context.Context, reference string, cashierID int64, receiptNumber string, paidAt time.Time) (*model.Payment, error) {
	if m.failConfirmOnce {
		m.failConfirmOnce = false
		return nil, repository.ErrConcurrentModification
	}

	p, ok := m.payments[reference]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	if p.Status != model.PaymentStatusPending {
		return nil, repository.ErrPaymentAlreadyConfirmed
	}
	for _, other := range m.payments {
		if other.ReceiptNumber != nil && *other.ReceiptNumber == receiptNumber {
			return nil, repository.ErrDuplicateReceipt
		}
	}

	// Перевод заявки и платежа — одна атомарная операция.
	if _, err := m.cas(p.RequestNumber, status.StatusPendingPayment, status.StatusPaid); err != nil {
		return nil, err
	}

	p.Status = model.PaymentStatusPaid
	p.CashierID = &cashierID
	p.ReceiptNumber = &receiptNumber
	p.PaidAt = &paidAt

	cp := *p
	return &cp, nil
}

func (m *memRepo) FindExpiredRequestNumbers(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var res []string
	for number, req := range m.requests {
		if req.Status == status.StatusPendingPayment && req.PaymentDeadline.Before(now) {
			res = append(res, number)
			if len(res) == limit {
				break
			}
		}
	}
	return res, nil
}

func (m *memRepo) ExpireRequest(ctx context.Context, number string) (bool, error) {
	req, ok := m.requests[number]
	if !ok || req.Status != status.StatusPendingPayment {
		return false, nil
	}
	req.Status = status.StatusPaymentExpired
	for _, p := range m.payments {
		if p.RequestNumber == number && p.Status == model.PaymentStatusPending {
			p.Status = model.PaymentStatusExpired
		}
	}
	return true, nil
}

func (m *memRepo) CreateNotification(ctx context.Context, requestNumber, event string, recipientID int64) error {
	if m.failNotifications {
		return errors.New("notification storage unavailable")
	}
	m.nextNotifID++
	m.notifications = append(m.notifications, model.Notification{
		ID:            m.nextNotifID,
		RequestNumber: requestNumber,
		Event:         event,
		RecipientID:   recipientID,
		Status:        model.NotificationStatusPending,
	})
	return nil
}

func (m *memRepo) GetPendingNotifications(ctx context.Context, limit int) ([]model.Notification, error) {
	var res []model.Notification
	for _, n := range m.notifications {
		if n.Status == model.NotificationStatusPending {
			res = append(res, n)
			if len(res) == limit {
				break
			}
		}
	}
	return res, nil
}

func (m *memRepo) MarkNotificationSent(ctx context.Context, id int64) error {
	for i := range m.notifications {
		if m.notifications[i].ID == id {
			m.notifications[i].Status = model.NotificationStatusSent
		}
	}
	return nil
}

func (m *memRepo) MarkNotificationFailed(ctx context.Context, id int64, cause string) error {
	for i := range m.notifications {
		if m.notifications[i].ID == id {
			m.notifications[i].Status = model.NotificationStatusFailed
			m.notifications[i].LastError = &cause
		}
	}
	return nil
}

func newTestService(repo Repository, limit int) *Service {
	return NewService(repo, nil, nil, Settings{
		DailyRequestLimit: limit,
		PaymentTTL:        48 * time.Hour,
		SweepInterval:     time.Hour,
	})
}

func TestHashPasswordDeterministic(t *testing.T) {
	a := hashPassword("user", "pass")
	b := hashPassword("user", "pass")
	c := hashPassword("user", "other")

	if string(a) != string(b) {
		t.Fatalf("hashPassword must be deterministic, got %x and %x", a, b)
	}
	if string(a) == string(c) {
		t.Fatalf("different passwords must produce different hashes")
	}
}

func TestCreateRequest(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, 5)

	t0 := time.Date(2025, 10, 8, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return t0 }

	req, err := svc.CreateRequest(context.Background(), 7, "transcript", 3, "employment abroad")
	if err != nil {
		t.Fatalf("CreateRequest error: %v", err)
	}

	if req.Status != status.StatusPendingPayment {
		t.Errorf("status = %s, want %s", req.Status, status.StatusPendingPayment)
	}
	if req.AmountCents != 15000 {
		t.Errorf("amount = %d, want 15000 (per-page price * quantity)", req.AmountCents)
	}
	if !req.PaymentDeadline.Equal(t0.Add(48 * time.Hour)) {
		t.Errorf("deadline = %v, want %v", req.PaymentDeadline, t0.Add(48*time.Hour))
	}
	if len(req.Number) != 17 || req.Number[:4] != "REQ-" {
		t.Errorf("unexpected request number format: %s", req.Number)
	}

	if len(repo.notifications) != 1 || repo.notifications[0].Event != EventRequestCreated {
		t.Errorf("expected one request_created notification, got %+v", repo.notifications)
	}
}

func TestCreateRequest_UnknownDocumentType(t *testing.T) {
	svc := newTestService(newMemRepo(), 5)

	_, err := svc.CreateRequest(context.Background(), 7, "nonexistent", 1, "purpose")
	if !errors.Is(err, model.ErrUnknownDocumentType) {
		t.Fatalf("expected ErrUnknownDocumentType, got %v", err)
	}
}

func TestCreateRequest_DailyLimit(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, 2)

	t0 := time.Date(2025, 10, 8, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return t0 }

	for i := 0; i < 2; i++ {
		if _, err := svc.CreateRequest(context.Background(), 7, "good_moral", 1, "scholarship"); err != nil {
			t.Fatalf("create %d error: %v", i+1, err)
		}
	}

	_, err := svc.CreateRequest(context.Background(), 7, "good_moral", 1, "scholarship")
	if !errors.Is(err, ErrDailyLimitExceeded) {
		t.Fatalf("expected ErrDailyLimitExceeded, got %v", err)
	}

	count, err := repo.CountRequestsForDay(context.Background(), 7, t0)
	if err != nil {
		t.Fatalf("count error: %v", err)
	}
	if count != 2 {
		t.Fatalf("requests for the day = %d, want 2", count)
	}
}

func TestCreateRequest_CancelledNotCounted(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, 1)

	t0 := time.Date(2025, 10, 8, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return t0 }

	req, err := svc.CreateRequest(context.Background(), 7, "good_moral", 1, "scholarship")
	if err != nil {
		t.Fatalf("create error: %v", err)
	}

	if _, err := svc.Cancel(context.Background(), req.Number, 7, nil); err != nil {
		t.Fatalf("cancel error: %v", err)
	}

	if _, err := svc.CreateRequest(context.Background(), 7, "good_moral", 1, "scholarship"); err != nil {
		t.Fatalf("create after cancel error: %v", err)
	}
}

func TestGenerateCashPayment(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, 5)

	req, err := svc.CreateRequest(context.Background(), 7, "diploma_copy", 1, "visa application")
	if err != nil {
		t.Fatalf("create error: %v", err)
	}

	p, err := svc.GenerateCashPayment(context.Background(), req.Number, 7)
	if err != nil {
		t.Fatalf("GenerateCashPayment error: %v", err)
	}

	if p.Status != model.PaymentStatusPending {
		t.Errorf("payment status = %s, want pending", p.Status)
	}
	if p.AmountCents != req.AmountCents {
		t.Errorf("payment amount = %d, want %d", p.AmountCents, req.AmountCents)
	}
	if p.Method != model.PaymentMethodCash {
		t.Errorf("payment method = %s, want cash", p.Method)
	}
	if len(p.Reference) < 5 || p.Reference[:4] != "PAY-" {
		t.Errorf("unexpected payment reference: %s", p.Reference)
	}
}

func TestGenerateCashPayment_NotOwner(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, 5)

	req, err := svc.CreateRequest(context.Background(), 7, "diploma_copy", 1, "visa application")
	if err != nil {
		t.Fatalf("create error: %v", err)
	}

	_, err = svc.GenerateCashPayment(context.Background(), req.Number, 8)
	if !errors.Is(err, ErrNotRequestOwner) {
		t.Fatalf("expected ErrNotRequestOwner, got %v", err)
	}
}

func TestGenerateCashPayment_WrongStatus(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, 5)

	req, err := svc.CreateRequest(context.Background(), 7, "diploma_copy", 1, "visa application")
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	repo.requests[req.Number].Status = status.StatusCancelled

	_, err = svc.GenerateCashPayment(context.Background(), req.Number, 7)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestConfirmCashPayment(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, 5)

	req, err := svc.CreateRequest(context.Background(), 7, "enrollment_cert", 1, "bank requirement")
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	p, err := svc.GenerateCashPayment(context.Background(), req.Number, 7)
	if err != nil {
		t.Fatalf("generate payment error: %v", err)
	}

	confirmed, err := svc.ConfirmCashPayment(context.Background(), p.Reference, 100, "OR-000123")
	if err != nil {
		t.Fatalf("ConfirmCashPayment error: %v", err)
	}

	if confirmed.Status != model.PaymentStatusPaid {
		t.Errorf("payment status = %s, want paid", confirmed.Status)
	}
	if confirmed.PaidAt == nil {
		t.Errorf("paid_at is not set")
	}
	if confirmed.ReceiptNumber == nil || *confirmed.ReceiptNumber != "OR-000123" {
		t.Errorf("receipt number not assigned: %+v", confirmed.ReceiptNumber)
	}
	if confirmed.CashierID == nil || *confirmed.CashierID != 100 {
		t.Errorf("cashier not recorded: %+v", confirmed.CashierID)
	}

	// Заявка и платёж обновляются как единое целое.
	got, err := svc.GetRequest(context.Background(), req.Number)
	if err != nil {
		t.Fatalf("get request error: %v", err)
	}
	if got.Status != status.StatusPaid {
		t.Errorf("request status = %s, want paid", got.Status)
	}

	found := false
	for _, n := range repo.notifications {
		if n.Event == EventPaymentConfirmed {
			found = true
		}
	}
	if !found {
		t.Errorf("payment_confirmed notification not recorded")
	}
}

func TestConfirmCashPayment_DuplicateReceipt(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, 5)

	makePaid := func(requester int64) (*model.DocumentRequest, *model.Payment) {
		req, err := svc.CreateRequest(context.Background(), requester, "good_moral", 1, "transfer")
		if err != nil {
			t.Fatalf("create error: %v", err)
		}
		p, err := svc.GenerateCashPayment(context.Background(), req.Number, requester)
		if err != nil {
			t.Fatalf("generate payment error: %v", err)
		}
		return req, p
	}

	req1, p1 := makePaid(7)
	req2, p2 := makePaid(8)

	if _, err := svc.ConfirmCashPayment(context.Background(), p1.Reference, 100, "OR-000777"); err != nil {
		t.Fatalf("first confirm error: %v", err)
	}

	_, err := svc.ConfirmCashPayment(context.Background(), p2.Reference, 100, "OR-000777")
	if !errors.Is(err, repository.ErrDuplicateReceipt) {
		t.Fatalf("expected ErrDuplicateReceipt, got %v", err)
	}

	// Первый платёж остаётся оплаченным, второй — ожидающим.
	if repo.payments[p1.Reference].Status != model.PaymentStatusPaid {
		t.Errorf("first payment status = %s, want paid", repo.payments[p1.Reference].Status)
	}
	if repo.payments[p2.Reference].Status != model.PaymentStatusPending {
		t.Errorf("second payment status = %s, want pending", repo.payments[p2.Reference].Status)
	}
	if repo.requests[req1.Number].Status != status.StatusPaid {
		t.Errorf("first request status = %s, want paid", repo.requests[req1.Number].Status)
	}
	if repo.requests[req2.Number].Status != status.StatusPendingPayment {
		t.Errorf("second request status = %s, want pending_payment", repo.requests[req2.Number].Status)
	}
}

func TestConfirmCashPayment_RetriesOnConflict(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, 5)

	req, err := svc.CreateRequest(context.Background(), 7, "good_moral", 1, "transfer")
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	p, err := svc.GenerateCashPayment(context.Background(), req.Number, 7)
	if err != nil {
		t.Fatalf("generate payment error: %v", err)
	}

	repo.failConfirmOnce = true

	confirmed, err := svc.ConfirmCashPayment(context.Background(), p.Reference, 100, "OR-000001")
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if confirmed.Status != model.PaymentStatusPaid {
		t.Errorf("payment status = %s, want paid", confirmed.Status)
	}
}

func TestAdvance_ProcessingScenario(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, 5)

	req, err := svc.CreateRequest(context.Background(), 7, "transcript", 1, "graduate school")
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	repo.requests[req.Number].Status = status.StatusProcessing

	// Прямой переход processing -> claimed запрещён.
	_, err = svc.Advance(context.Background(), req.Number, status.StatusClaimed, 55, nil)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition for processing -> claimed, got %v", err)
	}

	if _, err := svc.Advance(context.Background(), req.Number, status.StatusReadyForClaim, 55, nil); err != nil {
		t.Fatalf("advance to ready_for_claim error: %v", err)
	}

	got, err := svc.ConfirmClaim(context.Background(), req.Number, 55)
	if err != nil {
		t.Fatalf("confirm claim error: %v", err)
	}
	if got.Status != status.StatusClaimed {
		t.Errorf("status = %s, want claimed", got.Status)
	}
	if got.ClaimedAt == nil {
		t.Errorf("claimed_at is not set")
	}
}

func TestAdvance_UnknownStatus(t *testing.T) {
	svc := newTestService(newMemRepo(), 5)

	_, err := svc.Advance(context.Background(), "REQ-20251008-0001", "delivered", 55, nil)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition for unknown status, got %v", err)
	}
}

func TestReject(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, 5)

	req, err := svc.CreateRequest(context.Background(), 7, "transcript", 1, "graduate school")
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	repo.requests[req.Number].Status = status.StatusProcessing

	if _, err := svc.Reject(context.Background(), req.Number, 55, ""); err == nil {
		t.Fatalf("expected error for empty rejection reason")
	}

	got, err := svc.Reject(context.Background(), req.Number, 55, "unsettled accountability")
	if err != nil {
		t.Fatalf("reject error: %v", err)
	}
	if got.Status != status.StatusRejected {
		t.Errorf("status = %s, want rejected", got.Status)
	}
	if got.RejectionReason == nil || *got.RejectionReason != "unsettled accountability" {
		t.Errorf("rejection reason not recorded: %+v", got.RejectionReason)
	}

	found := false
	for _, n := range repo.notifications {
		if n.Event == EventRejected {
			found = true
		}
	}
	if !found {
		t.Errorf("rejected notification not recorded")
	}
}

func TestRelease(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, 5)

	req, err := svc.CreateRequest(context.Background(), 7, "transcript", 1, "graduate school")
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	repo.requests[req.Number].Status = status.StatusClaimed

	got, err := svc.Release(context.Background(), req.Number, 60, "Maria Santos", "passport", "P1234567")
	if err != nil {
		t.Fatalf("release error: %v", err)
	}
	if got.Status != status.StatusReleased {
		t.Errorf("status = %s, want released", got.Status)
	}
	if got.ReleasedTo == nil || *got.ReleasedTo != "Maria Santos" {
		t.Errorf("release recipient not recorded: %+v", got.ReleasedTo)
	}
	if got.ReleaseIDType == nil || *got.ReleaseIDType != "passport" {
		t.Errorf("release id type not recorded: %+v", got.ReleaseIDType)
	}

	// Терминальный статус: повторная выдача запрещена.
	if _, err := svc.Release(context.Background(), req.Number, 60, "Maria Santos", "passport", "P1234567"); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition for released -> released, got %v", err)
	}
}

func TestRelease_RequiresRecipientDetails(t *testing.T) {
	svc := newTestService(newMemRepo(), 5)

	if _, err := svc.Release(context.Background(), "REQ-20251008-0001", 60, "", "passport", "P1"); err == nil {
		t.Fatalf("expected error for empty recipient")
	}
}

func TestCancel_FromTerminalStatus(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, 5)

	req, err := svc.CreateRequest(context.Background(), 7, "transcript", 1, "graduate school")
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	repo.requests[req.Number].Status = status.StatusRejected

	_, err = svc.Cancel(context.Background(), req.Number, 7, nil)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestCancel_FailsPendingPayments(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, 5)

	req, err := svc.CreateRequest(context.Background(), 7, "transcript", 1, "graduate school")
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	p, err := svc.GenerateCashPayment(context.Background(), req.Number, 7)
	if err != nil {
		t.Fatalf("generate payment error: %v", err)
	}

	if _, err := svc.Cancel(context.Background(), req.Number, 7, nil); err != nil {
		t.Fatalf("cancel error: %v", err)
	}

	if repo.payments[p.Reference].Status != model.PaymentStatusFailed {
		t.Errorf("payment status = %s, want failed", repo.payments[p.Reference].Status)
	}
}

func TestRunExpirySweep(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, 5)

	t0 := time.Date(2025, 10, 8, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return t0 }

	req, err := svc.CreateRequest(context.Background(), 7, "transcript", 1, "graduate school")
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	p, err := svc.GenerateCashPayment(context.Background(), req.Number, 7)
	if err != nil {
		t.Fatalf("generate payment error: %v", err)
	}

	// Через 47 часов срок ещё не истёк.
	svc.now = func() time.Time { return t0.Add(47 * time.Hour) }
	count, err := svc.RunExpirySweep(context.Background())
	if err != nil {
		t.Fatalf("sweep error: %v", err)
	}
	if count != 0 {
		t.Fatalf("sweep at +47h expired %d requests, want 0", count)
	}

	// Через 49 часов заявка просрочена.
	svc.now = func() time.Time { return t0.Add(49 * time.Hour) }
	count, err = svc.RunExpirySweep(context.Background())
	if err != nil {
		t.Fatalf("sweep error: %v", err)
	}
	if count != 1 {
		t.Fatalf("sweep at +49h expired %d requests, want 1", count)
	}

	if repo.requests[req.Number].Status != status.StatusPaymentExpired {
		t.Errorf("request status = %s, want payment_expired", repo.requests[req.Number].Status)
	}
	if repo.payments[p.Reference].Status != model.PaymentStatusExpired {
		t.Errorf("payment status = %s, want expired", repo.payments[p.Reference].Status)
	}

	// Повторный запуск идемпотентен.
	svc.now = func() time.Time { return t0.Add(50 * time.Hour) }
	count, err = svc.RunExpirySweep(context.Background())
	if err != nil {
		t.Fatalf("sweep error: %v", err)
	}
	if count != 0 {
		t.Fatalf("second sweep expired %d requests, want 0", count)
	}
}

func TestCreateRequest_NotificationFailureDoesNotFail(t *testing.T) {
	repo := newMemRepo()
	repo.failNotifications = true
	svc := newTestService(repo, 5)

	if _, err := svc.CreateRequest(context.Background(), 7, "good_moral", 1, "transfer"); err != nil {
		t.Fatalf("CreateRequest must not fail on notification error, got %v", err)
	}
}

// stubNotifier фиксирует отправленные события и позволяет имитировать отказ шлюза.
type stubNotifier struct {
	sent    []notification.Event
	sendErr error
}

func (n *stubNotifier) Send(ctx context.Context, ev notification.Event) (int, time.Duration, error) {
	if n.sendErr != nil {
		return 0, 0, n.sendErr
	}
	n.sent = append(n.sent, ev)
	return 200, 0, nil
}

func TestProcessNotificationBatch(t *testing.T) {
	repo := newMemRepo()
	notifier := &stubNotifier{}
	svc := NewService(repo, notifier, nil, Settings{DailyRequestLimit: 5, PaymentTTL: 48 * time.Hour, SweepInterval: time.Hour})

	if _, err := svc.CreateRequest(context.Background(), 7, "good_moral", 1, "transfer"); err != nil {
		t.Fatalf("create error: %v", err)
	}

	svc.processNotificationBatch(context.Background())

	if len(notifier.sent) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(notifier.sent))
	}
	if repo.notifications[0].Status != model.NotificationStatusSent {
		t.Errorf("notification status = %s, want sent", repo.notifications[0].Status)
	}
}

func TestProcessNotificationBatch_RecordsFailure(t *testing.T) {
	repo := newMemRepo()
	notifier := &stubNotifier{sendErr: fmt.Errorf("gateway unavailable")}
	svc := NewService(repo, notifier, nil, Settings{DailyRequestLimit: 5, PaymentTTL: 48 * time.Hour, SweepInterval: time.Hour})

	if _, err := svc.CreateRequest(context.Background(), 7, "good_moral", 1, "transfer"); err != nil {
		t.Fatalf("create error: %v", err)
	}

	svc.processNotificationBatch(context.Background())

	n := repo.notifications[0]
	if n.Status != model.NotificationStatusFailed {
		t.Errorf("notification status = %s, want failed", n.Status)
	}
	if n.LastError == nil || *n.LastError != "gateway unavailable" {
		t.Errorf("last error not recorded: %+v", n.LastError)
	}
}

func TestStartNotificationDispatch_NoClient(t *testing.T) {
	svc := newTestService(newMemRepo(), 5)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})

	go func() {
		svc.StartNotificationDispatch(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("StartNotificationDispatch did not return without client")
	}
}
