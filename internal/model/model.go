// Package model содержит доменные сущности портала заявок на документы.
package model

import (
	"time"

	"github.com/nkarpova/docrequest-system/internal/status"
)

// Role описывает роль пользователя портала.
type Role string

const (
	RoleStudent   Role = "student"
	RoleCashier   Role = "cashier"
	RoleStaff     Role = "staff"
	RoleRegistrar Role = "registrar"
)

// User представляет зарегистрированного пользователя портала.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Role         Role
	CreatedAt    time.Time
}

// DocumentRequest описывает заявку на выдачу документа.
type DocumentRequest struct {
	Number          string
	RequesterID     int64
	DocumentType    string
	Quantity        int
	Purpose         string
	AmountCents     int64
	PaymentMethod   *string
	Status          status.Status
	PaymentDeadline time.Time
	ProcessedBy     *int64
	RejectionReason *string
	ReleasedBy      *int64
	ReleasedTo      *string
	ReleaseIDType   *string
	ReleaseIDNumber *string
	ClaimedAt       *time.Time
	CreatedAt       time.Time
}

// PaymentStatus описывает статус платежа.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
	PaymentStatusExpired PaymentStatus = "expired"
)

// PaymentMethodCash — единственный реально используемый способ оплаты.
const PaymentMethodCash = "cash"

// Payment описывает попытку оплаты одной заявки.
type Payment struct {
	ID            int64
	RequestNumber string
	Method        string
	Reference     string
	CashierID     *int64
	ReceiptNumber *string
	AmountCents   int64
	Status        PaymentStatus
	PaidAt        *time.Time
	CreatedAt     time.Time
}

// NotificationStatus описывает состояние доставки уведомления.
type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
)

// Notification описывает запись исходящего уведомления (SMS/email через внешний шлюз).
type Notification struct {
	ID            int64
	RequestNumber string
	Event         string
	RecipientID   int64
	Status        NotificationStatus
	LastError     *string
	CreatedAt     time.Time
}
