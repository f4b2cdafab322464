// Package handler содержит HTTP-обработчики API портала заявок на документы.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nkarpova/docrequest-system/internal/middleware"
	"github.com/nkarpova/docrequest-system/internal/model"
	"github.com/nkarpova/docrequest-system/internal/repository"
	"github.com/nkarpova/docrequest-system/internal/service"
	"github.com/nkarpova/docrequest-system/internal/status"
	"github.com/nkarpova/docrequest-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (*model.User, error)
	CreateRequest(ctx context.Context, requesterID int64, documentType string, quantity int, purpose string) (*model.DocumentRequest, error)
	GetRequest(ctx context.Context, number string) (*model.DocumentRequest, error)
	ListRequestsByRequester(ctx context.Context, requesterID int64) ([]model.DocumentRequest, error)
	ListActiveRequests(ctx context.Context) ([]model.DocumentRequest, error)
	ListPaymentsByRequest(ctx context.Context, number string) ([]model.Payment, error)
	GenerateCashPayment(ctx context.Context, number string, requesterID int64) (*model.Payment, error)
	ConfirmCashPayment(ctx context.Context, reference string, cashierID int64, receiptNumber string) (*model.Payment, error)
	Advance(ctx context.Context, number string, to status.Status, actorID int64, reason *string) (*model.DocumentRequest, error)
	MarkReadyForClaim(ctx context.Context, number string, actorID int64) (*model.DocumentRequest, error)
	ConfirmClaim(ctx context.Context, number string, actorID int64) (*model.DocumentRequest, error)
	Release(ctx context.Context, number string, actorID int64, releasedTo, idType, idNumber string) (*model.DocumentRequest, error)
	Reject(ctx context.Context, number string, actorID int64, reason string) (*model.DocumentRequest, error)
	Cancel(ctx context.Context, number string, actorID int64, reason *string) (*model.DocumentRequest, error)
}

// Handler реализует HTTP-обработчики API портала заявок на документы.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID, model.RoleStudent)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, u.ID, u.Role)
	w.WriteHeader(http.StatusOK)
}

// identityWith возвращает личность из контекста, требуя указанное право.
func (h *Handler) identityWith(w http.ResponseWriter, r *http.Request, c middleware.Capability) (middleware.Identity, bool) {
	identity, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return middleware.Identity{}, false
	}
	if !identity.Can(c) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return middleware.Identity{}, false
	}
	return identity, true
}

// writeWorkflowError транслирует типизированные ошибки бизнес-логики в HTTP-статусы.
func (h *Handler) writeWorkflowError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, repository.ErrRequestNotFound),
		errors.Is(err, repository.ErrPaymentNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, service.ErrNotRequestOwner):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	case errors.Is(err, service.ErrDailyLimitExceeded):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case errors.Is(err, model.ErrUnknownDocumentType):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, service.ErrIllegalTransition),
		errors.Is(err, repository.ErrPaymentAlreadyConfirmed),
		errors.Is(err, repository.ErrDuplicateReceipt),
		errors.Is(err, repository.ErrDuplicateReference),
		errors.Is(err, repository.ErrDuplicateRequestNumber),
		errors.Is(err, repository.ErrConcurrentModification):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error(op, zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type createRequestRequest struct {
	DocumentType string `json:"document_type"`
	Quantity     int    `json:"quantity"`
	Purpose      string `json:"purpose"`
}

type requestResponse struct {
	Number          string  `json:"number"`
	DocumentType    string  `json:"document_type"`
	Quantity        int     `json:"quantity"`
	Purpose         string  `json:"purpose"`
	Amount          float64 `json:"amount"`
	Status          string  `json:"status"`
	PaymentDeadline string  `json:"payment_deadline"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
	ReleasedTo      *string `json:"released_to,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

func toRequestResponse(req *model.DocumentRequest) requestResponse {
	return requestResponse{
		Number:          req.Number,
		DocumentType:    req.DocumentType,
		Quantity:        req.Quantity,
		Purpose:         req.Purpose,
		Amount:          float64(req.AmountCents) / 100,
		Status:          string(req.Status),
		PaymentDeadline: req.PaymentDeadline.Format(time.RFC3339),
		RejectionReason: req.RejectionReason,
		ReleasedTo:      req.ReleasedTo,
		CreatedAt:       req.CreatedAt.Format(time.RFC3339),
	}
}

// CreateRequest создаёт новую заявку на документ от текущего пользователя.
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identityWith(w, r, middleware.CapabilitySubmitRequests)
	if !ok {
		return
	}

	var req createRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.DocumentType == "" || req.Quantity <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	created, err := h.service.CreateRequest(r.Context(), identity.UserID, req.DocumentType, req.Quantity, req.Purpose)
	if err != nil {
		h.writeWorkflowError(w, err, "create request error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(toRequestResponse(created)); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// GetRequests возвращает список заявок текущего пользователя.
func (h *Handler) GetRequests(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identityWith(w, r, middleware.CapabilitySubmitRequests)
	if !ok {
		return
	}

	requests, err := h.service.ListRequestsByRequester(r.Context(), identity.UserID)
	if err != nil {
		h.logger.Error("get requests error", zap.Error(err), zap.Int64("userID", identity.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(requests) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]requestResponse, 0, len(requests))
	for i := range requests {
		resp = append(resp, toRequestResponse(&requests[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// GetActiveRequests возвращает рабочую очередь персонала: заявки в нетерминальных статусах.
func (h *Handler) GetActiveRequests(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.identityWith(w, r, middleware.CapabilityProcessDocuments); !ok {
		return
	}

	requests, err := h.service.ListActiveRequests(r.Context())
	if err != nil {
		h.logger.Error("get active requests error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(requests) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]requestResponse, 0, len(requests))
	for i := range requests {
		resp = append(resp, toRequestResponse(&requests[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type paymentResponse struct {
	Reference     string  `json:"reference"`
	RequestNumber string  `json:"request_number"`
	Method        string  `json:"method"`
	Amount        float64 `json:"amount"`
	Status        string  `json:"status"`
	ReceiptNumber *string `json:"receipt_number,omitempty"`
	PaidAt        *string `json:"paid_at,omitempty"`
}

func toPaymentResponse(p *model.Payment) paymentResponse {
	resp := paymentResponse{
		Reference:     p.Reference,
		RequestNumber: p.RequestNumber,
		Method:        p.Method,
		Amount:        float64(p.AmountCents) / 100,
		Status:        string(p.Status),
		ReceiptNumber: p.ReceiptNumber,
	}
	if p.PaidAt != nil {
		paidAt := p.PaidAt.Format(time.RFC3339)
		resp.PaidAt = &paidAt
	}
	return resp
}

// requestNumber извлекает и проверяет номер заявки из пути запроса.
func requestNumber(w http.ResponseWriter, r *http.Request) (string, bool) {
	number := chi.URLParam(r, "number")
	if !validation.IsValidRequestNumber(number) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return "", false
	}
	return number, true
}

// GeneratePayment открывает платёж наличными по заявке текущего пользователя.
func (h *Handler) GeneratePayment(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identityWith(w, r, middleware.CapabilitySubmitRequests)
	if !ok {
		return
	}

	number, ok := requestNumber(w, r)
	if !ok {
		return
	}

	p, err := h.service.GenerateCashPayment(r.Context(), number, identity.UserID)
	if err != nil {
		h.writeWorkflowError(w, err, "generate payment error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(toPaymentResponse(p)); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

type confirmPaymentRequest struct {
	ReceiptNumber string `json:"receipt_number"`
}

// ConfirmPayment подтверждает наличный платёж кассиром по платёжной ссылке.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identityWith(w, r, middleware.CapabilityConfirmCashPayments)
	if !ok {
		return
	}

	reference := chi.URLParam(r, "reference")
	if !validation.IsValidPaymentReference(reference) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	var req confirmPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.ReceiptNumber == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.service.ConfirmCashPayment(r.Context(), reference, identity.UserID, req.ReceiptNumber)
	if err != nil {
		h.writeWorkflowError(w, err, "confirm payment error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toPaymentResponse(p)); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

type advanceRequest struct {
	Status string  `json:"status"`
	Reason *string `json:"reason,omitempty"`
}

// Advance переводит заявку в указанный статус (операция персонала).
func (h *Handler) Advance(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identityWith(w, r, middleware.CapabilityProcessDocuments)
	if !ok {
		return
	}

	number, ok := requestNumber(w, r)
	if !ok {
		return
	}

	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.Status == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	updated, err := h.service.Advance(r.Context(), number, status.Status(req.Status), identity.UserID, req.Reason)
	if err != nil {
		h.writeWorkflowError(w, err, "advance request error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toRequestResponse(updated)); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// MarkReadyForClaim помечает заявку готовой к выдаче.
func (h *Handler) MarkReadyForClaim(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identityWith(w, r, middleware.CapabilityProcessDocuments)
	if !ok {
		return
	}

	number, ok := requestNumber(w, r)
	if !ok {
		return
	}

	updated, err := h.service.MarkReadyForClaim(r.Context(), number, identity.UserID)
	if err != nil {
		h.writeWorkflowError(w, err, "mark ready error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toRequestResponse(updated)); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// ConfirmClaim фиксирует явку получателя за документом.
func (h *Handler) ConfirmClaim(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identityWith(w, r, middleware.CapabilityProcessDocuments)
	if !ok {
		return
	}

	number, ok := requestNumber(w, r)
	if !ok {
		return
	}

	updated, err := h.service.ConfirmClaim(r.Context(), number, identity.UserID)
	if err != nil {
		h.writeWorkflowError(w, err, "confirm claim error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toRequestResponse(updated)); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

type releaseRequest struct {
	ReleasedTo string `json:"released_to"`
	IDType     string `json:"id_type"`
	IDNumber   string `json:"id_number"`
}

// Release выдаёт документ получателю.
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identityWith(w, r, middleware.CapabilityReleaseDocuments)
	if !ok {
		return
	}

	number, ok := requestNumber(w, r)
	if !ok {
		return
	}

	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.ReleasedTo == "" || req.IDType == "" || req.IDNumber == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	updated, err := h.service.Release(r.Context(), number, identity.UserID, req.ReleasedTo, req.IDType, req.IDNumber)
	if err != nil {
		h.writeWorkflowError(w, err, "release request error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toRequestResponse(updated)); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// Reject отклоняет заявку с указанием причины.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identityWith(w, r, middleware.CapabilityProcessDocuments)
	if !ok {
		return
	}

	number, ok := requestNumber(w, r)
	if !ok {
		return
	}

	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	updated, err := h.service.Reject(r.Context(), number, identity.UserID, req.Reason)
	if err != nil {
		h.writeWorkflowError(w, err, "reject request error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toRequestResponse(updated)); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// Cancel отменяет заявку. Студент может отменить только свою заявку, персонал — любую.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	number, ok := requestNumber(w, r)
	if !ok {
		return
	}

	if !identity.Can(middleware.CapabilityProcessDocuments) {
		if !identity.Can(middleware.CapabilitySubmitRequests) {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		req, err := h.service.GetRequest(r.Context(), number)
		if err != nil {
			h.writeWorkflowError(w, err, "cancel request error")
			return
		}
		if req.RequesterID != identity.UserID {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
	}

	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var reason *string
	if req.Reason != "" {
		reason = &req.Reason
	}

	updated, err := h.service.Cancel(r.Context(), number, identity.UserID, reason)
	if err != nil {
		h.writeWorkflowError(w, err, "cancel request error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toRequestResponse(updated)); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// GetRequestPayments возвращает платежи заявки текущего пользователя.
func (h *Handler) GetRequestPayments(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identityWith(w, r, middleware.CapabilitySubmitRequests)
	if !ok {
		return
	}

	number, ok := requestNumber(w, r)
	if !ok {
		return
	}

	req, err := h.service.GetRequest(r.Context(), number)
	if err != nil {
		h.writeWorkflowError(w, err, "get request payments error")
		return
	}
	if req.RequesterID != identity.UserID {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	payments, err := h.service.ListPaymentsByRequest(r.Context(), number)
	if err != nil {
		h.logger.Error("get request payments error", zap.Error(err), zap.String("request", number))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(payments) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]paymentResponse, 0, len(payments))
	for i := range payments {
		resp = append(resp, toPaymentResponse(&payments[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}
