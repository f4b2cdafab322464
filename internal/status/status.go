// Package status описывает жизненный цикл заявки на документ и политику переходов между статусами.
package status

// Status описывает статус заявки на документ.
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusPaid           Status = "paid"
	StatusPaymentExpired Status = "payment_expired"
	StatusProcessing     Status = "processing"
	StatusReadyForClaim  Status = "ready_for_claim"
	StatusClaimed        Status = "claimed"
	StatusReleased       Status = "released"
	StatusCancelled      Status = "cancelled"
	StatusRejected       Status = "rejected"
)

// transitions задаёт полную таблицу допустимых переходов.
// Ключ — текущий статус, значение — множество статусов, в которые разрешён переход.
// Терминальные статусы (released, cancelled, rejected) не имеют исходящих переходов.
var transitions = map[Status]map[Status]bool{
	StatusPendingPayment: {
		StatusPaid:           true,
		StatusPaymentExpired: true,
		StatusCancelled:      true,
	},
	StatusPaymentExpired: {
		StatusCancelled: true,
	},
	StatusPaid: {
		StatusProcessing: true,
		StatusCancelled:  true,
	},
	StatusProcessing: {
		StatusReadyForClaim: true,
		StatusRejected:      true,
		StatusCancelled:     true,
	},
	StatusReadyForClaim: {
		StatusClaimed:   true,
		StatusCancelled: true,
	},
	StatusClaimed: {
		StatusReleased:  true,
		StatusCancelled: true,
	},
	StatusReleased:  {},
	StatusCancelled: {},
	StatusRejected:  {},
}

// All перечисляет все статусы заявки.
var All = []Status{
	StatusPendingPayment,
	StatusPaid,
	StatusPaymentExpired,
	StatusProcessing,
	StatusReadyForClaim,
	StatusClaimed,
	StatusReleased,
	StatusCancelled,
	StatusRejected,
}

// IsValid сообщает, известен ли статус таблице переходов.
func IsValid(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition сообщает, разрешён ли переход из статуса from в статус to.
// Функция тотальна: для неизвестных статусов возвращает false.
func CanTransition(from, to Status) bool {
	next, ok := transitions[from]
	return ok && next[to]
}

// IsFinal сообщает, является ли статус терминальным.
func IsFinal(s Status) bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// IsActive сообщает, находится ли заявка в работе: статус известен и не терминален.
func IsActive(s Status) bool {
	return IsValid(s) && !IsFinal(s)
}

// ActiveStatuses возвращает список нетерминальных статусов для фильтрации.
func ActiveStatuses() []Status {
	res := make([]Status, 0, len(All))
	for _, s := range All {
		if IsActive(s) {
			res = append(res, s)
		}
	}
	return res
}
