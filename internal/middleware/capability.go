package middleware

import "github.com/nkarpova/docrequest-system/internal/model"

// Capability описывает право на выполнение операции портала.
type Capability string

const (
	CapabilitySubmitRequests      Capability = "submit_requests"
	CapabilityConfirmCashPayments Capability = "confirm_cash_payments"
	CapabilityProcessDocuments    Capability = "process_documents"
	CapabilityReleaseDocuments    Capability = "release_documents"
)

// roleCapabilities задаёт права каждой роли портала.
var roleCapabilities = map[model.Role]map[Capability]bool{
	model.RoleStudent: {
		CapabilitySubmitRequests: true,
	},
	model.RoleCashier: {
		CapabilityConfirmCashPayments: true,
	},
	model.RoleStaff: {
		CapabilityProcessDocuments: true,
	},
	model.RoleRegistrar: {
		CapabilityProcessDocuments: true,
		CapabilityReleaseDocuments: true,
	},
}

// Can сообщает, разрешена ли пользователю операция с указанным правом.
func (i Identity) Can(c Capability) bool {
	caps, ok := roleCapabilities[i.Role]
	return ok && caps[c]
}
