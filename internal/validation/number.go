// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

// IsValidRequestNumber проверяет формат номера заявки: REQ-YYYYMMDD-NNNN.
func IsValidRequestNumber(number string) bool {
	// REQ- + 8 цифр даты + - + 4 цифры суффикса
	if len(number) != 17 {
		return false
	}
	if number[:4] != "REQ-" || number[12] != '-' {
		return false
	}

	for _, ch := range number[4:12] {
		if !unicode.IsDigit(ch) {
			return false
		}
	}
	for _, ch := range number[13:] {
		if !unicode.IsDigit(ch) {
			return false
		}
	}

	return true
}

// IsValidPaymentReference проверяет формат платёжной ссылки: PAY- и непустой хвост
// из цифр, латинских букв и дефисов.
func IsValidPaymentReference(reference string) bool {
	if len(reference) < 5 || reference[:4] != "PAY-" {
		return false
	}

	for _, ch := range reference[4:] {
		if !unicode.IsDigit(ch) && !unicode.IsLower(ch) && ch != '-' {
			return false
		}
	}

	return true
}
