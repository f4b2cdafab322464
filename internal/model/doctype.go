package model

import "errors"

// ErrUnknownDocumentType возвращается при запросе неизвестного типа документа.
var ErrUnknownDocumentType = errors.New("unknown document type")

// DocumentType описывает позицию прейскуранта: фиксированная цена или цена за страницу.
type DocumentType struct {
	Code       string
	Name       string
	PriceCents int64
	PerPage    bool
}

// documentTypes — прейскурант типов документов.
var documentTypes = map[string]DocumentType{
	"transcript": {
		Code:       "transcript",
		Name:       "Transcript of Records",
		PriceCents: 5000,
		PerPage:    true,
	},
	"diploma_copy": {
		Code:       "diploma_copy",
		Name:       "Certified Diploma Copy",
		PriceCents: 20000,
		PerPage:    false,
	},
	"enrollment_cert": {
		Code:       "enrollment_cert",
		Name:       "Certificate of Enrollment",
		PriceCents: 7500,
		PerPage:    false,
	},
	"grades_cert": {
		Code:       "grades_cert",
		Name:       "Certification of Grades",
		PriceCents: 5000,
		PerPage:    true,
	},
	"good_moral": {
		Code:       "good_moral",
		Name:       "Good Moral Certificate",
		PriceCents: 5000,
		PerPage:    false,
	},
	"honorable_dismissal": {
		Code:       "honorable_dismissal",
		Name:       "Honorable Dismissal",
		PriceCents: 15000,
		PerPage:    false,
	},
}

// GetDocumentType возвращает позицию прейскуранта по коду.
func GetDocumentType(code string) (DocumentType, error) {
	dt, ok := documentTypes[code]
	if !ok {
		return DocumentType{}, ErrUnknownDocumentType
	}
	return dt, nil
}

// AmountFor вычисляет стоимость заявки: для постраничных документов цена умножается
// на количество, для остальных количество не влияет на сумму.
func AmountFor(code string, quantity int) (int64, error) {
	dt, err := GetDocumentType(code)
	if err != nil {
		return 0, err
	}
	if dt.PerPage {
		return dt.PriceCents * int64(quantity), nil
	}
	return dt.PriceCents, nil
}
