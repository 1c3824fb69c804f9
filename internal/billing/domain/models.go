// Package domain contains the financial entities of the engine:
// invoices, the per-student billing account aggregate, and immutable
// payment records. All amounts are integer cents.
package domain

import (
	"time"

	storedomain "github.com/classbridge/schoolops/internal/store/domain"
)

const (
	InvoiceEntityType = "INVOICE"
	AccountEntityType = "BILLING_ACCOUNT"
	PaymentEntityType = "PAYMENT"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusSent          InvoiceStatus = "sent"
	InvoiceStatusPartiallyPaid InvoiceStatus = "partially_paid"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusOverdue       InvoiceStatus = "overdue"
)

// LineItemType discriminates invoice lines. Discount lines carry
// negative amounts.
type LineItemType string

const (
	LineItemTuition  LineItemType = "tuition"
	LineItemFee      LineItemType = "fee"
	LineItemDiscount LineItemType = "discount"
)

// LineItem is one signed line on an invoice.
type LineItem struct {
	Type        LineItemType `json:"type"`
	Description string       `json:"description"`
	Amount      int64        `json:"amount"` // cents, negative for discounts
}

// Invoice is generated atomically with its enrollment and never
// deleted. AmountDue == Total - AmountPaid holds after every mutation.
type Invoice struct {
	InvoiceID     string        `json:"invoiceId"`
	StudentID     string        `json:"studentId"`
	SchoolID      string        `json:"schoolId"`
	AcademicYear  string        `json:"academicYear"`
	EnrollmentID  string        `json:"enrollmentId"`
	Lines         []LineItem    `json:"lines"`
	Subtotal      int64         `json:"subtotal"`
	DiscountTotal int64         `json:"discountTotal"`
	Tax           int64         `json:"tax"`
	Total         int64         `json:"total"`
	Currency      string        `json:"currency"`
	Status        InvoiceStatus `json:"status"`
	AmountPaid    int64         `json:"amountPaid"`
	AmountDue     int64         `json:"amountDue"`
	IssuedAt      time.Time     `json:"issuedAt"`
	DueAt         time.Time     `json:"dueAt"`
}

// InvoiceKey addresses an invoice inside the student's partition.
func InvoiceKey(studentID, invoiceID string) storedomain.Key {
	return storedomain.Key{PK: "STUDENT#" + studentID, SK: "INVOICE#" + invoiceID}
}

// InvoiceScopePK is the secondary-index partition grouping a school
// year's invoices for the overdue scan.
func InvoiceScopePK(schoolID, academicYear string) string {
	return "SCHOOL#" + schoolID + "#YEAR#" + academicYear + "#INVOICE"
}

// InvoiceScopeSK orders a school year's invoices by status then due
// date; the invoice id suffix keeps entries unique.
func InvoiceScopeSK(status InvoiceStatus, dueAt time.Time, invoiceID string) string {
	return "STATUS#" + string(status) + "#DUE#" + dueAt.UTC().Format("2006-01-02") + "#" + invoiceID
}

// InvoiceIndexKeys derives the index attributes recomputed on every
// invoice write.
func InvoiceIndexKeys(inv Invoice) storedomain.IndexKeys {
	return storedomain.IndexKeys{
		GSI1PK: InvoiceScopePK(inv.SchoolID, inv.AcademicYear),
		GSI1SK: InvoiceScopeSK(inv.Status, inv.DueAt, inv.InvoiceID),
	}
}

// AccountStatus represents billing-account states.
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusClosed AccountStatus = "closed"
)

// PaymentPlan is optional installment metadata on an account.
type PaymentPlan struct {
	Type         string `json:"type"`
	Installments int    `json:"installments,omitempty"`
}

// BillingAccount is the running balance aggregate, one per (student,
// school, academic year). Created lazily on first enrollment;
// TotalOutstanding == TotalDue - TotalPaid after every mutation.
type BillingAccount struct {
	AccountID        string        `json:"accountId"`
	StudentID        string        `json:"studentId"`
	SchoolID         string        `json:"schoolId"`
	AcademicYear     string        `json:"academicYear"`
	Currency         string        `json:"currency"`
	TotalDue         int64         `json:"totalDue"`
	TotalPaid        int64         `json:"totalPaid"`
	TotalOutstanding int64         `json:"totalOutstanding"`
	Status           AccountStatus `json:"status"`
	PaymentPlan      *PaymentPlan  `json:"paymentPlan,omitempty"`
}

// AccountKey is deterministic so the lazy create is a conditional put.
func AccountKey(studentID, schoolID, academicYear string) storedomain.Key {
	return storedomain.Key{
		PK: "STUDENT#" + studentID,
		SK: "ACCOUNT#" + academicYear + "#SCHOOL#" + schoolID,
	}
}

// PaymentMethod is the channel a payment arrived through.
type PaymentMethod string

const (
	PaymentMethodCash     PaymentMethod = "cash"
	PaymentMethodCard     PaymentMethod = "card"
	PaymentMethodTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCheque   PaymentMethod = "cheque"
)

// Payment is an immutable, append-only record of one payment applied to
// one invoice.
type Payment struct {
	PaymentID  string        `json:"paymentId"`
	InvoiceID  string        `json:"invoiceId"`
	StudentID  string        `json:"studentId"`
	Amount     int64         `json:"amount"` // cents
	Method     PaymentMethod `json:"method"`
	Reference  string        `json:"reference,omitempty"`
	RecordedAt time.Time     `json:"recordedAt"`
}

// PaymentKey co-locates payments under the student, prefixed by invoice
// so ListPaymentsByInvoice is a sort-key prefix scan.
func PaymentKey(studentID, invoiceID, paymentID string) storedomain.Key {
	return storedomain.Key{
		PK: "STUDENT#" + studentID,
		SK: "PAYMENT#" + invoiceID + "#" + paymentID,
	}
}
