package domain

import "context"

// RecordPaymentRequest applies one payment to one invoice.
type RecordPaymentRequest struct {
	StudentID string        `json:"studentId"`
	InvoiceID string        `json:"invoiceId"`
	Amount    int64         `json:"amount"` // cents
	Method    PaymentMethod `json:"method"`
	Reference string        `json:"reference,omitempty"`
}

// PaymentResult returns the three entities the payment transaction
// touched, in their post-transaction state.
type PaymentResult struct {
	Payment Payment        `json:"payment"`
	Invoice Invoice        `json:"invoice"`
	Account BillingAccount `json:"account"`
}

// OverdueSweepReport summarizes one overdue scan of a school year.
type OverdueSweepReport struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// Service covers the payment path and invoice reads. RecordPayment is a
// 3-item atomic transaction; a conflict means a concurrent writer moved
// the invoice or account, and the caller must re-fetch and retry from
// scratch.
type Service interface {
	RecordPayment(ctx context.Context, req RecordPaymentRequest) (*PaymentResult, error)
	GetInvoice(ctx context.Context, studentID, invoiceID string) (*Invoice, error)
	ListInvoicesByStudent(ctx context.Context, studentID string) ([]Invoice, error)
	ListPaymentsByInvoice(ctx context.Context, studentID, invoiceID string) ([]Payment, error)
	GetBillingAccount(ctx context.Context, studentID, schoolID, academicYear string) (*BillingAccount, error)

	// GetOverdueInvoices lists sent invoices whose due date has passed.
	GetOverdueInvoices(ctx context.Context, schoolID, academicYear string) ([]Invoice, error)
	// SweepOverdue marks those invoices overdue one by one,
	// continue-on-error; the scheduler drives it daily.
	SweepOverdue(ctx context.Context, schoolID, academicYear string) (OverdueSweepReport, error)
}
