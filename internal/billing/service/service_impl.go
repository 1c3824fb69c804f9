package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/classbridge/schoolops/internal/billing/domain"
	"github.com/classbridge/schoolops/internal/clock"
	obsmetrics "github.com/classbridge/schoolops/internal/observability/metrics"
	"github.com/classbridge/schoolops/internal/schoolerr"
	storedomain "github.com/classbridge/schoolops/internal/store/domain"
	studentdomain "github.com/classbridge/schoolops/internal/student/domain"
	"github.com/classbridge/schoolops/internal/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Store storedomain.EntityStore
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	store storedomain.EntityStore
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		store: p.Store,
		log:   p.Log.Named("billing.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

// RecordPayment submits the 3-item payment transaction: an append-only
// payment record plus version-guarded updates of the invoice and the
// billing account. Either all three land or none do.
func (s *Service) RecordPayment(ctx context.Context, req domain.RecordPaymentRequest) (*domain.PaymentResult, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, schoolerr.New(schoolerr.CodeTenantMissing, "no tenant in context")
	}
	if err := validatePayment(req); err != nil {
		return nil, err
	}
	actor := tenantctx.Actor(ctx)
	now := s.clock.Now()

	invoiceKey := domain.InvoiceKey(req.StudentID, req.InvoiceID)
	invoiceRec, err := s.store.Get(ctx, tenantID, invoiceKey)
	if err != nil {
		return nil, err
	}
	if invoiceRec == nil {
		return nil, schoolerr.New(schoolerr.CodeInvoiceNotFound, "invoice not found").
			WithEntity("student", req.StudentID).
			WithEntity("invoice", req.InvoiceID)
	}
	var invoice domain.Invoice
	if err := invoiceRec.Decode(&invoice); err != nil {
		return nil, err
	}

	if req.Amount > invoice.AmountDue {
		return nil, schoolerr.New(schoolerr.CodePaymentExceedsBalance,
			fmt.Sprintf("payment %d exceeds amount due %d", req.Amount, invoice.AmountDue)).
			WithEntity("invoice", req.InvoiceID)
	}

	accountKey := domain.AccountKey(invoice.StudentID, invoice.SchoolID, invoice.AcademicYear)
	accountRec, err := s.store.Get(ctx, tenantID, accountKey)
	if err != nil {
		return nil, err
	}
	if accountRec == nil {
		return nil, schoolerr.New(schoolerr.CodeAccountNotFound, "billing account not found").
			WithEntity("student", invoice.StudentID).
			WithEntity("school", invoice.SchoolID).
			WithEntity("academicYear", invoice.AcademicYear)
	}
	var account domain.BillingAccount
	if err := accountRec.Decode(&account); err != nil {
		return nil, err
	}

	updatedInvoice := invoice
	updatedInvoice.AmountPaid += req.Amount
	updatedInvoice.AmountDue = updatedInvoice.Total - updatedInvoice.AmountPaid
	updatedInvoice.Status = nextInvoiceStatus(updatedInvoice)

	updatedAccount := account
	updatedAccount.TotalPaid += req.Amount
	updatedAccount.TotalOutstanding = updatedAccount.TotalDue - updatedAccount.TotalPaid

	payment := domain.Payment{
		PaymentID:  s.genID.Generate().String(),
		InvoiceID:  invoice.InvoiceID,
		StudentID:  invoice.StudentID,
		Amount:     req.Amount,
		Method:     req.Method,
		Reference:  req.Reference,
		RecordedAt: now,
	}
	paymentRec, err := storedomain.NewRecord(tenantID,
		domain.PaymentKey(payment.StudentID, payment.InvoiceID, payment.PaymentID),
		domain.PaymentEntityType, payment, storedomain.IndexKeys{}, actor, now)
	if err != nil {
		return nil, err
	}

	idx := domain.InvoiceIndexKeys(updatedInvoice)
	ops := []storedomain.TransactOp{
		{Put: &storedomain.PutOp{Record: paymentRec}},
		{Update: &storedomain.UpdateOp{
			Key: invoiceKey,
			Patch: storedomain.NewPatch(actor).
				With("amountPaid", updatedInvoice.AmountPaid).
				With("amountDue", updatedInvoice.AmountDue).
				With("status", updatedInvoice.Status).
				WithGSI1(idx.GSI1PK, idx.GSI1SK),
			ExpectedVersion: invoiceRec.Version,
		}},
		{Update: &storedomain.UpdateOp{
			Key: accountKey,
			Patch: storedomain.NewPatch(actor).
				With("totalPaid", updatedAccount.TotalPaid).
				With("totalOutstanding", updatedAccount.TotalOutstanding),
			ExpectedVersion: accountRec.Version,
		}},
	}

	if err := s.store.TransactWrite(ctx, tenantID, ops); err != nil {
		if storedomain.IsConflict(err) {
			return nil, schoolerr.Wrap(schoolerr.CodeConcurrentModification,
				"invoice or account changed concurrently, re-fetch and retry", err).
				WithEntity("invoice", req.InvoiceID).
				WithEntity("student", req.StudentID)
		}
		return nil, err
	}

	s.log.Info("payment recorded",
		zap.String("tenant_id", tenantID),
		zap.String("invoice_id", invoice.InvoiceID),
		zap.String("payment_id", payment.PaymentID),
		zap.Int64("amount", req.Amount),
		zap.String("invoice_status", string(updatedInvoice.Status)),
	)
	return &domain.PaymentResult{
		Payment: payment,
		Invoice: updatedInvoice,
		Account: updatedAccount,
	}, nil
}

func nextInvoiceStatus(inv domain.Invoice) domain.InvoiceStatus {
	if inv.AmountDue == 0 {
		return domain.InvoiceStatusPaid
	}
	if inv.AmountPaid > 0 {
		return domain.InvoiceStatusPartiallyPaid
	}
	return inv.Status
}

func (s *Service) GetInvoice(ctx context.Context, studentID, invoiceID string) (*domain.Invoice, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, schoolerr.New(schoolerr.CodeTenantMissing, "no tenant in context")
	}
	rec, err := s.store.Get(ctx, tenantID, domain.InvoiceKey(studentID, invoiceID))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, schoolerr.New(schoolerr.CodeInvoiceNotFound, "invoice not found").
			WithEntity("student", studentID).
			WithEntity("invoice", invoiceID)
	}
	var inv domain.Invoice
	if err := rec.Decode(&inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Service) ListInvoicesByStudent(ctx context.Context, studentID string) ([]domain.Invoice, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, schoolerr.New(schoolerr.CodeTenantMissing, "no tenant in context")
	}
	recs, err := s.store.Query(ctx, tenantID, studentdomain.PartitionKey(studentID),
		storedomain.SortRange{Prefix: "INVOICE#"}, 0)
	if err != nil {
		return nil, err
	}
	return decodeInvoices(recs)
}

func (s *Service) ListPaymentsByInvoice(ctx context.Context, studentID, invoiceID string) ([]domain.Payment, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, schoolerr.New(schoolerr.CodeTenantMissing, "no tenant in context")
	}
	recs, err := s.store.Query(ctx, tenantID, studentdomain.PartitionKey(studentID),
		storedomain.SortRange{Prefix: "PAYMENT#" + invoiceID + "#"}, 0)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Payment, 0, len(recs))
	for i := range recs {
		var p domain.Payment
		if err := recs[i].Decode(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Service) GetBillingAccount(ctx context.Context, studentID, schoolID, academicYear string) (*domain.BillingAccount, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, schoolerr.New(schoolerr.CodeTenantMissing, "no tenant in context")
	}
	rec, err := s.store.Get(ctx, tenantID, domain.AccountKey(studentID, schoolID, academicYear))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, schoolerr.New(schoolerr.CodeAccountNotFound, "billing account not found").
			WithEntity("student", studentID).
			WithEntity("school", schoolID).
			WithEntity("academicYear", academicYear)
	}
	var account domain.BillingAccount
	if err := rec.Decode(&account); err != nil {
		return nil, err
	}
	return &account, nil
}

// overdueRange selects sent invoices due strictly before today.
func overdueRange(today string) storedomain.SortRange {
	prefix := "STATUS#" + string(domain.InvoiceStatusSent) + "#DUE#"
	return storedomain.SortRange{From: prefix, To: prefix + today}
}

func (s *Service) GetOverdueInvoices(ctx context.Context, schoolID, academicYear string) ([]domain.Invoice, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, schoolerr.New(schoolerr.CodeTenantMissing, "no tenant in context")
	}
	today := s.clock.Now().Format("2006-01-02")
	recs, err := s.store.QueryIndex(ctx, tenantID, storedomain.IndexGSI1,
		domain.InvoiceScopePK(schoolID, academicYear), overdueRange(today), 0)
	if err != nil {
		return nil, err
	}
	return decodeInvoices(recs)
}

// SweepOverdue marks matured invoices overdue, one version-guarded
// update per invoice. A failed item is logged and counted, the batch
// carries on. Idempotent: flipped invoices leave the sent filter, so a
// second pass over unchanged data updates nothing.
func (s *Service) SweepOverdue(ctx context.Context, schoolID, academicYear string) (domain.OverdueSweepReport, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return domain.OverdueSweepReport{}, schoolerr.New(schoolerr.CodeTenantMissing, "no tenant in context")
	}
	actor := tenantctx.Actor(ctx)
	today := s.clock.Now().Format("2006-01-02")

	recs, err := s.store.QueryIndex(ctx, tenantID, storedomain.IndexGSI1,
		domain.InvoiceScopePK(schoolID, academicYear), overdueRange(today), 0)
	if err != nil {
		return domain.OverdueSweepReport{}, err
	}

	report := domain.OverdueSweepReport{Scanned: len(recs)}
	for i := range recs {
		rec := &recs[i]
		var inv domain.Invoice
		if err := rec.Decode(&inv); err != nil {
			report.Failed++
			s.log.Warn("overdue sweep: undecodable invoice record",
				zap.String("tenant_id", tenantID),
				zap.String("key", rec.Key().String()),
				zap.Error(err),
			)
			continue
		}

		flipped := inv
		flipped.Status = domain.InvoiceStatusOverdue
		idx := domain.InvoiceIndexKeys(flipped)
		_, err := s.store.ConditionalUpdate(ctx, tenantID, rec.Key(),
			storedomain.NewPatch(actor).
				With("status", flipped.Status).
				WithGSI1(idx.GSI1PK, idx.GSI1SK),
			rec.Version)
		if err != nil {
			report.Failed++
			s.log.Warn("overdue sweep: invoice update failed",
				zap.String("tenant_id", tenantID),
				zap.String("invoice_id", inv.InvoiceID),
				zap.Error(err),
			)
			continue
		}
		report.Updated++
	}

	obsmetrics.Billing().ObserveOverdueSweep(schoolID, report)
	if report.Updated > 0 || report.Failed > 0 {
		s.log.Info("overdue sweep finished",
			zap.String("tenant_id", tenantID),
			zap.String("school_id", schoolID),
			zap.String("academic_year", academicYear),
			zap.Int("scanned", report.Scanned),
			zap.Int("updated", report.Updated),
			zap.Int("failed", report.Failed),
		)
	}
	return report, nil
}

func decodeInvoices(recs []storedomain.Record) ([]domain.Invoice, error) {
	out := make([]domain.Invoice, 0, len(recs))
	for i := range recs {
		var inv domain.Invoice
		if err := recs[i].Decode(&inv); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}

func validatePayment(req domain.RecordPaymentRequest) error {
	switch {
	case strings.TrimSpace(req.StudentID) == "":
		return schoolerr.New(schoolerr.CodeValidationFailed, "studentId is required")
	case strings.TrimSpace(req.InvoiceID) == "":
		return schoolerr.New(schoolerr.CodeValidationFailed, "invoiceId is required")
	case req.Amount <= 0:
		return schoolerr.New(schoolerr.CodeValidationFailed, "amount must be positive")
	case req.Method == "":
		return schoolerr.New(schoolerr.CodeValidationFailed, "method is required")
	}
	return nil
}
