package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/classbridge/schoolops/internal/billing/domain"
	"github.com/classbridge/schoolops/internal/clock"
	"github.com/classbridge/schoolops/internal/enrollment/domain"
	"github.com/classbridge/schoolops/internal/schoolerr"
	storedomain "github.com/classbridge/schoolops/internal/store/domain"
	"github.com/classbridge/schoolops/internal/store/occ"
	studentdomain "github.com/classbridge/schoolops/internal/student/domain"
	"github.com/classbridge/schoolops/internal/tenantctx"
	"github.com/classbridge/schoolops/internal/tuition"
	tuitiondomain "github.com/classbridge/schoolops/internal/tuition/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Store      storedomain.EntityStore
	OCC        *occ.Controller
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	TuitionSvc tuitiondomain.Service
}

type Service struct {
	store      storedomain.EntityStore
	occ        *occ.Controller
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	tuitionSvc tuitiondomain.Service
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		store:      p.Store,
		occ:        p.OCC,
		log:        p.Log.Named("enrollment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		tuitionSvc: p.TuitionSvc,
	}
}

// Enroll creates the enrollment, the student's currentEnrollment
// pointer, the invoice and the billing-account delta as one atomic
// 4-operation transaction. A conflict is surfaced, never auto-retried:
// the duplicate check and the invoice computation would both be stale.
func (s *Service) Enroll(ctx context.Context, req domain.EnrollRequest) (*domain.EnrollResult, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, schoolerr.New(schoolerr.CodeTenantMissing, "no tenant in context")
	}
	if err := validateEnroll(req); err != nil {
		return nil, err
	}
	actor := tenantctx.Actor(ctx)
	now := s.clock.Now()

	studentRec, err := s.store.Get(ctx, tenantID, studentdomain.Key(req.StudentID))
	if err != nil {
		return nil, err
	}
	if studentRec == nil {
		return nil, schoolerr.New(schoolerr.CodeStudentNotFound, "student not found").
			WithEntity("student", req.StudentID)
	}

	if err := s.checkDuplicate(ctx, tenantID, req.StudentID, req.AcademicYear); err != nil {
		return nil, err
	}

	cfg, err := s.tuitionSvc.GetConfiguration(ctx, req.SchoolID, req.AcademicYear)
	if err != nil {
		return nil, err
	}

	calc, err := tuition.Calculate(req.Grade, *cfg)
	if err != nil {
		return nil, err
	}

	enrollment := domain.Enrollment{
		EnrollmentID: s.genID.Generate().String(),
		StudentID:    req.StudentID,
		SchoolID:     req.SchoolID,
		AcademicYear: req.AcademicYear,
		Grade:        req.Grade,
		Section:      req.Section,
		Status:       domain.StatusActive,
		StatusDate:   now,
	}

	invoice := billingdomain.Invoice{
		InvoiceID:     s.genID.Generate().String(),
		StudentID:     req.StudentID,
		SchoolID:      req.SchoolID,
		AcademicYear:  req.AcademicYear,
		EnrollmentID:  enrollment.EnrollmentID,
		Lines:         calc.Lines,
		Subtotal:      calc.Subtotal,
		DiscountTotal: calc.DiscountTotal,
		Tax:           calc.Tax,
		Total:         calc.Total,
		Currency:      calc.Currency,
		Status:        billingdomain.InvoiceStatusSent,
		AmountPaid:    0,
		AmountDue:     calc.Total,
		IssuedAt:      now,
		DueAt:         now.AddDate(0, 0, cfg.Terms()),
	}

	enrollmentRec, err := storedomain.NewRecord(tenantID,
		domain.Key(req.StudentID, req.AcademicYear, req.SchoolID),
		domain.EntityType, enrollment, domain.IndexKeys(enrollment), actor, now)
	if err != nil {
		return nil, err
	}
	invoiceRec, err := storedomain.NewRecord(tenantID,
		billingdomain.InvoiceKey(req.StudentID, invoice.InvoiceID),
		billingdomain.InvoiceEntityType, invoice, billingdomain.InvoiceIndexKeys(invoice), actor, now)
	if err != nil {
		return nil, err
	}

	pointer := studentdomain.CurrentEnrollment{
		EnrollmentID: enrollment.EnrollmentID,
		SchoolID:     enrollment.SchoolID,
		AcademicYear: enrollment.AcademicYear,
		Grade:        enrollment.Grade,
		Status:       string(enrollment.Status),
	}

	accountOp, err := s.accountOp(ctx, tenantID, invoice, actor, now)
	if err != nil {
		return nil, err
	}

	ops := []storedomain.TransactOp{
		{Put: &storedomain.PutOp{Record: enrollmentRec}},
		{Update: &storedomain.UpdateOp{
			Key:   studentdomain.Key(req.StudentID),
			Patch: storedomain.NewPatch(actor).With("currentEnrollment", pointer),
		}},
		{Put: &storedomain.PutOp{Record: invoiceRec}},
		accountOp,
	}

	if err := s.store.TransactWrite(ctx, tenantID, ops); err != nil {
		return nil, s.mapEnrollConflict(err, req)
	}

	s.log.Info("student enrolled",
		zap.String("tenant_id", tenantID),
		zap.String("student_id", req.StudentID),
		zap.String("school_id", req.SchoolID),
		zap.String("academic_year", req.AcademicYear),
		zap.String("enrollment_id", enrollment.EnrollmentID),
		zap.String("invoice_id", invoice.InvoiceID),
		zap.Int64("invoice_total", invoice.Total),
	)
	return &domain.EnrollResult{Enrollment: enrollment, Invoice: invoice}, nil
}

// checkDuplicate queries the year's enrollment history for a record
// still holding a seat. The deterministic enrollment key closes the
// same-school race at write time; this read-side check covers other
// schools in the same year.
func (s *Service) checkDuplicate(ctx context.Context, tenantID, studentID, academicYear string) error {
	recs, err := s.store.Query(ctx, tenantID,
		studentdomain.PartitionKey(studentID), domain.HistoryPrefix(academicYear), 0)
	if err != nil {
		return err
	}
	for i := range recs {
		var e domain.Enrollment
		if err := recs[i].Decode(&e); err != nil {
			return err
		}
		if blocksEnrollment(e.Status) {
			return schoolerr.New(schoolerr.CodeDuplicateEnrollment, "student already enrolled for academic year").
				WithEntity("student", studentID).
				WithEntity("academicYear", academicYear).
				WithEntity("enrollment", e.EnrollmentID)
		}
	}
	return nil
}

// blocksEnrollment reports whether an existing record still occupies
// the academic year. Withdrawn, cancelled and transferred-out records
// free the seat.
func blocksEnrollment(status domain.Status) bool {
	switch status {
	case domain.StatusWithdrawn, domain.StatusCancelled, domain.StatusTransferred:
		return false
	}
	return true
}

// accountOp builds the fourth transaction item: a conditional put of a
// fresh billing account, or a version-guarded balance increment on the
// existing one.
func (s *Service) accountOp(ctx context.Context, tenantID string, invoice billingdomain.Invoice, actor string, now time.Time) (storedomain.TransactOp, error) {
	key := billingdomain.AccountKey(invoice.StudentID, invoice.SchoolID, invoice.AcademicYear)
	rec, err := s.store.Get(ctx, tenantID, key)
	if err != nil {
		return storedomain.TransactOp{}, err
	}

	if rec == nil {
		account := billingdomain.BillingAccount{
			AccountID:        s.genID.Generate().String(),
			StudentID:        invoice.StudentID,
			SchoolID:         invoice.SchoolID,
			AcademicYear:     invoice.AcademicYear,
			Currency:         invoice.Currency,
			TotalDue:         invoice.Total,
			TotalPaid:        0,
			TotalOutstanding: invoice.Total,
			Status:           billingdomain.AccountStatusActive,
		}
		accountRec, err := storedomain.NewRecord(tenantID, key,
			billingdomain.AccountEntityType, account, storedomain.IndexKeys{}, actor, now)
		if err != nil {
			return storedomain.TransactOp{}, err
		}
		return storedomain.TransactOp{Put: &storedomain.PutOp{Record: accountRec}}, nil
	}

	var account billingdomain.BillingAccount
	if err := rec.Decode(&account); err != nil {
		return storedomain.TransactOp{}, err
	}
	return storedomain.TransactOp{Update: &storedomain.UpdateOp{
		Key: key,
		Patch: storedomain.NewPatch(actor).
			With("totalDue", account.TotalDue+invoice.Total).
			With("totalOutstanding", account.TotalOutstanding+invoice.Total),
		ExpectedVersion: rec.Version,
	}}, nil
}

func (s *Service) mapEnrollConflict(err error, req domain.EnrollRequest) error {
	var tce *storedomain.TransactionConflictError
	if !errors.As(err, &tce) {
		return err
	}
	if tce.FailedIndex == 0 && errors.Is(tce.Reason, storedomain.ErrAlreadyExists) {
		return schoolerr.Wrap(schoolerr.CodeDuplicateEnrollment, "enrollment already exists for school year", err).
			WithEntity("student", req.StudentID).
			WithEntity("academicYear", req.AcademicYear)
	}
	return schoolerr.Wrap(schoolerr.CodeTransactionConflict, "enroll transaction aborted, retry the call", err).
		WithEntity("student", req.StudentID)
}

// UpdateStatus transitions one enrollment through the state machine as
// a single-item conditional update with internal retry. The student's
// denormalized pointer is refreshed afterwards outside the guarding
// write; that staleness window is accepted behavior.
func (s *Service) UpdateStatus(ctx context.Context, req domain.UpdateStatusRequest) (*domain.Enrollment, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, schoolerr.New(schoolerr.CodeTenantMissing, "no tenant in context")
	}
	if !req.NewStatus.Valid() {
		return nil, schoolerr.New(schoolerr.CodeValidationFailed,
			fmt.Sprintf("unknown status %q", req.NewStatus))
	}
	actor := tenantctx.Actor(ctx)
	key := domain.Key(req.StudentID, req.AcademicYear, req.SchoolID)

	var updated domain.Enrollment
	_, err := s.occ.Update(ctx, tenantID, key, func(current *storedomain.Record) (storedomain.Patch, error) {
		var e domain.Enrollment
		if err := current.Decode(&e); err != nil {
			return storedomain.Patch{}, err
		}
		if !e.Status.CanTransitionTo(req.NewStatus) {
			return storedomain.Patch{}, schoolerr.New(schoolerr.CodeInvalidStatusTransition,
				fmt.Sprintf("cannot transition %s to %s", e.Status, req.NewStatus)).
				WithEntity("enrollment", e.EnrollmentID).
				WithEntity("student", e.StudentID)
		}
		updated = e
		updated.Status = req.NewStatus
		updated.StatusDate = s.clock.Now()
		return storedomain.NewPatch(actor).
			With("status", updated.Status).
			With("statusDate", updated.StatusDate).
			WithGSI1(domain.ScopePK(e.SchoolID, e.AcademicYear), domain.ScopeSK(req.NewStatus, e.StudentID)), nil
	})
	if err != nil {
		return nil, s.mapStatusErr(err, req)
	}

	if req.NewStatus == domain.StatusActive || req.NewStatus == domain.StatusWithdrawn {
		s.refreshStudentPointer(ctx, tenantID, actor, updated)
	}

	s.log.Info("enrollment status updated",
		zap.String("tenant_id", tenantID),
		zap.String("student_id", req.StudentID),
		zap.String("enrollment_id", updated.EnrollmentID),
		zap.String("status", string(req.NewStatus)),
	)
	return &updated, nil
}

func (s *Service) mapStatusErr(err error, req domain.UpdateStatusRequest) error {
	switch {
	case errors.Is(err, storedomain.ErrNotFound):
		return schoolerr.Wrap(schoolerr.CodeEnrollmentNotFound, "enrollment not found", err).
			WithEntity("student", req.StudentID).
			WithEntity("school", req.SchoolID).
			WithEntity("academicYear", req.AcademicYear)
	case errors.Is(err, occ.ErrConcurrentModification):
		return schoolerr.Wrap(schoolerr.CodeConcurrentModification, "status update kept losing version races", err).
			WithEntity("student", req.StudentID)
	}
	return err
}

// refreshStudentPointer denormalizes the enrollment state onto the
// student record. Best effort: a failure here leaves the pointer stale
// until the next transition, it does not undo the status change.
func (s *Service) refreshStudentPointer(ctx context.Context, tenantID, actor string, e domain.Enrollment) {
	pointer := studentdomain.CurrentEnrollment{
		EnrollmentID: e.EnrollmentID,
		SchoolID:     e.SchoolID,
		AcademicYear: e.AcademicYear,
		Grade:        e.Grade,
		Status:       string(e.Status),
	}
	_, err := s.store.ConditionalUpdate(ctx, tenantID, studentdomain.Key(e.StudentID),
		storedomain.NewPatch(actor).With("currentEnrollment", pointer), 0)
	if err != nil {
		s.log.Warn("student pointer refresh failed, pointer is stale",
			zap.String("tenant_id", tenantID),
			zap.String("student_id", e.StudentID),
			zap.String("enrollment_id", e.EnrollmentID),
			zap.Error(err),
		)
	}
}

func (s *Service) Suspend(ctx context.Context, studentID, schoolID, academicYear string) (*domain.Enrollment, error) {
	return s.UpdateStatus(ctx, domain.UpdateStatusRequest{
		StudentID: studentID, SchoolID: schoolID, AcademicYear: academicYear,
		NewStatus: domain.StatusSuspended,
	})
}

func (s *Service) Graduate(ctx context.Context, studentID, schoolID, academicYear string) (*domain.Enrollment, error) {
	return s.UpdateStatus(ctx, domain.UpdateStatusRequest{
		StudentID: studentID, SchoolID: schoolID, AcademicYear: academicYear,
		NewStatus: domain.StatusGraduated,
	})
}

func (s *Service) Withdraw(ctx context.Context, studentID, schoolID, academicYear string) (*domain.Enrollment, error) {
	return s.UpdateStatus(ctx, domain.UpdateStatusRequest{
		StudentID: studentID, SchoolID: schoolID, AcademicYear: academicYear,
		NewStatus: domain.StatusWithdrawn,
	})
}

// Transfer closes the source enrollment and opens the destination one
// in a single 3-operation transaction: version-guarded source update,
// conditional destination put, version-guarded student pointer update.
func (s *Service) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, schoolerr.New(schoolerr.CodeTenantMissing, "no tenant in context")
	}
	if err := validateTransfer(req); err != nil {
		return nil, err
	}
	actor := tenantctx.Actor(ctx)
	now := s.clock.Now()

	sourceKey := domain.Key(req.StudentID, req.AcademicYear, req.FromSchoolID)
	sourceRec, err := s.store.Get(ctx, tenantID, sourceKey)
	if err != nil {
		return nil, err
	}
	if sourceRec == nil {
		return nil, schoolerr.New(schoolerr.CodeEnrollmentNotFound, "source enrollment not found").
			WithEntity("student", req.StudentID).
			WithEntity("school", req.FromSchoolID)
	}
	var source domain.Enrollment
	if err := sourceRec.Decode(&source); err != nil {
		return nil, err
	}
	if !source.Status.CanTransitionTo(domain.StatusTransferred) {
		return nil, schoolerr.New(schoolerr.CodeInvalidStatusTransition,
			fmt.Sprintf("cannot transfer enrollment in status %s", source.Status)).
			WithEntity("enrollment", source.EnrollmentID)
	}

	studentRec, err := s.store.Get(ctx, tenantID, studentdomain.Key(req.StudentID))
	if err != nil {
		return nil, err
	}
	if studentRec == nil {
		return nil, schoolerr.New(schoolerr.CodeStudentNotFound, "student not found").
			WithEntity("student", req.StudentID)
	}

	grade := req.Grade
	if grade == "" {
		grade = source.Grade
	}

	destination := domain.Enrollment{
		EnrollmentID: s.genID.Generate().String(),
		StudentID:    req.StudentID,
		SchoolID:     req.ToSchoolID,
		AcademicYear: req.AcademicYear,
		Grade:        grade,
		Section:      req.Section,
		Status:       domain.StatusActive,
		StatusDate:   now,
		TransferredFrom: &domain.TransferPointer{
			EnrollmentID: source.EnrollmentID,
			SchoolID:     req.FromSchoolID,
		},
	}
	destRec, err := storedomain.NewRecord(tenantID,
		domain.Key(req.StudentID, req.AcademicYear, req.ToSchoolID),
		domain.EntityType, destination, domain.IndexKeys(destination), actor, now)
	if err != nil {
		return nil, err
	}

	transferredSource := source
	transferredSource.Status = domain.StatusTransferred
	transferredSource.StatusDate = now
	transferredSource.TransferredTo = &domain.TransferPointer{
		EnrollmentID: destination.EnrollmentID,
		SchoolID:     req.ToSchoolID,
	}

	pointer := studentdomain.CurrentEnrollment{
		EnrollmentID: destination.EnrollmentID,
		SchoolID:     destination.SchoolID,
		AcademicYear: destination.AcademicYear,
		Grade:        destination.Grade,
		Status:       string(destination.Status),
	}

	ops := []storedomain.TransactOp{
		{Update: &storedomain.UpdateOp{
			Key: sourceKey,
			Patch: storedomain.NewPatch(actor).
				With("status", transferredSource.Status).
				With("statusDate", transferredSource.StatusDate).
				With("transferredTo", transferredSource.TransferredTo).
				WithGSI1(domain.ScopePK(source.SchoolID, source.AcademicYear),
					domain.ScopeSK(domain.StatusTransferred, source.StudentID)),
			ExpectedVersion: sourceRec.Version,
		}},
		{Put: &storedomain.PutOp{Record: destRec}},
		{Update: &storedomain.UpdateOp{
			Key:             studentdomain.Key(req.StudentID),
			Patch:           storedomain.NewPatch(actor).With("currentEnrollment", pointer),
			ExpectedVersion: studentRec.Version,
		}},
	}

	if err := s.store.TransactWrite(ctx, tenantID, ops); err != nil {
		var tce *storedomain.TransactionConflictError
		if errors.As(err, &tce) && tce.FailedIndex == 1 && errors.Is(tce.Reason, storedomain.ErrAlreadyExists) {
			return nil, schoolerr.Wrap(schoolerr.CodeDuplicateEnrollment, "destination enrollment already exists", err).
				WithEntity("student", req.StudentID).
				WithEntity("school", req.ToSchoolID)
		}
		if tce != nil {
			return nil, schoolerr.Wrap(schoolerr.CodeTransactionConflict, "transfer transaction aborted, retry the call", err).
				WithEntity("student", req.StudentID)
		}
		return nil, err
	}

	s.log.Info("student transferred",
		zap.String("tenant_id", tenantID),
		zap.String("student_id", req.StudentID),
		zap.String("from_school", req.FromSchoolID),
		zap.String("to_school", req.ToSchoolID),
		zap.String("academic_year", req.AcademicYear),
	)
	return &domain.TransferResult{Source: transferredSource, Destination: destination}, nil
}

func (s *Service) Get(ctx context.Context, studentID, schoolID, academicYear string) (*domain.Enrollment, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, schoolerr.New(schoolerr.CodeTenantMissing, "no tenant in context")
	}
	rec, err := s.store.Get(ctx, tenantID, domain.Key(studentID, academicYear, schoolID))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, schoolerr.New(schoolerr.CodeEnrollmentNotFound, "enrollment not found").
			WithEntity("student", studentID).
			WithEntity("school", schoolID).
			WithEntity("academicYear", academicYear)
	}
	var e domain.Enrollment
	if err := rec.Decode(&e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Service) History(ctx context.Context, studentID string) ([]domain.Enrollment, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, schoolerr.New(schoolerr.CodeTenantMissing, "no tenant in context")
	}
	recs, err := s.store.Query(ctx, tenantID,
		studentdomain.PartitionKey(studentID), domain.HistoryPrefix(""), 0)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Enrollment, 0, len(recs))
	for i := range recs {
		var e domain.Enrollment
		if err := recs[i].Decode(&e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func validateEnroll(req domain.EnrollRequest) error {
	switch {
	case strings.TrimSpace(req.StudentID) == "":
		return schoolerr.New(schoolerr.CodeValidationFailed, "studentId is required")
	case strings.TrimSpace(req.SchoolID) == "":
		return schoolerr.New(schoolerr.CodeValidationFailed, "schoolId is required")
	case strings.TrimSpace(req.AcademicYear) == "":
		return schoolerr.New(schoolerr.CodeValidationFailed, "academicYear is required")
	case strings.TrimSpace(req.Grade) == "":
		return schoolerr.New(schoolerr.CodeValidationFailed, "grade is required")
	}
	return nil
}

func validateTransfer(req domain.TransferRequest) error {
	switch {
	case strings.TrimSpace(req.StudentID) == "":
		return schoolerr.New(schoolerr.CodeValidationFailed, "studentId is required")
	case strings.TrimSpace(req.AcademicYear) == "":
		return schoolerr.New(schoolerr.CodeValidationFailed, "academicYear is required")
	case strings.TrimSpace(req.FromSchoolID) == "":
		return schoolerr.New(schoolerr.CodeValidationFailed, "fromSchoolId is required")
	case strings.TrimSpace(req.ToSchoolID) == "":
		return schoolerr.New(schoolerr.CodeValidationFailed, "toSchoolId is required")
	case req.FromSchoolID == req.ToSchoolID:
		return schoolerr.New(schoolerr.CodeValidationFailed, "transfer requires two different schools")
	}
	return nil
}
