package domain

import (
	"context"

	billingdomain "github.com/classbridge/schoolops/internal/billing/domain"
)

// EnrollRequest creates an enrollment plus its invoice and billing
// account delta in one atomic transaction.
type EnrollRequest struct {
	StudentID    string `json:"studentId"`
	SchoolID     string `json:"schoolId"`
	AcademicYear string `json:"academicYear"`
	Grade        string `json:"grade"`
	Section      string `json:"section,omitempty"`
}

// EnrollResult returns the two entities the caller needs; the account
// delta is internal bookkeeping.
type EnrollResult struct {
	Enrollment Enrollment            `json:"enrollment"`
	Invoice    billingdomain.Invoice `json:"invoice"`
}

// UpdateStatusRequest transitions one enrollment's status.
type UpdateStatusRequest struct {
	StudentID    string `json:"studentId"`
	SchoolID     string `json:"schoolId"`
	AcademicYear string `json:"academicYear"`
	NewStatus    Status `json:"newStatus"`
}

// TransferRequest moves a student between schools within a year.
type TransferRequest struct {
	StudentID    string `json:"studentId"`
	AcademicYear string `json:"academicYear"`
	FromSchoolID string `json:"fromSchoolId"`
	ToSchoolID   string `json:"toSchoolId"`
	Grade        string `json:"grade"`
	Section      string `json:"section,omitempty"`
}

// TransferResult reports both sides of the move.
type TransferResult struct {
	Source      Enrollment `json:"source"`
	Destination Enrollment `json:"destination"`
}

// Service is the enrollment orchestrator. Enroll and Transfer submit
// multi-item transactions and are never auto-retried on conflict;
// status transitions retry internally through optimistic concurrency.
type Service interface {
	Enroll(ctx context.Context, req EnrollRequest) (*EnrollResult, error)
	UpdateStatus(ctx context.Context, req UpdateStatusRequest) (*Enrollment, error)
	Suspend(ctx context.Context, studentID, schoolID, academicYear string) (*Enrollment, error)
	Graduate(ctx context.Context, studentID, schoolID, academicYear string) (*Enrollment, error)
	Withdraw(ctx context.Context, studentID, schoolID, academicYear string) (*Enrollment, error)
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
	Get(ctx context.Context, studentID, schoolID, academicYear string) (*Enrollment, error)
	History(ctx context.Context, studentID string) ([]Enrollment, error)
}
