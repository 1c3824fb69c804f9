// Package domain contains enrollment records and their status state
// machine.
package domain

import (
	"time"

	storedomain "github.com/classbridge/schoolops/internal/store/domain"
)

// EntityType is the store discriminator for enrollment records.
const EntityType = "ENROLLMENT"

// Status is the enrollment lifecycle state.
type Status string

const (
	StatusPending     Status = "pending"
	StatusActive      Status = "active"
	StatusSuspended   Status = "suspended"
	StatusGraduated   Status = "graduated"
	StatusTransferred Status = "transferred"
	StatusWithdrawn   Status = "withdrawn"
	StatusCancelled   Status = "cancelled"
)

// transitions encodes the allowed status moves. Absent states are
// terminal.
var transitions = map[Status][]Status{
	StatusPending:   {StatusActive, StatusCancelled},
	StatusActive:    {StatusSuspended, StatusGraduated, StatusTransferred, StatusWithdrawn},
	StatusSuspended: {StatusActive, StatusWithdrawn},
}

// CanTransitionTo reports whether moving to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions exist.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusSuspended, StatusGraduated, StatusTransferred, StatusWithdrawn, StatusCancelled:
		return true
	}
	return false
}

// TransferPointer links an enrollment to its counterpart at the other
// school in a transfer.
type TransferPointer struct {
	EnrollmentID string `json:"enrollmentId"`
	SchoolID     string `json:"schoolId"`
}

// Enrollment ties a student to a school, year, grade and section. The
// record is created atomically with its invoice and never deleted.
type Enrollment struct {
	EnrollmentID string    `json:"enrollmentId"`
	StudentID    string    `json:"studentId"`
	SchoolID     string    `json:"schoolId"`
	AcademicYear string    `json:"academicYear"`
	Grade        string    `json:"grade"`
	Section      string    `json:"section,omitempty"`
	Status       Status    `json:"status"`
	StatusDate   time.Time `json:"statusDate"`

	TransferredFrom *TransferPointer `json:"transferredFrom,omitempty"`
	TransferredTo   *TransferPointer `json:"transferredTo,omitempty"`
}

// Key is deterministic per (student, academic year, school), so the
// enroll transaction's conditional put doubles as the uniqueness
// constraint for that scope.
func Key(studentID, academicYear, schoolID string) storedomain.Key {
	return storedomain.Key{
		PK: "STUDENT#" + studentID,
		SK: "ENROLLMENT#" + academicYear + "#SCHOOL#" + schoolID,
	}
}

// HistoryPrefix scans a student's full enrollment history, optionally
// narrowed to one academic year.
func HistoryPrefix(academicYear string) storedomain.SortRange {
	if academicYear == "" {
		return storedomain.SortRange{Prefix: "ENROLLMENT#"}
	}
	return storedomain.SortRange{Prefix: "ENROLLMENT#" + academicYear + "#"}
}

// ScopePK is the secondary-index partition listing a school year's
// enrollments.
func ScopePK(schoolID, academicYear string) string {
	return "SCHOOL#" + schoolID + "#YEAR#" + academicYear + "#ENROLLMENT"
}

// ScopeSK orders a school year's enrollments by status then student.
func ScopeSK(status Status, studentID string) string {
	return "STATUS#" + string(status) + "#STUDENT#" + studentID
}

// IndexKeys derives the index attributes recomputed on every write
// touching status.
func IndexKeys(e Enrollment) storedomain.IndexKeys {
	return storedomain.IndexKeys{
		GSI1PK: ScopePK(e.SchoolID, e.AcademicYear),
		GSI1SK: ScopeSK(e.Status, e.StudentID),
	}
}
