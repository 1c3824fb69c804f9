// Package domain holds the slice of the student directory this engine
// touches: the profile record and its denormalized currentEnrollment
// pointer. The full directory service lives outside the engine.
package domain

import (
	storedomain "github.com/classbridge/schoolops/internal/store/domain"
)

// EntityType is the store discriminator for student records.
const EntityType = "STUDENT"

// CurrentEnrollment is the pointer denormalized onto the student for
// fast lookup. It is kept in lockstep with the enrollment record by the
// enroll transaction and best-effort on later status changes.
type CurrentEnrollment struct {
	EnrollmentID string `json:"enrollmentId"`
	SchoolID     string `json:"schoolId"`
	AcademicYear string `json:"academicYear"`
	Grade        string `json:"grade"`
	Status       string `json:"status"`
}

// Student is the subset of the directory profile the engine reads and
// writes.
type Student struct {
	StudentID         string             `json:"studentId"`
	FirstName         string             `json:"firstName"`
	LastName          string             `json:"lastName"`
	CurrentEnrollment *CurrentEnrollment `json:"currentEnrollment,omitempty"`
}

// Key addresses the student profile record.
func Key(studentID string) storedomain.Key {
	return storedomain.Key{PK: "STUDENT#" + studentID, SK: "PROFILE"}
}

// PartitionKey returns the student's partition, under which enrollment,
// invoice, account and payment records are co-located.
func PartitionKey(studentID string) string {
	return "STUDENT#" + studentID
}
