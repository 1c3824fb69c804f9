package schoolerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorString(t *testing.T) {
	err := New(CodeDuplicateEnrollment, "student already enrolled").
		WithEntity("student", "stu1").
		WithEntity("academicYear", "2026")
	assert.Equal(t, "DUPLICATE_ENROLLMENT: student already enrolled (academicYear=2026 student=stu1)", err.Error())

	assert.Equal(t, "STUDENT_NOT_FOUND", New(CodeStudentNotFound, "").Error())
}

func TestIsMatchesByCode(t *testing.T) {
	err := New(CodeInvoiceNotFound, "invoice not found").WithEntity("invoice", "inv1")
	assert.True(t, errors.Is(err, New(CodeInvoiceNotFound, "")))
	assert.False(t, errors.Is(err, New(CodeStudentNotFound, "")))

	wrapped := fmt.Errorf("handler: %w", err)
	assert.True(t, errors.Is(wrapped, New(CodeInvoiceNotFound, "")))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("version conflict")
	err := Wrap(CodeConcurrentModification, "retry", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeConcurrentModification, CodeOf(err))
}

func TestWithEntityDoesNotMutate(t *testing.T) {
	base := New(CodeValidationFailed, "bad input")
	a := base.WithEntity("student", "stu1")
	b := base.WithEntity("student", "stu2")
	assert.Empty(t, base.EntityIDs)
	assert.Equal(t, "stu1", a.EntityIDs["student"])
	assert.Equal(t, "stu2", b.EntityIDs["student"])
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeTenantMissing, CodeOf(New(CodeTenantMissing, "")))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.Equal(t, Code(""), CodeOf(nil))
}
