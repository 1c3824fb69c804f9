package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusPending, StatusActive, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusGraduated, false},
		{StatusActive, StatusSuspended, true},
		{StatusActive, StatusGraduated, true},
		{StatusActive, StatusTransferred, true},
		{StatusActive, StatusWithdrawn, true},
		{StatusActive, StatusPending, false},
		{StatusSuspended, StatusActive, true},
		{StatusSuspended, StatusWithdrawn, true},
		{StatusSuspended, StatusGraduated, false},
		{StatusGraduated, StatusActive, false},
		{StatusTransferred, StatusActive, false},
		{StatusWithdrawn, StatusActive, false},
		{StatusCancelled, StatusActive, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusGraduated, StatusTransferred, StatusWithdrawn, StatusCancelled} {
		assert.True(t, s.Terminal(), "%s", s)
	}
	for _, s := range []Status{StatusPending, StatusActive, StatusSuspended} {
		assert.False(t, s.Terminal(), "%s", s)
	}
}

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusActive.Valid())
	assert.False(t, Status("enrolled").Valid())
	assert.False(t, Status("").Valid())
}

func TestKeyShapes(t *testing.T) {
	key := Key("stu1", "2026", "north")
	assert.Equal(t, "STUDENT#stu1", key.PK)
	assert.Equal(t, "ENROLLMENT#2026#SCHOOL#north", key.SK)

	assert.Equal(t, "ENROLLMENT#", HistoryPrefix("").Prefix)
	assert.Equal(t, "ENROLLMENT#2026#", HistoryPrefix("2026").Prefix)

	e := Enrollment{StudentID: "stu1", SchoolID: "north", AcademicYear: "2026", Status: StatusActive}
	idx := IndexKeys(e)
	assert.Equal(t, "SCHOOL#north#YEAR#2026#ENROLLMENT", idx.GSI1PK)
	assert.Equal(t, "STATUS#active#STUDENT#stu1", idx.GSI1SK)
}
