// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"fmt"
)

const MaxUserIDLen = 64

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
	ErrUnknownRole   = errors.New("unknown role")
)

type UserID string

// ParseUserID validates an identity forwarded by the upstream auth layer.
func ParseUserID(raw string) (UserID, error) {
	if len(raw) == 0 {
		return "", ErrUserIDEmpty
	}
	if len(raw) > MaxUserIDLen {
		return "", ErrUserIDTooLong
	}
	return UserID(raw), nil
}

type Role string

const (
	RoleTaker   Role = "taker"
	RoleProctor Role = "proctor"
)

func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleTaker, RoleProctor:
		return Role(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
}

// Enrollment is the set of roles a user holds for an exam. A user
// enrolled in both roles still joins as one of them at a time.
type Enrollment uint8

const (
	EnrollmentNone    Enrollment = 0
	EnrollmentTaker   Enrollment = 1
	EnrollmentProctor Enrollment = 2
)

// EnrollmentFor maps a role to its enrollment bit.
func EnrollmentFor(r Role) Enrollment {
	switch r {
	case RoleTaker:
		return EnrollmentTaker
	case RoleProctor:
		return EnrollmentProctor
	}
	return EnrollmentNone
}

// Permits reports whether the enrollment grants the requested role.
func (e Enrollment) Permits(r Role) bool {
	bit := EnrollmentFor(r)
	return bit != EnrollmentNone && e&bit != 0
}
