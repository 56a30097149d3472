package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"resellerpay/internal/model"
	"resellerpay/internal/repository"

	"gorm.io/gorm"
)

// IdentityChecker confirms that an employee identifier belongs to the
// session's principal.
type IdentityChecker interface {
	VerifyEmployeeID(ctx context.Context, p model.Principal, employeeID string) error
}

// EmployeeDirectory checks employee codes against the users table.
type EmployeeDirectory struct {
	users *repository.UserRepository
}

func NewEmployeeDirectory(db *gorm.DB) *EmployeeDirectory {
	return &EmployeeDirectory{users: repository.NewUserRepository(db)}
}

var errInvalidEmployeeID = newError(KindVerificationFailed, "invalid employee ID", nil)

func (d *EmployeeDirectory) VerifyEmployeeID(ctx context.Context, p model.Principal, employeeID string) error {
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return newError(KindVerificationFailed, "employee ID is required", nil)
	}

	u, err := d.users.GetByID(ctx, p.ID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return errInvalidEmployeeID
		}
		return err
	}
	if !u.Active || u.Role != model.RoleEmployee || u.EmployeeCode == nil {
		return errInvalidEmployeeID
	}
	if subtle.ConstantTimeCompare([]byte(*u.EmployeeCode), []byte(employeeID)) != 1 {
		return errInvalidEmployeeID
	}
	return nil
}
