package services

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrLastAdministrator  = errors.New("cannot remove the last administrator")
	ErrCannotDeleteSelf   = errors.New("cannot delete the signed-in user")
	ErrGroupNotFound      = errors.New("group not found")
	ErrGroupNotDeletable  = errors.New("group cannot be deleted")
	ErrGroupInUse         = errors.New("group still has users")
	ErrGroupProtected     = errors.New("catalog group cannot be renamed")
	ErrPermissionNotFound = errors.New("permission not found")
	ErrDuplicateName      = errors.New("name already in use")
)

// duplicateAs maps a unique-constraint violation to target and passes any
// other error through.
func duplicateAs(err, target error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return target
	}
	return err
}
