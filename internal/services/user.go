package services

import (
	"context"
	"errors"
	"fmt"

	"orgregistry/internal/logging"
	"orgregistry/internal/models"

	"gorm.io/gorm"
)

type UserService struct {
	db          *gorm.DB
	authService *AuthService
	audit       *AuditService
}

func NewUserService(db *gorm.DB, authService *AuthService, audit *AuditService) *UserService {
	return &UserService{
		db:          db,
		authService: authService,
		audit:       audit,
	}
}

// UserProfile holds the fields an administrator edits on a user.
type UserProfile struct {
	Username   string
	GroupID    *uint
	FullName   string
	Department string
	Position   string
	Contacts   string
}

func (p UserProfile) fields(groupName string) map[string]any {
	return map[string]any{
		"username":   p.Username,
		"group":      groupName,
		"full_name":  p.FullName,
		"department": p.Department,
		"position":   p.Position,
		"contacts":   p.Contacts,
	}
}

func profileOf(u *models.User) UserProfile {
	return UserProfile{
		Username:   u.Username,
		GroupID:    u.GroupID,
		FullName:   u.FullName,
		Department: u.Department,
		Position:   u.Position,
		Contacts:   u.Contacts,
	}
}

// GetUsers returns all users
func (s *UserService) GetUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Preload("Group").Order("username").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// GetUser returns a specific user by ID
func (s *UserService) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Preload("Group").First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// CreateUser creates a new user
func (s *UserService) CreateUser(ctx context.Context, profile UserProfile, password string) (*models.User, error) {
	hashed, err := s.authService.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := models.User{PasswordHash: hashed}
	applyProfile(&user, profile)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("username = ?", profile.Username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrUserExists
		}
		group, err := findGroup(tx, profile.GroupID)
		if err != nil {
			return err
		}
		user.Group = nil
		if err := tx.Create(&user).Error; err != nil {
			return duplicateAs(err, ErrUserExists)
		}
		user.Group = group
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, Entry{
		Action:     fmt.Sprintf("Created user %q", user.Username),
		EntityType: EntityUser,
		EntityID:   IDString(user.ID),
		Details:    profile.fields(user.GroupName()),
	})
	return &user, nil
}

// UpdateUser updates profile fields and group assignment (not the password)
func (s *UserService) UpdateUser(ctx context.Context, id uint, profile UserProfile) (*models.User, error) {
	var (
		user    models.User
		changes Changes
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("Group").First(&user, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		// Check if username is taken by another user
		if profile.Username != user.Username {
			var count int64
			if err := tx.Model(&models.User{}).Where("username = ? AND id <> ?", profile.Username, id).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return ErrUserExists
			}
		}

		group, err := findGroup(tx, profile.GroupID)
		if err != nil {
			return err
		}
		newGroupName := ""
		if group != nil {
			newGroupName = group.Name
		}
		if group == nil || !group.IsSuperuser {
			if err := ensureNotLastAdministrator(tx, &user); err != nil {
				return err
			}
		}
		changes = Diff(profileOf(&user).fields(user.GroupName()), profile.fields(newGroupName))

		applyProfile(&user, profile)
		user.Group = nil
		err = tx.Model(&user).Select("Username", "GroupID", "FullName", "Department", "Position", "Contacts").
			Updates(&user).Error
		if err != nil {
			return duplicateAs(err, ErrUserExists)
		}
		user.Group = group
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(changes) > 0 {
		s.audit.Record(ctx, Entry{
			Action:     fmt.Sprintf("Updated user %q", user.Username),
			EntityType: EntityUser,
			EntityID:   IDString(user.ID),
			Details:    changes,
		})
	}
	return &user, nil
}

// UpdatePassword updates user password
func (s *UserService) UpdatePassword(ctx context.Context, id uint, newPassword string) error {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	hashed, err := s.authService.HashPassword(newPassword)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Model(&user).Update("password_hash", hashed).Error
	})
	if err != nil {
		return err
	}

	s.audit.Record(ctx, Entry{
		Action:     fmt.Sprintf("Changed password of user %q", user.Username),
		EntityType: EntityUser,
		EntityID:   IDString(user.ID),
	})
	return nil
}

// DeleteUser deletes a user together with their sessions. Audit entries are
// kept: their user reference is cleared and the username snapshot remains.
func (s *UserService) DeleteUser(ctx context.Context, id uint) error {
	if actor, ok := IdentityFromContext(ctx); ok && !actor.IsGuest() && actor.User.ID == id {
		return ErrCannotDeleteSelf
	}

	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("Group").First(&user, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		// Don't allow deleting the last administrator
		if err := ensureNotLastAdministrator(tx, &user); err != nil {
			return err
		}

		if err := tx.Model(&models.UserActivity{}).Where("user_id = ?", id).Update("user_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.Session{}).Error; err != nil {
			return err
		}
		return tx.Delete(&user).Error
	})
	if err != nil {
		return err
	}

	s.audit.Record(ctx, Entry{
		Action:     fmt.Sprintf("Deleted user %q", user.Username),
		EntityType: EntityUser,
		EntityID:   IDString(user.ID),
	})
	return nil
}

// GetSessions returns active sessions for a user
func (s *UserService) GetSessions(ctx context.Context, userID uint) ([]models.Session, error) {
	var sessions []models.Session
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// EnsureDefaultUser creates the initial administrator when no user exists.
// groupName names the group to assign; a missing group leaves it unassigned.
func (s *UserService) EnsureDefaultUser(ctx context.Context, username, password, groupName string) error {
	if username == "" || password == "" {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	profile := UserProfile{Username: username}
	var group models.Group
	err := s.db.WithContext(ctx).Where("name = ?", groupName).First(&group).Error
	switch {
	case err == nil:
		profile.GroupID = &group.ID
	case errors.Is(err, gorm.ErrRecordNotFound):
		logging.Ctx(ctx).Warn().Str("group", groupName).Msg("default user group not found, creating user without group")
	default:
		return err
	}

	_, err = s.CreateUser(ctx, profile, password)
	return err
}

// ensureNotLastAdministrator fails when u is the only member left in any
// superuser group. u.Group must be loaded.
func ensureNotLastAdministrator(tx *gorm.DB, u *models.User) error {
	if u.Group == nil || !u.Group.IsSuperuser {
		return nil
	}
	var admins int64
	superGroups := tx.Model(&models.Group{}).Select("id").Where("is_superuser = ?", true)
	if err := tx.Model(&models.User{}).Where("group_id IN (?)", superGroups).Count(&admins).Error; err != nil {
		return err
	}
	if admins <= 1 {
		return ErrLastAdministrator
	}
	return nil
}

func applyProfile(u *models.User, p UserProfile) {
	u.Username = p.Username
	u.GroupID = p.GroupID
	u.FullName = p.FullName
	u.Department = p.Department
	u.Position = p.Position
	u.Contacts = p.Contacts
}

func findGroup(tx *gorm.DB, id *uint) (*models.Group, error) {
	if id == nil {
		return nil, nil
	}
	var g models.Group
	if err := tx.First(&g, *id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	return &g, nil
}
