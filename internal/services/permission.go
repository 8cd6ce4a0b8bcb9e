package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"orgregistry/internal/catalog"
	"orgregistry/internal/logging"
	"orgregistry/internal/models"

	"gorm.io/gorm"
)

// PermissionService owns groups, permissions and their association.
type PermissionService struct {
	db    *gorm.DB
	audit *AuditService
}

func NewPermissionService(db *gorm.DB, audit *AuditService) *PermissionService {
	return &PermissionService{db: db, audit: audit}
}

// ReconcileReport summarizes what a reconciliation run changed.
type ReconcileReport struct {
	GroupsCreated      []string `json:"groups_created,omitempty"`
	GroupsUpdated      []string `json:"groups_updated,omitempty"`
	PermissionsCreated []string `json:"permissions_created,omitempty"`
	PermissionsUpdated []string `json:"permissions_updated,omitempty"`
	PermissionsPruned  []string `json:"permissions_pruned,omitempty"`
}

// Changed reports whether the run modified anything besides association rows.
func (r *ReconcileReport) Changed() bool {
	return len(r.GroupsCreated)+len(r.GroupsUpdated)+len(r.PermissionsCreated)+
		len(r.PermissionsUpdated)+len(r.PermissionsPruned) > 0
}

// Reconcile brings persisted groups and permissions in line with c, in one
// transaction:
//
//  1. find-or-create each role's group by display name; catalog flags win,
//     and groups no role names lose the superuser, guest and protected flags
//  2. find-or-create every referenced permission; catalog descriptions win
//  3. replace each role's permission set with exactly its granted names
//  4. detach and delete permissions the catalog no longer references
//
// Pruning runs last so a permission is never deleted while a step above
// still expects it. Running Reconcile again with the same catalog changes
// nothing.
func (s *PermissionService) Reconcile(ctx context.Context, c *catalog.Catalog) (*ReconcileReport, error) {
	if err := c.Validate(); err != nil {
		catalogReconciliationsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	report := &ReconcileReport{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		groups, err := reconcileGroups(tx, c, report)
		if err != nil {
			return err
		}
		if err := releaseOrphanedGroups(tx, groups, report); err != nil {
			return err
		}
		perms, err := reconcilePermissions(tx, c, report)
		if err != nil {
			return err
		}
		for _, role := range c.Roles {
			ids := make([]uint, 0, len(role.Permissions))
			for _, name := range role.GrantedNames() {
				ids = append(ids, perms[name].ID)
			}
			if err := replaceGroupPermissions(tx, groups[role.Key].ID, ids); err != nil {
				return fmt.Errorf("assign permissions to %q: %w", role.DisplayName, err)
			}
		}
		return prunePermissions(tx, c.PermissionNames(), report)
	})
	if err != nil {
		catalogReconciliationsTotal.WithLabelValues("error").Inc()
		logging.Ctx(ctx).Error().Err(err).Msg("policy catalog reconciliation failed")
		return nil, fmt.Errorf("reconcile policy catalog: %w", err)
	}

	catalogReconciliationsTotal.WithLabelValues("success").Inc()
	if report.Changed() {
		s.audit.Record(ctx, Entry{
			Action:     "Policy catalog reconciled",
			EntityType: EntityCatalog,
			Details:    report,
		})
	}
	return report, nil
}

func reconcileGroups(tx *gorm.DB, c *catalog.Catalog, report *ReconcileReport) (map[string]*models.Group, error) {
	groups := make(map[string]*models.Group, len(c.Roles))
	for _, role := range c.Roles {
		var g models.Group
		err := tx.Where("name = ?", role.DisplayName).First(&g).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			g = models.Group{
				Name:        role.DisplayName,
				Deletable:   role.Deletable,
				IsSuperuser: role.Superuser,
				IsGuest:     role.Guest,
			}
			if err := tx.Create(&g).Error; err != nil {
				return nil, fmt.Errorf("create group %q: %w", role.DisplayName, err)
			}
			report.GroupsCreated = append(report.GroupsCreated, g.Name)
		case err != nil:
			return nil, fmt.Errorf("find group %q: %w", role.DisplayName, err)
		case g.Deletable != role.Deletable || g.IsSuperuser != role.Superuser || g.IsGuest != role.Guest:
			err := tx.Model(&g).Updates(map[string]any{
				"deletable":    role.Deletable,
				"is_superuser": role.Superuser,
				"is_guest":     role.Guest,
			}).Error
			if err != nil {
				return nil, fmt.Errorf("update group %q: %w", role.DisplayName, err)
			}
			report.GroupsUpdated = append(report.GroupsUpdated, g.Name)
		}
		groups[role.Key] = &g
	}
	return groups, nil
}

// releaseOrphanedGroups turns groups that no catalog role names back into
// plain deletable groups. This covers roles whose display name changed.
func releaseOrphanedGroups(tx *gorm.DB, reconciled map[string]*models.Group, report *ReconcileReport) error {
	ids := make([]uint, 0, len(reconciled))
	for _, g := range reconciled {
		ids = append(ids, g.ID)
	}

	q := tx.Model(&models.Group{}).
		Where("(is_superuser = ? OR is_guest = ? OR deletable = ?)", true, true, false)
	if len(ids) > 0 {
		q = q.Where("id NOT IN ?", ids)
	}
	var orphans []models.Group
	if err := q.Order("name").Find(&orphans).Error; err != nil {
		return fmt.Errorf("find orphaned groups: %w", err)
	}

	for i := range orphans {
		err := tx.Model(&orphans[i]).Updates(map[string]any{
			"deletable":    true,
			"is_superuser": false,
			"is_guest":     false,
		}).Error
		if err != nil {
			return fmt.Errorf("release group %q: %w", orphans[i].Name, err)
		}
		report.GroupsUpdated = append(report.GroupsUpdated, orphans[i].Name)
	}
	return nil
}

func reconcilePermissions(tx *gorm.DB, c *catalog.Catalog, report *ReconcileReport) (map[string]*models.Permission, error) {
	descriptions := c.Descriptions()
	perms := make(map[string]*models.Permission)
	for _, name := range c.PermissionNames() {
		var p models.Permission
		err := tx.Where("name = ?", name).First(&p).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			p = models.Permission{Name: name, Description: descriptions[name]}
			if err := tx.Create(&p).Error; err != nil {
				return nil, fmt.Errorf("create permission %q: %w", name, err)
			}
			report.PermissionsCreated = append(report.PermissionsCreated, name)
		case err != nil:
			return nil, fmt.Errorf("find permission %q: %w", name, err)
		default:
			if d, ok := descriptions[name]; ok && d != p.Description {
				if err := tx.Model(&p).Update("description", d).Error; err != nil {
					return nil, fmt.Errorf("update permission %q: %w", name, err)
				}
				report.PermissionsUpdated = append(report.PermissionsUpdated, name)
			}
		}
		perms[name] = &p
	}
	return perms, nil
}

// replaceGroupPermissions clears the group's association rows and inserts
// exactly ids.
func replaceGroupPermissions(tx *gorm.DB, groupID uint, ids []uint) error {
	if err := tx.Where("group_id = ?", groupID).Delete(&models.GroupPermission{}).Error; err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	rows := make([]models.GroupPermission, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, models.GroupPermission{GroupID: groupID, PermissionID: id})
	}
	return tx.Create(&rows).Error
}

func prunePermissions(tx *gorm.DB, keep []string, report *ReconcileReport) error {
	q := tx.Model(&models.Permission{})
	if len(keep) > 0 {
		q = q.Where("name NOT IN ?", keep)
	}
	var stale []models.Permission
	if err := q.Order("name").Find(&stale).Error; err != nil {
		return fmt.Errorf("find stale permissions: %w", err)
	}
	for i := range stale {
		if err := deletePermission(tx, &stale[i]); err != nil {
			return fmt.Errorf("prune permission %q: %w", stale[i].Name, err)
		}
		report.PermissionsPruned = append(report.PermissionsPruned, stale[i].Name)
	}
	return nil
}

// deletePermission detaches p from every group, then deletes it.
func deletePermission(tx *gorm.DB, p *models.Permission) error {
	if err := tx.Where("permission_id = ?", p.ID).Delete(&models.GroupPermission{}).Error; err != nil {
		return err
	}
	return tx.Delete(p).Error
}

// GroupData is the editable part of a group.
type GroupData struct {
	Name        string
	Permissions []string
}

// ListGroups returns all groups with their permissions, by name.
func (s *PermissionService) ListGroups(ctx context.Context) ([]models.Group, error) {
	var groups []models.Group
	if err := s.db.WithContext(ctx).Preload("Permissions").Order("name").Find(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}

// GetGroup returns a group with its permissions.
func (s *PermissionService) GetGroup(ctx context.Context, id uint) (*models.Group, error) {
	var g models.Group
	if err := s.db.WithContext(ctx).Preload("Permissions").First(&g, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	return &g, nil
}

// CreateGroup creates a deletable group holding the named permissions.
func (s *PermissionService) CreateGroup(ctx context.Context, data GroupData) (*models.Group, error) {
	var g models.Group
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureGroupNameFree(tx, data.Name, 0); err != nil {
			return err
		}
		perms, err := findPermissions(tx, data.Permissions)
		if err != nil {
			return err
		}
		g = models.Group{Name: data.Name, Deletable: true}
		if err := tx.Create(&g).Error; err != nil {
			return duplicateAs(err, ErrDuplicateName)
		}
		if err := replaceGroupPermissions(tx, g.ID, permissionIDs(perms)); err != nil {
			return err
		}
		g.Permissions = perms
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, Entry{
		Action:     fmt.Sprintf("Created group %q", g.Name),
		EntityType: EntityGroup,
		EntityID:   IDString(g.ID),
		Details:    map[string]any{"name": g.Name, "permissions": g.PermissionNames()},
	})
	return &g, nil
}

// UpdateGroup renames the group and replaces its permission set. Groups
// owned by the policy catalog keep their name.
func (s *PermissionService) UpdateGroup(ctx context.Context, id uint, data GroupData) (*models.Group, error) {
	var (
		g       models.Group
		changes Changes
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("Permissions").First(&g, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrGroupNotFound
			}
			return err
		}
		// Catalog groups are matched by name; renaming one would detach it.
		if g.Name != data.Name && (g.IsSuperuser || g.IsGuest || !g.Deletable) {
			return ErrGroupProtected
		}
		if err := ensureGroupNameFree(tx, data.Name, g.ID); err != nil {
			return err
		}
		perms, err := findPermissions(tx, data.Permissions)
		if err != nil {
			return err
		}

		before := map[string]any{"name": g.Name, "permissions": sortedNames(g.Permissions)}
		after := map[string]any{"name": data.Name, "permissions": sortedNames(perms)}
		changes = Diff(before, after)

		if g.Name != data.Name {
			if err := tx.Model(&g).Update("name", data.Name).Error; err != nil {
				return duplicateAs(err, ErrDuplicateName)
			}
		}
		if err := replaceGroupPermissions(tx, g.ID, permissionIDs(perms)); err != nil {
			return err
		}
		g.Permissions = perms
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(changes) > 0 {
		s.audit.Record(ctx, Entry{
			Action:     fmt.Sprintf("Updated group %q", g.Name),
			EntityType: EntityGroup,
			EntityID:   IDString(g.ID),
			Details:    changes,
		})
	}
	return &g, nil
}

// DeleteGroup deletes a deletable group that has no users.
func (s *PermissionService) DeleteGroup(ctx context.Context, id uint) error {
	var g models.Group
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&g, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrGroupNotFound
			}
			return err
		}
		if !g.Deletable {
			return ErrGroupNotDeletable
		}
		var users int64
		if err := tx.Model(&models.User{}).Where("group_id = ?", g.ID).Count(&users).Error; err != nil {
			return err
		}
		if users > 0 {
			return fmt.Errorf("%w: %d attached", ErrGroupInUse, users)
		}
		if err := replaceGroupPermissions(tx, g.ID, nil); err != nil {
			return err
		}
		return tx.Delete(&g).Error
	})
	if err != nil {
		return err
	}

	s.audit.Record(ctx, Entry{
		Action:     fmt.Sprintf("Deleted group %q", g.Name),
		EntityType: EntityGroup,
		EntityID:   IDString(g.ID),
	})
	return nil
}

// ListPermissions returns all permissions by name.
func (s *PermissionService) ListPermissions(ctx context.Context) ([]models.Permission, error) {
	var perms []models.Permission
	if err := s.db.WithContext(ctx).Order("name").Find(&perms).Error; err != nil {
		return nil, err
	}
	return perms, nil
}

// CreatePermission adds a permission. Permissions absent from the policy
// catalog are pruned by the next reconciliation.
func (s *PermissionService) CreatePermission(ctx context.Context, name, description string) (*models.Permission, error) {
	p := models.Permission{Name: name, Description: description}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Permission{}).Where("name = ?", name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateName
		}
		return duplicateAs(tx.Create(&p).Error, ErrDuplicateName)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, Entry{
		Action:     fmt.Sprintf("Created permission %q", p.Name),
		EntityType: EntityPermission,
		EntityID:   IDString(p.ID),
		Details:    map[string]any{"name": p.Name, "description": p.Description},
	})
	return &p, nil
}

// DeletePermission detaches the permission from every group and deletes it.
func (s *PermissionService) DeletePermission(ctx context.Context, id uint) error {
	var p models.Permission
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&p, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPermissionNotFound
			}
			return err
		}
		return deletePermission(tx, &p)
	})
	if err != nil {
		return err
	}

	s.audit.Record(ctx, Entry{
		Action:     fmt.Sprintf("Deleted permission %q", p.Name),
		EntityType: EntityPermission,
		EntityID:   IDString(p.ID),
	})
	return nil
}

func ensureGroupNameFree(tx *gorm.DB, name string, exceptID uint) error {
	var count int64
	if err := tx.Model(&models.Group{}).Where("name = ? AND id <> ?", name, exceptID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicateName
	}
	return nil
}

// findPermissions loads permissions by name; every name must exist.
func findPermissions(tx *gorm.DB, names []string) ([]models.Permission, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var perms []models.Permission
	if err := tx.Where("name IN ?", names).Order("name").Find(&perms).Error; err != nil {
		return nil, err
	}
	found := make(map[string]bool, len(perms))
	for _, p := range perms {
		found[p.Name] = true
	}
	for _, n := range names {
		if !found[n] {
			return nil, fmt.Errorf("%w: %s", ErrPermissionNotFound, n)
		}
	}
	return perms, nil
}

func permissionIDs(perms []models.Permission) []uint {
	ids := make([]uint, 0, len(perms))
	for _, p := range perms {
		ids = append(ids, p.ID)
	}
	return ids
}

func sortedNames(perms []models.Permission) []string {
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}
