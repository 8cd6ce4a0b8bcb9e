package services

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"orgregistry/internal/logging"
	"orgregistry/internal/models"

	"github.com/goccy/go-json"
	"gorm.io/gorm"
)

const (
	unknownActor   = "System/Unknown"
	unknownAddress = "N/A"

	defaultActivityPerPage = 25
)

// MaxActivityPage bounds Query's page number so the row offset cannot
// overflow.
const MaxActivityPage = 1 << 20

// Entity type tags used in audit entries.
const (
	EntityUser       = "User"
	EntityGroup      = "Group"
	EntityPermission = "Permission"
	EntityCatalog    = "PolicyCatalog"
)

// Change is the before/after pair of one modified field.
type Change struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Changes maps field names to their change.
type Changes map[string]Change

// Diff returns the fields whose values differ between before and after.
func Diff(before, after map[string]any) Changes {
	changes := Changes{}
	for k, nv := range after {
		ov, ok := before[k]
		if !ok || !reflect.DeepEqual(ov, nv) {
			changes[k] = Change{Old: ov, New: nv}
		}
	}
	for k, ov := range before {
		if _, ok := after[k]; !ok {
			changes[k] = Change{Old: ov, New: nil}
		}
	}
	return changes
}

// Entry is one audit record request.
type Entry struct {
	Action     string
	EntityType string
	EntityID   string
	// Details is serialized to JSON when non-nil: Changes or any context value.
	Details any
	// Actor and Username override the identity resolved from the context.
	// Login flows use them: the session does not exist yet on success, and on
	// failure only the attempted username is known.
	Actor    *models.User
	Username string
	// Anonymous records no user reference even when the context carries
	// an identity.
	Anonymous bool
}

// AuditService appends to the user activity log.
type AuditService struct {
	db *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

// IDString formats a numeric entity ID for Entry.EntityID.
func IDString(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

// Record appends one audit entry. It never fails from the caller's point of
// view: write errors roll back the audit transaction, are logged, and are
// counted in audit_write_failures_total.
func (s *AuditService) Record(ctx context.Context, e Entry) {
	defer func() {
		if r := recover(); r != nil {
			auditWriteFailuresTotal.Inc()
			logging.Ctx(ctx).Error().Interface("panic", r).Str("action", e.Action).Msg("audit write panicked")
		}
	}()

	row := s.buildRow(ctx, e)

	// The audit write must not be cut short by the caller's cancellation.
	wctx := context.WithoutCancel(ctx)
	err := s.db.WithContext(wctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(row).Error
	})
	if err != nil {
		auditWriteFailuresTotal.Inc()
		logging.Ctx(ctx).Error().
			Err(err).
			Str("action", e.Action).
			Str("username", row.Username).
			Str("entity_type", e.EntityType).
			Str("entity_id", e.EntityID).
			Msg("audit write failed")
	}
}

func (s *AuditService) buildRow(ctx context.Context, e Entry) *models.UserActivity {
	row := &models.UserActivity{
		Action:    e.Action,
		Username:  unknownActor,
		IPAddress: unknownAddress,
	}

	actor := e.Actor
	if e.Anonymous {
		actor = nil
	} else if actor == nil {
		if id, ok := IdentityFromContext(ctx); ok && !id.IsGuest() {
			actor = id.User
		}
	}
	if actor != nil {
		uid := actor.ID
		row.UserID = &uid
		row.Username = actor.Username
	}
	if e.Username != "" {
		row.Username = e.Username
	}

	if ip := ClientIPFromContext(ctx); ip != "" {
		row.IPAddress = ip
	}
	if e.EntityType != "" {
		et := e.EntityType
		row.EntityType = &et
	}
	if e.EntityID != "" {
		eid := e.EntityID
		row.EntityID = &eid
	}
	if e.Details != nil {
		data, err := json.Marshal(e.Details)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("action", e.Action).Msg("audit details not serializable")
			data = []byte(strconv.Quote(fmt.Sprintf("%v", e.Details)))
		}
		details := string(data)
		row.Details = &details
	}
	return row
}

// ActivityFilter selects audit entries. String filters are case-insensitive
// substring matches except EntityID, which must match exactly. From and To
// are inclusive calendar days; zero means unbounded.
type ActivityFilter struct {
	Username   string
	Action     string
	EntityType string
	EntityID   string
	From       time.Time
	To         time.Time
	Page       int
	PerPage    int
}

type ActivityPage struct {
	Items   []models.UserActivity `json:"items"`
	Total   int64                 `json:"total"`
	Page    int                   `json:"page"`
	PerPage int                   `json:"per_page"`
	Pages   int                   `json:"pages"`
}

// Query returns one page of audit entries, newest first.
func (s *AuditService) Query(ctx context.Context, f ActivityFilter) (*ActivityPage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Page > MaxActivityPage {
		f.Page = MaxActivityPage
	}
	if f.PerPage < 1 {
		f.PerPage = defaultActivityPerPage
	}

	q := s.db.WithContext(ctx).Model(&models.UserActivity{})
	like := func(column, value string) {
		if value != "" {
			q = q.Where("LOWER("+column+") LIKE ? ESCAPE '!'", "%"+likeEscaper.Replace(strings.ToLower(value))+"%")
		}
	}
	like("username", f.Username)
	like("action", f.Action)
	like("entity_type", f.EntityType)
	if f.EntityID != "" {
		q = q.Where("entity_id = ?", f.EntityID)
	}
	if !f.From.IsZero() {
		q = q.Where("created_at >= ?", startOfDay(f.From))
	}
	if !f.To.IsZero() {
		q = q.Where("created_at < ?", startOfDay(f.To).AddDate(0, 0, 1))
	}

	q = q.Session(&gorm.Session{})

	page := &ActivityPage{Page: f.Page, PerPage: f.PerPage}
	if err := q.Count(&page.Total).Error; err != nil {
		return nil, err
	}
	page.Pages = int((page.Total + int64(f.PerPage) - 1) / int64(f.PerPage))

	err := q.Order("created_at DESC").Order("id DESC").
		Offset((f.Page - 1) * f.PerPage).
		Limit(f.PerPage).
		Find(&page.Items).Error
	if err != nil {
		return nil, err
	}
	return page, nil
}

// likeEscaper makes user input match literally inside LIKE ... ESCAPE '!'.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
