package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/repository"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/export"
	"github.com/noah-isme/lms-api/pkg/mailer"
)

type organizationStore interface {
	FindByID(ctx context.Context, id string) (*models.Organization, error)
	FindByMemberEmail(ctx context.Context, email string) ([]models.Organization, error)
	List(ctx context.Context, filter models.OrganizationFilter) ([]models.Organization, int, error)
	Create(ctx context.Context, org *models.Organization) error
	Update(ctx context.Context, org *models.Organization) error
	Delete(ctx context.Context, id string) error
}

type membershipStore interface {
	ApplyMembershipChange(ctx context.Context, change repository.MembershipChange) error
	ListMemberIDs(ctx context.Context, orgID string) ([]string, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, error)
	ListForUsers(ctx context.Context, userIDs, courseIDs []string) ([]models.Enrollment, error)
}

type memberDirectory interface {
	FindByEmails(ctx context.Context, emails []string) ([]models.User, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type organizationCourseReader interface {
	FindByIDs(ctx context.Context, ids []string) ([]models.Course, error)
}

// OrganizationRequest is the payload for creating or updating an organization.
type OrganizationRequest struct {
	Name      string          `json:"name" validate:"required,max=200"`
	Users     []models.Member `json:"users" validate:"dive"`
	CourseIDs []string        `json:"course_ids"`
}

// OrganizationResult pairs the stored organization with its sync report.
type OrganizationResult struct {
	Organization *models.Organization `json:"organization"`
	Sync         *models.SyncReport   `json:"sync"`
}

// ExportFile is a rendered report ready for download.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// OrganizationService manages organizations and keeps member course lists in
// line with them.
type OrganizationService struct {
	repo        organizationStore
	memberships membershipStore
	users       memberDirectory
	courses     organizationCourseReader
	cache       *CacheService
	dispatcher  eventDispatcher
	metrics     *MetricsService
	csv         *export.CSVExporter
	pdf         *export.PDFExporter
	validator   *validator.Validate
	logger      *zap.Logger
	frontendURL string
}

// NewOrganizationService constructs the service.
func NewOrganizationService(repo organizationStore, memberships membershipStore, users memberDirectory, courses organizationCourseReader, cache *CacheService, dispatcher eventDispatcher, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, frontendURL string) *OrganizationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &OrganizationService{
		repo:        repo,
		memberships: memberships,
		users:       users,
		courses:     courses,
		cache:       cache,
		dispatcher:  dispatcher,
		metrics:     metrics,
		csv:         export.NewCSVExporter(),
		pdf:         export.NewPDFExporter(),
		validator:   validate,
		logger:      logger,
		frontendURL: strings.TrimRight(frontendURL, "/"),
	}
}

// List returns organizations and pagination metadata.
func (s *OrganizationService) List(ctx context.Context, filter models.OrganizationFilter) ([]models.Organization, *models.Pagination, error) {
	orgs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list organizations")
	}
	return orgs, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns an organization by id.
func (s *OrganizationService) Get(ctx context.Context, id string) (*models.Organization, error) {
	org, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, appErrors.ErrOrgNotFound, "load organization")
	}
	return org, nil
}

// Create stores the organization and grants its courses to matched members.
// Memberships reference the organization row, so it is written first; a
// failed member update is repaired with Resync.
func (s *OrganizationService) Create(ctx context.Context, req OrganizationRequest, meta models.RequestMeta) (*OrganizationResult, error) {
	org, err := s.buildOrganization(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, org); err != nil {
		return nil, appErrors.Internal(err, "failed to create organization")
	}
	report := s.syncMembership(ctx, nil, *org, meta)
	return &OrganizationResult{Organization: org, Sync: report}, nil
}

// Update applies member and course changes to every affected user, then
// stores the organization. Re-running an interrupted update recomputes the
// same diff because the stored document still holds the old state.
func (s *OrganizationService) Update(ctx context.Context, id string, req OrganizationRequest, meta models.RequestMeta) (*OrganizationResult, error) {
	before, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, appErrors.ErrOrgNotFound, "load organization")
	}
	after, err := s.buildOrganization(ctx, req)
	if err != nil {
		return nil, err
	}
	after.ID = before.ID
	after.CreatedAt = before.CreatedAt

	report := s.syncMembership(ctx, before, *after, meta)
	if err := s.repo.Update(ctx, after); err != nil {
		return nil, appErrors.Internal(err, "failed to update organization")
	}
	return &OrganizationResult{Organization: after, Sync: report}, nil
}

// Resync drives every member's state to the organization's current content:
// missing grants are added, grants for dropped courses or departed members
// are pulled.
func (s *OrganizationService) Resync(ctx context.Context, id string, meta models.RequestMeta) (*models.SyncReport, error) {
	org, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, appErrors.ErrOrgNotFound, "load organization")
	}
	matched, unmatched, err := s.resolveMembers(ctx, org.Users.Emails())
	if err != nil {
		return nil, err
	}
	linked, err := s.memberships.ListMemberIDs(ctx, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list organization members")
	}
	grants, err := s.memberships.List(ctx, models.EnrollmentFilter{OrganizationID: id})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list organization grants")
	}

	changes := map[string]*repository.MembershipChange{}
	emailOf := map[string]string{}
	change := func(userID string) *repository.MembershipChange {
		if c, ok := changes[userID]; ok {
			return c
		}
		c := &repository.MembershipChange{UserID: userID, OrganizationID: id}
		changes[userID] = c
		return c
	}

	current := map[string]bool{}
	for email, user := range matched {
		current[user.ID] = true
		emailOf[user.ID] = email
		c := change(user.ID)
		c.Join = true
		c.Grant = append([]string(nil), org.CourseIDs...)
	}
	for _, userID := range linked {
		if !current[userID] {
			change(userID).Leave = true
		}
	}
	for _, grant := range grants {
		if current[grant.UserID] && !org.CourseIDs.Contains(grant.CourseID) {
			c := change(grant.UserID)
			c.Revoke = append(c.Revoke, grant.CourseID)
		} else if !current[grant.UserID] {
			change(grant.UserID).Leave = true
		}
	}

	report := s.applyChanges(ctx, id, changes, emailOf)
	report.Unmatched = unmatched
	s.recordSync(ctx, org.ID, report, meta)
	return report, nil
}

// Delete pulls the organization's grants and memberships from every member
// and removes it.
func (s *OrganizationService) Delete(ctx context.Context, id string, meta models.RequestMeta) (*models.SyncReport, error) {
	org, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, appErrors.ErrOrgNotFound, "load organization")
	}
	linked, err := s.memberships.ListMemberIDs(ctx, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list organization members")
	}
	grants, err := s.memberships.List(ctx, models.EnrollmentFilter{OrganizationID: id})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list organization grants")
	}

	changes := map[string]*repository.MembershipChange{}
	for _, userID := range linked {
		changes[userID] = &repository.MembershipChange{UserID: userID, OrganizationID: id, Leave: true}
	}
	for _, grant := range grants {
		if _, ok := changes[grant.UserID]; !ok {
			changes[grant.UserID] = &repository.MembershipChange{UserID: grant.UserID, OrganizationID: id, Leave: true}
		}
	}

	report := s.applyChanges(ctx, id, changes, nil)
	if report.HasFailures() {
		s.metrics.RecordSyncFailures(len(report.Failed))
		return report, appErrors.WithDetails(appErrors.Clone(appErrors.ErrConflict, "organization members could not be detached, retry the delete"), report.Failed)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return nil, appErrors.Internal(err, "failed to delete organization")
	}
	if err := s.users.CreateAuditLog(ctx, newAuditLog(meta, models.AuditActionOrgDelete, "organizations", id,
		map[string]interface{}{"name": org.Name, "members": len(org.Users)}, nil)); err != nil {
		s.logger.Warn("failed to record organization delete audit log", zap.Error(err))
	}
	return report, nil
}

// LinkPendingMemberships attaches a newly registered user to every
// organization that already lists their email.
func (s *OrganizationService) LinkPendingMemberships(ctx context.Context, user *models.User) error {
	if user == nil {
		return nil
	}
	orgs, err := s.repo.FindByMemberEmail(ctx, user.Email)
	if err != nil {
		return fmt.Errorf("find pending memberships: %w", err)
	}
	var failed []string
	for _, org := range orgs {
		change := repository.MembershipChange{
			UserID:         user.ID,
			OrganizationID: org.ID,
			Join:           true,
			Grant:          append([]string(nil), org.CourseIDs...),
		}
		if err := s.memberships.ApplyMembershipChange(ctx, change); err != nil {
			s.logger.Warn("failed to link pending membership",
				zap.String("organization_id", org.ID),
				zap.String("user_id", user.ID),
				zap.Error(err))
			failed = append(failed, org.ID)
		}
	}
	if len(orgs) > 0 {
		s.cache.ForgetEnrollments(ctx, user.ID)
	}
	if len(failed) > 0 {
		s.metrics.RecordSyncFailures(len(failed))
		return fmt.Errorf("link memberships for organizations %s", strings.Join(failed, ","))
	}
	return nil
}

// ExportProgress renders member progress over the organization's courses as
// csv or pdf.
func (s *OrganizationService) ExportProgress(ctx context.Context, id, format string) (*ExportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "pdf" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	org, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, appErrors.ErrOrgNotFound, "load organization")
	}
	roster := org.Users.Emails()
	matched, _, err := s.resolveMembers(ctx, roster)
	if err != nil {
		return nil, err
	}
	courses, err := s.courses.FindByIDs(ctx, org.CourseIDs)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load courses")
	}
	titles := make(map[string]string, len(courses))
	for _, course := range courses {
		titles[course.ID] = course.Title
	}

	userIDs := make([]string, 0, len(matched))
	for _, user := range matched {
		userIDs = append(userIDs, user.ID)
	}
	records, err := s.memberships.ListForUsers(ctx, userIDs, org.CourseIDs)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load member progress")
	}
	byKey := make(map[string]models.Enrollment, len(records))
	for _, record := range records {
		byKey[record.UserID+"|"+record.CourseID] = record
	}

	emails := make([]string, 0, len(roster))
	for email := range roster {
		emails = append(emails, email)
	}
	sort.Strings(emails)

	dataset := export.Dataset{Headers: []string{"Member", "Email", "Course", "Status", "Percentage", "Completed At"}}
	for _, email := range emails {
		member := roster[email]
		user, registered := matched[email]
		for _, courseID := range org.CourseIDs {
			row := map[string]string{
				"Member": member.FullName,
				"Email":  email,
				"Course": titles[courseID],
				"Status": "not registered",
			}
			if registered {
				row["Status"] = "not started"
				if record, ok := byKey[user.ID+"|"+courseID]; ok {
					row["Status"] = string(record.Status)
					row["Percentage"] = strconv.Itoa(record.Percentage)
					if record.CompletedAt != nil {
						row["Completed At"] = record.CompletedAt.Format(time.RFC3339)
					}
				}
			}
			dataset.Rows = append(dataset.Rows, row)
		}
	}

	base := "organization-" + org.ID + "-progress"
	if format == "pdf" {
		data, err := s.pdf.Render(dataset, org.Name+" progress")
		if err != nil {
			return nil, appErrors.Internal(err, "failed to render pdf")
		}
		return &ExportFile{Filename: base + ".pdf", ContentType: "application/pdf", Data: data}, nil
	}
	data, err := s.csv.Render(dataset)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render csv")
	}
	return &ExportFile{Filename: base + ".csv", ContentType: "text/csv", Data: data}, nil
}

func (s *OrganizationService) buildOrganization(ctx context.Context, req OrganizationRequest) (*models.Organization, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid organization payload")
	}

	members := make(models.MemberList, 0, len(req.Users))
	seen := map[string]bool{}
	for _, member := range req.Users {
		email := member.NormalizedEmail()
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true
		members = append(members, models.Member{FullName: strings.TrimSpace(member.FullName), Email: email})
	}

	courseIDs := make(models.StringList, 0, len(req.CourseIDs))
	for _, id := range req.CourseIDs {
		if id = strings.TrimSpace(id); id != "" && !courseIDs.Contains(id) {
			courseIDs = append(courseIDs, id)
		}
	}
	if len(courseIDs) > 0 {
		found, err := s.courses.FindByIDs(ctx, courseIDs)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to load courses")
		}
		if len(found) != len(courseIDs) {
			known := map[string]bool{}
			for _, course := range found {
				known[course.ID] = true
			}
			var missing []string
			for _, id := range courseIDs {
				if !known[id] {
					missing = append(missing, id)
				}
			}
			return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "unknown courses"), missing)
		}
	}

	return &models.Organization{Name: strings.TrimSpace(req.Name), Users: members, CourseIDs: courseIDs}, nil
}

// resolveMembers splits a roster into registered users and unknown emails.
func (s *OrganizationService) resolveMembers(ctx context.Context, roster map[string]models.Member) (map[string]models.User, []string, error) {
	emails := make([]string, 0, len(roster))
	for email := range roster {
		emails = append(emails, email)
	}
	sort.Strings(emails)
	users, err := s.users.FindByEmails(ctx, emails)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to resolve members")
	}
	matched := make(map[string]models.User, len(users))
	for _, user := range users {
		matched[strings.ToLower(user.Email)] = user
	}
	unmatched := []string{}
	for _, email := range emails {
		if _, ok := matched[email]; !ok {
			unmatched = append(unmatched, email)
		}
	}
	return matched, unmatched, nil
}

// syncMembership applies the diff between before and after to each affected
// user independently and reports per-user outcomes.
func (s *OrganizationService) syncMembership(ctx context.Context, before *models.Organization, after models.Organization, meta models.RequestMeta) *models.SyncReport {
	diff := DiffOrganization(before, after)
	if diff.Empty() {
		return &models.SyncReport{OrganizationID: after.ID, Succeeded: []string{}, Failed: []models.SyncFailure{}, Unmatched: []string{}, Unchanged: true}
	}

	roster := map[string]models.Member{}
	for _, email := range diff.AddedMembers {
		roster[email] = models.Member{Email: email}
	}
	for _, email := range diff.RemovedMembers {
		roster[email] = models.Member{Email: email}
	}
	if len(diff.AddedCourses) > 0 || len(diff.RemovedCourses) > 0 {
		for _, email := range diff.KeptMembers {
			roster[email] = models.Member{Email: email}
		}
	}

	matched, unmatched, err := s.resolveMembers(ctx, roster)
	if err != nil {
		report := &models.SyncReport{OrganizationID: after.ID, Succeeded: []string{}, Unmatched: []string{}}
		for email := range roster {
			report.Failed = append(report.Failed, models.SyncFailure{Email: email, Reason: err.Error()})
		}
		s.recordSync(ctx, after.ID, report, meta)
		return report
	}

	changes := map[string]*repository.MembershipChange{}
	emailOf := map[string]string{}
	for _, email := range diff.AddedMembers {
		if user, ok := matched[email]; ok {
			changes[user.ID] = &repository.MembershipChange{UserID: user.ID, OrganizationID: after.ID, Join: true, Grant: append([]string(nil), after.CourseIDs...)}
			emailOf[user.ID] = email
		}
	}
	for _, email := range diff.RemovedMembers {
		if user, ok := matched[email]; ok {
			changes[user.ID] = &repository.MembershipChange{UserID: user.ID, OrganizationID: after.ID, Leave: true}
			emailOf[user.ID] = email
		}
	}
	if len(diff.AddedCourses) > 0 || len(diff.RemovedCourses) > 0 {
		for _, email := range diff.KeptMembers {
			if user, ok := matched[email]; ok {
				changes[user.ID] = &repository.MembershipChange{
					UserID:         user.ID,
					OrganizationID: after.ID,
					Grant:          append([]string(nil), diff.AddedCourses...),
					Revoke:         append([]string(nil), diff.RemovedCourses...),
				}
				emailOf[user.ID] = email
			}
		}
	}

	report := s.applyChanges(ctx, after.ID, changes, emailOf)
	addedSet := map[string]bool{}
	for _, email := range diff.AddedMembers {
		addedSet[email] = true
	}
	report.Unmatched = []string{}
	for _, email := range unmatched {
		if addedSet[email] || containsString(diff.KeptMembers, email) {
			report.Unmatched = append(report.Unmatched, email)
		}
	}

	s.announceMembership(after, diff, matched, report)
	s.recordSync(ctx, after.ID, report, meta)
	return report
}

func (s *OrganizationService) applyChanges(ctx context.Context, orgID string, changes map[string]*repository.MembershipChange, emailOf map[string]string) *models.SyncReport {
	report := &models.SyncReport{OrganizationID: orgID, Succeeded: []string{}, Failed: []models.SyncFailure{}, Unmatched: []string{}}

	userIDs := make([]string, 0, len(changes))
	for userID := range changes {
		userIDs = append(userIDs, userID)
	}
	sort.Strings(userIDs)

	touched := make([]string, 0, len(userIDs))
	for _, userID := range userIDs {
		change := changes[userID]
		if change.Leave {
			change.Join = false
			change.Grant = nil
			change.Revoke = nil
		}
		if change.Empty() {
			continue
		}
		label := emailOf[userID]
		if label == "" {
			label = userID
		}
		if err := s.memberships.ApplyMembershipChange(ctx, *change); err != nil {
			s.logger.Warn("failed to apply organization membership change",
				zap.String("organization_id", orgID),
				zap.String("user_id", userID),
				zap.Error(err))
			report.Failed = append(report.Failed, models.SyncFailure{Email: emailOf[userID], UserID: userID, Reason: err.Error()})
			continue
		}
		report.Succeeded = append(report.Succeeded, label)
		touched = append(touched, userID)
	}
	s.cache.ForgetEnrollments(ctx, touched...)
	return report
}

func (s *OrganizationService) announceMembership(org models.Organization, diff OrganizationDiff, matched map[string]models.User, report *models.SyncReport) {
	if s.dispatcher == nil {
		return
	}
	failed := map[string]bool{}
	for _, f := range report.Failed {
		failed[f.UserID] = true
	}
	link := s.frontendURL + "/register"
	for _, email := range diff.AddedMembers {
		user, ok := matched[email]
		if !ok {
			member := org.Users.Emails()[email]
			s.dispatcher.Email(EmailPayload{
				Kind:   mailer.KindInvitation,
				To:     email,
				ToName: member.FullName,
				Args:   map[string]string{"Name": member.FullName, "Organization": org.Name, "Link": link},
			})
			continue
		}
		if failed[user.ID] || len(org.CourseIDs) == 0 {
			continue
		}
		s.dispatcher.Notify(NotificationPayload{
			RecipientID: user.ID,
			Type:        models.NotificationOrganizationGrant,
			Title:       "New courses available",
			Message:     org.Name + " gave you access to " + strconv.Itoa(len(org.CourseIDs)) + " course(s)",
			RelatedID:   org.ID,
		})
	}
}

func (s *OrganizationService) recordSync(ctx context.Context, orgID string, report *models.SyncReport, meta models.RequestMeta) {
	if report.HasFailures() {
		s.metrics.RecordSyncFailures(len(report.Failed))
	}
	if err := s.users.CreateAuditLog(ctx, newAuditLog(meta, models.AuditActionOrgSync, "organizations", orgID, nil,
		map[string]interface{}{"succeeded": len(report.Succeeded), "failed": len(report.Failed), "unmatched": len(report.Unmatched)})); err != nil {
		s.logger.Warn("failed to record organization sync audit log", zap.Error(err))
	}
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
