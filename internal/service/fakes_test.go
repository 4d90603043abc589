package service

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/repository"
)

type recordingDispatcher struct {
	mu            sync.Mutex
	notifications []NotificationPayload
	emails        []EmailPayload
}

func (d *recordingDispatcher) Notify(p NotificationPayload) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifications = append(d.notifications, p)
}

func (d *recordingDispatcher) Email(p EmailPayload) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emails = append(d.emails, p)
}

func (d *recordingDispatcher) notificationsOf(t models.NotificationType) []NotificationPayload {
	var out []NotificationPayload
	for _, n := range d.notifications {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

type fakeUsers struct {
	byID   map[string]*models.User
	audits []*models.AuditLog
}

func newFakeUsers(users ...*models.User) *fakeUsers {
	f := &fakeUsers{byID: map[string]*models.User{}}
	for _, u := range users {
		if u.Status == "" {
			u.Status = models.UserStatusActive
		}
		f.byID[u.ID] = u
	}
	return f
}

func (f *fakeUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *u
	return &clone, nil
}

func (f *fakeUsers) FindByEmails(ctx context.Context, emails []string) ([]models.User, error) {
	want := map[string]bool{}
	for _, e := range emails {
		want[e] = true
	}
	var out []models.User
	for _, u := range f.byID {
		if want[strings.ToLower(u.Email)] {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (f *fakeUsers) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	var out []models.User
	for _, u := range f.byID {
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (f *fakeUsers) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	f.audits = append(f.audits, log)
	return nil
}

type fakeCourses struct {
	byID    map[string]*models.Course
	reviews map[string][]models.CourseReview
	// concurrentEdits is applied before the next content writes, one per
	// write, to simulate another editor saving first.
	concurrentEdits []models.CourseContent
}

func newFakeCourses(courses ...*models.Course) *fakeCourses {
	f := &fakeCourses{byID: map[string]*models.Course{}, reviews: map[string][]models.CourseReview{}}
	for _, c := range courses {
		f.byID[c.ID] = c
	}
	return f
}

func (f *fakeCourses) FindByID(ctx context.Context, id string) (*models.Course, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *c
	return &clone, nil
}

func (f *fakeCourses) FindByIDs(ctx context.Context, ids []string) ([]models.Course, error) {
	var out []models.Course
	for _, id := range ids {
		if c, ok := f.byID[id]; ok {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeCourses) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	var out []models.Course
	for _, c := range f.byID {
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (f *fakeCourses) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	clone := *course
	f.byID[course.ID] = &clone
	return nil
}

func (f *fakeCourses) Update(ctx context.Context, course *models.Course) error {
	if _, ok := f.byID[course.ID]; !ok {
		return sql.ErrNoRows
	}
	clone := *course
	f.byID[course.ID] = &clone
	return nil
}

func (f *fakeCourses) UpdateContent(ctx context.Context, id string, version int, content models.CourseContent, duration int) error {
	c, ok := f.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	if len(f.concurrentEdits) > 0 {
		c.Content = f.concurrentEdits[0]
		c.ContentVersion++
		f.concurrentEdits = f.concurrentEdits[1:]
	}
	if c.ContentVersion != version {
		return repository.ErrVersionConflict
	}
	c.Content = content
	c.Duration = duration
	c.ContentVersion++
	return nil
}

func (f *fakeCourses) HasReview(ctx context.Context, courseID, userID string) (bool, error) {
	for _, r := range f.reviews[courseID] {
		if r.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCourses) CreateReview(ctx context.Context, review *models.CourseReview) (float64, error) {
	f.reviews[review.CourseID] = append(f.reviews[review.CourseID], *review)
	total := 0
	for _, r := range f.reviews[review.CourseID] {
		total += r.Rating
	}
	avg := float64(total) / float64(len(f.reviews[review.CourseID]))
	if c, ok := f.byID[review.CourseID]; ok {
		c.Rating = avg
	}
	return avg, nil
}

func (f *fakeCourses) ListReviews(ctx context.Context, courseID string) ([]models.CourseReview, error) {
	return f.reviews[courseID], nil
}

// fakeEnrollments mirrors the user_courses, completed_lessons and
// user_organizations tables.
type fakeEnrollments struct {
	mu          sync.Mutex
	records     map[string]*models.Enrollment
	lessons     map[string]map[string]bool
	memberships map[string]map[string]bool

	applyErr       map[string]error
	conflicts      int
	applied        []repository.MembershipChange
	progressWrites int
}

func newFakeEnrollments() *fakeEnrollments {
	return &fakeEnrollments{
		records:     map[string]*models.Enrollment{},
		lessons:     map[string]map[string]bool{},
		memberships: map[string]map[string]bool{},
		applyErr:    map[string]error{},
	}
}

func enrollmentKey(userID, courseID string) string { return userID + "|" + courseID }

func (f *fakeEnrollments) snapshot(e *models.Enrollment) models.Enrollment {
	clone := *e
	ids := make([]string, 0, len(f.lessons[e.ID]))
	for id := range f.lessons[e.ID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	clone.CompletedLessons = ids
	return clone
}

func (f *fakeEnrollments) get(userID, courseID string) *models.Enrollment {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.records[enrollmentKey(userID, courseID)]
	if !ok {
		return nil
	}
	snap := f.snapshot(e)
	return &snap
}

func (f *fakeEnrollments) FindByUserAndCourse(ctx context.Context, userID, courseID string) (*models.Enrollment, error) {
	if e := f.get(userID, courseID); e != nil {
		return e, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeEnrollments) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Enrollment
	for _, e := range f.records {
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if filter.CourseID != "" && e.CourseID != filter.CourseID {
			continue
		}
		if filter.OrganizationID != "" && !e.IsOrganizationGrant(filter.OrganizationID) {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, f.snapshot(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeEnrollments) ListActiveByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error) {
	all, _ := f.List(ctx, models.EnrollmentFilter{CourseID: courseID})
	var out []models.Enrollment
	for _, e := range all {
		if e.Status != models.EnrollmentStatusSaved {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEnrollments) ListForUsers(ctx context.Context, userIDs, courseIDs []string) ([]models.Enrollment, error) {
	users := map[string]bool{}
	for _, id := range userIDs {
		users[id] = true
	}
	courses := map[string]bool{}
	for _, id := range courseIDs {
		courses[id] = true
	}
	all, _ := f.List(ctx, models.EnrollmentFilter{})
	var out []models.Enrollment
	for _, e := range all {
		if users[e.UserID] && courses[e.CourseID] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEnrollments) Create(ctx context.Context, e *models.Enrollment) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := enrollmentKey(e.UserID, e.CourseID)
	if _, ok := f.records[key]; ok {
		return false, nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Version = 1
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	clone := *e
	clone.CompletedLessons = nil
	f.records[key] = &clone
	return true, nil
}

func (f *fakeEnrollments) find(id string) *models.Enrollment {
	for _, e := range f.records {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (f *fakeEnrollments) AddCompletedLesson(ctx context.Context, enrollmentID, lessonID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lessons[enrollmentID] == nil {
		f.lessons[enrollmentID] = map[string]bool{}
	}
	if f.lessons[enrollmentID][lessonID] {
		return false, nil
	}
	f.lessons[enrollmentID][lessonID] = true
	return true, nil
}

func (f *fakeEnrollments) PruneCompletedLessons(ctx context.Context, enrollmentID string, keep []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	allowed := map[string]bool{}
	for _, id := range keep {
		allowed[id] = true
	}
	var removed int64
	for id := range f.lessons[enrollmentID] {
		if !allowed[id] {
			delete(f.lessons[enrollmentID], id)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeEnrollments) UpdateProgress(ctx context.Context, e *models.Enrollment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := f.find(e.ID)
	if stored == nil {
		return sql.ErrNoRows
	}
	if f.conflicts > 0 {
		f.conflicts--
		stored.Version++
		return repository.ErrVersionConflict
	}
	if stored.Version != e.Version {
		return repository.ErrVersionConflict
	}
	if e.CertificateID != nil {
		for _, other := range f.records {
			if other.ID != e.ID && other.CertificateID != nil && *other.CertificateID == *e.CertificateID {
				return repository.ErrDuplicate
			}
		}
	}
	stored.Status = e.Status
	stored.Percentage = e.Percentage
	stored.CompletedAt = e.CompletedAt
	stored.CertificateID = e.CertificateID
	stored.Version++
	e.Version = stored.Version
	f.progressWrites++
	return nil
}

func (f *fakeEnrollments) AddTimeSpent(ctx context.Context, id string, seconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := f.find(id)
	if stored == nil {
		return sql.ErrNoRows
	}
	stored.TimeSpent += seconds
	return nil
}

func (f *fakeEnrollments) UpdateRating(ctx context.Context, id string, rating int, comment string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := f.find(id)
	if stored == nil {
		return sql.ErrNoRows
	}
	stored.Rating = &rating
	stored.Comment = &comment
	return nil
}

func (f *fakeEnrollments) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, e := range f.records {
		if e.ID == id {
			delete(f.records, key)
			delete(f.lessons, id)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeEnrollments) ListOrganizationIDs(ctx context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for orgID := range f.memberships[userID] {
		out = append(out, orgID)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeEnrollments) ListMemberIDs(ctx context.Context, orgID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for userID, orgs := range f.memberships {
		if orgs[orgID] {
			out = append(out, userID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeEnrollments) ApplyMembershipChange(ctx context.Context, change repository.MembershipChange) error {
	if err := f.applyErr[change.UserID]; err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, change)
	if change.Leave {
		for key, e := range f.records {
			if e.UserID == change.UserID && e.IsOrganizationGrant(change.OrganizationID) {
				delete(f.records, key)
			}
		}
		delete(f.memberships[change.UserID], change.OrganizationID)
		return nil
	}
	if change.Join {
		if f.memberships[change.UserID] == nil {
			f.memberships[change.UserID] = map[string]bool{}
		}
		f.memberships[change.UserID][change.OrganizationID] = true
	}
	for _, courseID := range change.Grant {
		key := enrollmentKey(change.UserID, courseID)
		if _, ok := f.records[key]; ok {
			continue
		}
		orgID := change.OrganizationID
		f.records[key] = &models.Enrollment{
			ID:             uuid.NewString(),
			UserID:         change.UserID,
			CourseID:       courseID,
			OrganizationID: &orgID,
			Status:         models.EnrollmentStatusInProgress,
			Version:        1,
		}
	}
	for _, courseID := range change.Revoke {
		key := enrollmentKey(change.UserID, courseID)
		if e, ok := f.records[key]; ok && e.IsOrganizationGrant(change.OrganizationID) {
			delete(f.records, key)
		}
	}
	return nil
}

type fakeOrganizations struct {
	byID    map[string]*models.Organization
	deleted []string
}

func newFakeOrganizations(orgs ...*models.Organization) *fakeOrganizations {
	f := &fakeOrganizations{byID: map[string]*models.Organization{}}
	for _, o := range orgs {
		f.byID[o.ID] = o
	}
	return f
}

func (f *fakeOrganizations) FindByID(ctx context.Context, id string) (*models.Organization, error) {
	o, ok := f.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *o
	return &clone, nil
}

func (f *fakeOrganizations) FindByIDs(ctx context.Context, ids []string) ([]models.Organization, error) {
	var out []models.Organization
	for _, id := range ids {
		if o, ok := f.byID[id]; ok {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrganizations) FindByMemberEmail(ctx context.Context, email string) ([]models.Organization, error) {
	var out []models.Organization
	for _, o := range f.byID {
		if _, ok := o.Users.Emails()[strings.ToLower(email)]; ok {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrganizations) List(ctx context.Context, filter models.OrganizationFilter) ([]models.Organization, int, error) {
	var out []models.Organization
	for _, o := range f.byID {
		out = append(out, *o)
	}
	return out, len(out), nil
}

func (f *fakeOrganizations) Create(ctx context.Context, org *models.Organization) error {
	if org.ID == "" {
		org.ID = uuid.NewString()
	}
	clone := *org
	f.byID[org.ID] = &clone
	return nil
}

func (f *fakeOrganizations) Update(ctx context.Context, org *models.Organization) error {
	clone := *org
	f.byID[org.ID] = &clone
	return nil
}

func (f *fakeOrganizations) Delete(ctx context.Context, id string) error {
	delete(f.byID, id)
	f.deleted = append(f.deleted, id)
	return nil
}

// lessonCourse builds a published course with one section per group of
// lesson ids.
func lessonCourse(id string, lessonIDs ...string) *models.Course {
	items := make([]models.ContentItem, 0, len(lessonIDs))
	for _, lessonID := range lessonIDs {
		items = append(items, models.ContentItem{
			ID:     lessonID,
			Title:  "Lesson " + lessonID,
			Type:   models.ContentTypeLesson,
			Lesson: &models.LessonContent{Blocks: []models.LessonBlock{{Title: "Intro", Kind: "text", Duration: 5}}},
		})
	}
	return &models.Course{
		ID:           id,
		Title:        "Course " + id,
		Status:       models.CourseStatusPublished,
		InstructorID: "trainer-1",
		Content:      models.CourseContent{Sections: []models.Section{{ID: "s1", Title: "Basics", Contents: items}}},
	}
}
