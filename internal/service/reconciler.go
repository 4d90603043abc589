package service

import (
	"sort"

	"github.com/noah-isme/lms-api/internal/models"
)

// ReconcileEnrollments merges persisted records with the course grants of the
// user's organizations. Persisted records win over grants; between two
// persisted records for one course an active record beats a saved one and the
// older record wins a tie. Grants that have no persisted record are
// synthesized as in-progress entries with no progress.
func ReconcileEnrollments(records []models.Enrollment, orgs []models.Organization, titles map[string]string) []models.EnrollmentView {
	order := make([]string, 0, len(records))
	chosen := make(map[string]models.Enrollment, len(records))
	for _, record := range records {
		current, ok := chosen[record.CourseID]
		if !ok {
			order = append(order, record.CourseID)
			chosen[record.CourseID] = record
			continue
		}
		if !current.Status.IsActive() && record.Status.IsActive() {
			chosen[record.CourseID] = record
		}
	}

	views := make([]models.EnrollmentView, 0, len(order))
	for _, courseID := range order {
		record := chosen[courseID]
		views = append(views, models.EnrollmentView{
			ID:             record.ID,
			CourseID:       record.CourseID,
			CourseTitle:    titles[record.CourseID],
			OrganizationID: record.OrganizationID,
			Status:         record.Status,
			Progress:       progressOf(&record),
			CompletedAt:    record.CompletedAt,
			CertificateID:  record.CertificateID,
		})
	}

	for _, org := range orgs {
		orgID := org.ID
		for _, courseID := range org.CourseIDs {
			if _, ok := chosen[courseID]; ok {
				continue
			}
			chosen[courseID] = models.Enrollment{CourseID: courseID}
			views = append(views, models.EnrollmentView{
				CourseID:       courseID,
				CourseTitle:    titles[courseID],
				OrganizationID: &orgID,
				Status:         models.EnrollmentStatusInProgress,
				Progress:       models.Progress{CompletedLessons: []string{}},
				Synthesized:    true,
			})
		}
	}
	return views
}

// OrganizationDiff is the difference between two states of an organization.
// Emails are lowercased.
type OrganizationDiff struct {
	AddedMembers   []string
	RemovedMembers []string
	KeptMembers    []string
	AddedCourses   []string
	RemovedCourses []string
	KeptCourses    []string
}

// Empty reports whether nothing changed.
func (d OrganizationDiff) Empty() bool {
	return len(d.AddedMembers) == 0 && len(d.RemovedMembers) == 0 &&
		len(d.AddedCourses) == 0 && len(d.RemovedCourses) == 0
}

// DiffOrganization compares rosters by normalized email and course lists by id.
// A nil before describes a newly created organization.
func DiffOrganization(before *models.Organization, after models.Organization) OrganizationDiff {
	oldMembers := map[string]models.Member{}
	var oldCourses models.StringList
	if before != nil {
		oldMembers = before.Users.Emails()
		oldCourses = before.CourseIDs
	}
	newMembers := after.Users.Emails()

	var diff OrganizationDiff
	diff.AddedMembers, diff.KeptMembers, diff.RemovedMembers = splitSets(keys(oldMembers), keys(newMembers))
	diff.AddedCourses, diff.KeptCourses, diff.RemovedCourses = splitSets(oldCourses, after.CourseIDs)
	return diff
}

func keys(m map[string]models.Member) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// splitSets returns the sorted added, kept and removed elements going from old
// to next.
func splitSets(old, next []string) (added, kept, removed []string) {
	oldSet := make(map[string]struct{}, len(old))
	for _, v := range old {
		oldSet[v] = struct{}{}
	}
	nextSet := make(map[string]struct{}, len(next))
	for _, v := range next {
		nextSet[v] = struct{}{}
	}
	for v := range nextSet {
		if _, ok := oldSet[v]; ok {
			kept = append(kept, v)
		} else {
			added = append(added, v)
		}
	}
	for v := range oldSet {
		if _, ok := nextSet[v]; !ok {
			removed = append(removed, v)
		}
	}
	sort.Strings(added)
	sort.Strings(kept)
	sort.Strings(removed)
	return added, kept, removed
}
