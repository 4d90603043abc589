package service

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/noah-isme/lms-api/internal/models"
)

// CountContentItems returns the number of lesson and quiz items across all
// sections.
func CountContentItems(content models.CourseContent) int {
	total := 0
	for _, section := range content.Sections {
		total += len(section.Contents)
	}
	return total
}

// ContentItemIDs returns the ids of every item in content.
func ContentItemIDs(content models.CourseContent) map[string]struct{} {
	ids := make(map[string]struct{}, CountContentItems(content))
	for _, section := range content.Sections {
		for _, item := range section.Contents {
			ids[item.ID] = struct{}{}
		}
	}
	return ids
}

// ComputePercentage is round(100 * |completed ∩ items| / items), capped at 100.
// A course without items is always at 0.
func ComputePercentage(completed []string, content models.CourseContent) int {
	total := CountContentItems(content)
	if total == 0 {
		return 0
	}
	valid := ContentItemIDs(content)
	seen := make(map[string]struct{}, len(completed))
	for _, id := range completed {
		if _, ok := valid[id]; ok {
			seen[id] = struct{}{}
		}
	}
	pct := int(math.Round(100 * float64(len(seen)) / float64(total)))
	if pct > 100 {
		pct = 100
	}
	return pct
}

// FilterCompletedLessons keeps the completed ids that still exist in content,
// preserving order and dropping duplicates.
func FilterCompletedLessons(completed []string, content models.CourseContent) []string {
	valid := ContentItemIDs(content)
	out := make([]string, 0, len(completed))
	seen := make(map[string]struct{}, len(completed))
	for _, id := range completed {
		if _, ok := valid[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// CertificateID builds the certificate number for a completion.
func CertificateID(courseID, userID string, at time.Time) string {
	return strings.ToUpper(fmt.Sprintf("CERT-%s-%s-%d", lastN(courseID, 6), lastN(userID, 4), at.UnixMilli()))
}

func lastN(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

// applyProgress recomputes the derived fields of e from its completed lessons.
// It is the only place an enrollment becomes completed: completedAt and the
// certificate are assigned once and kept afterwards. It reports whether a new
// certificate was issued.
func applyProgress(e *models.Enrollment, content models.CourseContent, now time.Time) bool {
	e.Percentage = ComputePercentage(e.CompletedLessons, content)
	if e.Percentage < 100 {
		e.Status = models.EnrollmentStatusInProgress
		e.CompletedAt = nil
		return false
	}

	e.Status = models.EnrollmentStatusCompleted
	if e.CompletedAt == nil {
		at := now.UTC()
		e.CompletedAt = &at
	}
	if e.CertificateID != nil && *e.CertificateID != "" {
		return false
	}
	cert := CertificateID(e.CourseID, e.UserID, now)
	e.CertificateID = &cert
	return true
}

func progressOf(e *models.Enrollment) models.Progress {
	lessons := e.CompletedLessons
	if lessons == nil {
		lessons = []string{}
	}
	return models.Progress{Percentage: e.Percentage, CompletedLessons: lessons, TimeSpent: e.TimeSpent}
}

// contentDuration sums the block durations of every lesson in minutes.
func contentDuration(content models.CourseContent) int {
	total := 0
	for _, section := range content.Sections {
		for _, item := range section.Contents {
			if item.Lesson == nil {
				continue
			}
			for _, block := range item.Lesson.Blocks {
				if block.Duration > 0 {
					total += block.Duration
				}
			}
		}
	}
	return total
}
