package service

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

// ValidateContentDraft checks the structure of an edited curriculum. All
// problems are reported together in the error details.
func ValidateContentDraft(draft models.CourseContent) error {
	var problems []string
	for i, section := range draft.Sections {
		path := fmt.Sprintf("sections[%d]", i)
		if strings.TrimSpace(section.Title) == "" {
			problems = append(problems, path+": title is required")
		}
		if section.Contents == nil {
			problems = append(problems, path+": contents is required")
		}
		for j, item := range section.Contents {
			itemPath := fmt.Sprintf("%s.contents[%d]", path, j)
			if strings.TrimSpace(item.Title) == "" {
				problems = append(problems, itemPath+": title is required")
			}
			switch item.Type {
			case models.ContentTypeLesson:
				if item.Lesson == nil {
					problems = append(problems, itemPath+": lesson content is required")
				}
			case models.ContentTypeQuiz:
				if item.Quiz == nil {
					problems = append(problems, itemPath+": quiz content is required")
				}
			case "":
				problems = append(problems, itemPath+": type is required")
			default:
				problems = append(problems, fmt.Sprintf("%s: unknown type %q", itemPath, item.Type))
			}
		}
	}
	if len(problems) > 0 {
		return appErrors.WithDetails(appErrors.ErrInvalidContent, problems)
	}
	return nil
}

// idAssigner hands out ids for draft entries. Explicit ids naming an existing
// entry win; otherwise an entry inherits the id of an existing entry with the
// same title, in order of appearance, so the n-th unclaimed draft entry titled
// "Quiz" gets the n-th unclaimed existing "Quiz" id. Every existing id is
// handed out at most once and fresh ids never collide with existing ones.
type idAssigner struct {
	existing map[string]struct{}
	byTitle  map[string][]string
	claimed  map[string]struct{}
	newID    func() string
}

func newIDAssigner(newID func() string) *idAssigner {
	if newID == nil {
		newID = uuid.NewString
	}
	return &idAssigner{
		existing: map[string]struct{}{},
		byTitle:  map[string][]string{},
		claimed:  map[string]struct{}{},
		newID:    newID,
	}
}

func (a *idAssigner) add(id, title string) {
	if id == "" {
		return
	}
	a.existing[id] = struct{}{}
	key := strings.TrimSpace(title)
	a.byTitle[key] = append(a.byTitle[key], id)
}

func (a *idAssigner) claimExplicit(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := a.existing[id]; !ok {
		return false
	}
	if _, taken := a.claimed[id]; taken {
		return false
	}
	a.claimed[id] = struct{}{}
	return true
}

func (a *idAssigner) byTitleOrFresh(title string) string {
	for _, id := range a.byTitle[strings.TrimSpace(title)] {
		if _, taken := a.claimed[id]; !taken {
			a.claimed[id] = struct{}{}
			return id
		}
	}
	for {
		id := a.newID()
		_, exists := a.existing[id]
		_, taken := a.claimed[id]
		if !exists && !taken {
			a.claimed[id] = struct{}{}
			return id
		}
	}
}

// MergeCourseContent assigns ids to a validated draft so that learner
// progress keeps pointing at unchanged items. newID may be nil.
func MergeCourseContent(existing, draft models.CourseContent, newID func() string) models.CourseContent {
	sections := newIDAssigner(newID)
	items := newIDAssigner(newID)
	for _, section := range existing.Sections {
		sections.add(section.ID, section.Title)
		for _, item := range section.Contents {
			items.add(item.ID, item.Title)
		}
	}

	merged := models.CourseContent{Sections: make([]models.Section, len(draft.Sections))}
	keptSection := make([]bool, len(draft.Sections))
	keptItem := make([][]bool, len(draft.Sections))

	for i, section := range draft.Sections {
		contents := make([]models.ContentItem, len(section.Contents))
		copy(contents, section.Contents)
		merged.Sections[i] = models.Section{ID: section.ID, Title: section.Title, Contents: contents}
		keptSection[i] = sections.claimExplicit(section.ID)
		keptItem[i] = make([]bool, len(contents))
		for j := range contents {
			keptItem[i][j] = items.claimExplicit(contents[j].ID)
		}
	}

	for i := range merged.Sections {
		if !keptSection[i] {
			merged.Sections[i].ID = sections.byTitleOrFresh(merged.Sections[i].Title)
		}
		for j := range merged.Sections[i].Contents {
			if !keptItem[i][j] {
				merged.Sections[i].Contents[j].ID = items.byTitleOrFresh(merged.Sections[i].Contents[j].Title)
			}
		}
	}
	return merged
}
