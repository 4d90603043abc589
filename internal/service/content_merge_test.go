package service

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return prefix + strconv.Itoa(n)
	}
}

func lesson(id, title string) models.ContentItem {
	return models.ContentItem{ID: id, Title: title, Type: models.ContentTypeLesson, Lesson: &models.LessonContent{}}
}

func TestMergeCourseContentKeepsExplicitIDs(t *testing.T) {
	existing := models.CourseContent{Sections: []models.Section{{ID: "s1", Title: "Basics", Contents: []models.ContentItem{
		lesson("a", "Intro"), lesson("b", "Setup"),
	}}}}
	draft := models.CourseContent{Sections: []models.Section{{ID: "s1", Title: "Renamed", Contents: []models.ContentItem{
		lesson("b", "Setup v2"), lesson("a", "Intro"),
	}}}}

	merged := MergeCourseContent(existing, draft, sequentialIDs("new-"))
	assert.Equal(t, "s1", merged.Sections[0].ID)
	assert.Equal(t, "Renamed", merged.Sections[0].Title)
	assert.Equal(t, "b", merged.Sections[0].Contents[0].ID)
	assert.Equal(t, "a", merged.Sections[0].Contents[1].ID)
}

func TestMergeCourseContentMatchesByTitle(t *testing.T) {
	existing := models.CourseContent{Sections: []models.Section{{ID: "s1", Title: "Basics", Contents: []models.ContentItem{
		lesson("a", "Intro"), lesson("b", "Setup"),
	}}}}
	draft := models.CourseContent{Sections: []models.Section{
		{Title: "Basics", Contents: []models.ContentItem{lesson("", "Intro"), lesson("", "Brand new")}},
		{Title: "Advanced", Contents: []models.ContentItem{lesson("", "Setup")}},
	}}

	merged := MergeCourseContent(existing, draft, sequentialIDs("new-"))
	assert.Equal(t, "s1", merged.Sections[0].ID)
	assert.Equal(t, "a", merged.Sections[0].Contents[0].ID)
	assert.Equal(t, "new-1", merged.Sections[0].Contents[1].ID)
	assert.Equal(t, "new-2", merged.Sections[1].ID)
	assert.Equal(t, "b", merged.Sections[1].Contents[0].ID)
}

func TestMergeCourseContentNeverDuplicatesIDs(t *testing.T) {
	existing := models.CourseContent{Sections: []models.Section{{ID: "s1", Title: "Basics", Contents: []models.ContentItem{
		lesson("a", "Intro"),
	}}}}
	// "Intro" is claimed explicitly by the second entry; the first must not
	// inherit it by title, and an unknown explicit id is replaced.
	draft := models.CourseContent{Sections: []models.Section{{ID: "s1", Title: "Basics", Contents: []models.ContentItem{
		lesson("", "Intro"), lesson("a", "Intro"), lesson("ghost", "Ghost"),
	}}}}

	ids := []string{"a", "x1", "x2"}
	merged := MergeCourseContent(existing, draft, sequentialIDs("x"))
	got := []string{}
	for _, item := range merged.Sections[0].Contents {
		got = append(got, item.ID)
	}
	assert.ElementsMatch(t, ids, got)
	assert.Equal(t, "a", got[1])
}

func TestMergeCourseContentIsStableOnResubmit(t *testing.T) {
	draft := models.CourseContent{Sections: []models.Section{{Title: "Basics", Contents: []models.ContentItem{
		lesson("", "Intro"), lesson("", "Setup"),
	}}}}
	first := MergeCourseContent(models.CourseContent{}, draft, nil)
	second := MergeCourseContent(first, first, nil)
	assert.Equal(t, first, second)
}

func TestMergeCourseContentKeepsRepeatedTitlesInOrder(t *testing.T) {
	quiz := func(id string) models.ContentItem {
		return models.ContentItem{ID: id, Title: "Quiz", Type: models.ContentTypeQuiz, Quiz: &models.QuizContent{}}
	}
	existing := models.CourseContent{Sections: []models.Section{{ID: "s1", Title: "Basics", Contents: []models.ContentItem{
		quiz("a"), quiz("b"),
	}}}}
	draft := models.CourseContent{Sections: []models.Section{{Title: "Basics", Contents: []models.ContentItem{
		quiz(""), quiz(""), quiz(""),
	}}}}

	merged := MergeCourseContent(existing, draft, sequentialIDs("new-"))
	require.Len(t, merged.Sections[0].Contents, 3)
	assert.Equal(t, "a", merged.Sections[0].Contents[0].ID)
	assert.Equal(t, "b", merged.Sections[0].Contents[1].ID)
	assert.Equal(t, "new-1", merged.Sections[0].Contents[2].ID)

	// b claimed explicitly leaves a for the untagged entry
	draft.Sections[0].Contents = []models.ContentItem{quiz(""), quiz("b")}
	merged = MergeCourseContent(existing, draft, sequentialIDs("new-"))
	assert.Equal(t, "a", merged.Sections[0].Contents[0].ID)
	assert.Equal(t, "b", merged.Sections[0].Contents[1].ID)
}

func TestValidateContentDraftReportsEveryProblem(t *testing.T) {
	err := ValidateContentDraft(models.CourseContent{Sections: []models.Section{
		{Title: "", Contents: nil},
		{Title: "Ok", Contents: []models.ContentItem{
			{Title: "", Type: models.ContentTypeLesson, Lesson: &models.LessonContent{}},
			{Title: "Quiz", Type: models.ContentTypeQuiz},
			{Title: "Odd", Type: "video"},
		}},
	}})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrInvalidContent)

	details, ok := appErrors.FromError(err).Details.([]string)
	require.True(t, ok)
	assert.Len(t, details, 5)
}

func TestValidateCourseCategories(t *testing.T) {
	known := map[string]struct{}{"a": {}, "b": {}, "c": {}, "d": {}}

	ids, err := ValidateCourseCategories([]string{"a", " b ", "a", ""}, known)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	_, err = ValidateCourseCategories([]string{"a", "b", "c", "d"}, known)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = ValidateCourseCategories([]string{"z"}, known)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}
