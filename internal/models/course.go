package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// CourseStatus captures the publication workflow of a course.
type CourseStatus string

const (
	CourseStatusDraft     CourseStatus = "draft"
	CourseStatusReview    CourseStatus = "review"
	CourseStatusPublished CourseStatus = "published"
	CourseStatusArchived  CourseStatus = "archived"
)

// MaxCourseCategories bounds how many categories a course may carry.
const MaxCourseCategories = 3

// ContentType distinguishes lesson and quiz items.
type ContentType string

const (
	ContentTypeLesson ContentType = "lesson"
	ContentTypeQuiz   ContentType = "quiz"
)

// LessonBlock is one ordered piece of a lesson (video, text, ...).
type LessonBlock struct {
	Title    string `json:"title"`
	Kind     string `json:"kind"`
	Body     string `json:"body,omitempty"`
	URL      string `json:"url,omitempty"`
	Duration int    `json:"duration"`
}

// LessonContent is the payload of a lesson item.
type LessonContent struct {
	Blocks []LessonBlock `json:"blocks"`
}

// QuizQuestion is a single multiple-choice question.
type QuizQuestion struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   int      `json:"answer"`
}

// QuizContent is the payload of a quiz item.
type QuizContent struct {
	Questions []QuizQuestion `json:"questions"`
}

// ContentItem is a lesson or quiz inside a section. Its ID is what learner
// progress refers to.
type ContentItem struct {
	ID     string         `json:"id"`
	Title  string         `json:"title"`
	Type   ContentType    `json:"type"`
	Lesson *LessonContent `json:"lesson,omitempty"`
	Quiz   *QuizContent   `json:"quiz,omitempty"`
}

// Section groups ordered content items.
type Section struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Contents []ContentItem `json:"contents"`
}

// CourseContent is the full ordered curriculum stored as JSONB.
type CourseContent struct {
	Sections []Section `json:"sections"`
}

// Value marshals content into JSON for storage.
func (c CourseContent) Value() (driver.Value, error) {
	if c.Sections == nil {
		c.Sections = []Section{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal course content: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the content struct.
func (c *CourseContent) Scan(value interface{}) error {
	return scanJSON(value, c, func() { *c = CourseContent{} })
}

// Course represents a course in the catalog.
type Course struct {
	ID             string        `db:"id" json:"id"`
	Title          string        `db:"title" json:"title"`
	Description    string        `db:"description" json:"description"`
	Status         CourseStatus  `db:"status" json:"status"`
	InstructorID   string        `db:"instructor_id" json:"instructor_id"`
	Categories     StringList    `db:"categories" json:"categories"`
	Duration       int           `db:"duration" json:"duration"`
	Rating         float64       `db:"rating" json:"rating"`
	Content        CourseContent `db:"content" json:"content"`
	// ContentVersion guards concurrent curriculum edits.
	ContentVersion int           `db:"content_version" json:"content_version"`
	ReviewNote     *string       `db:"review_note" json:"review_note,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// CourseReview is a learner's rating of a course.
type CourseReview struct {
	ID        string    `db:"id" json:"id"`
	CourseID  string    `db:"course_id" json:"course_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Rating    int       `db:"rating" json:"rating"`
	Comment   string    `db:"comment" json:"comment"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CourseFilter captures catalog listing filters.
type CourseFilter struct {
	Status       *CourseStatus
	InstructorID string
	Category     string
	Search       string
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
