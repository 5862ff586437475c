package exam

import (
	"encoding/json"
	"time"
)

type User struct {
	ID  int64  `json:"id"`
	UID string `json:"uid"` // external user id
}

// CourseInstance is one offering (semester) of a course.
type CourseInstance struct {
	ID         int64 `json:"id"`
	CourseID   int64 `json:"course_id"`
	SemesterID int64 `json:"semester_id"`
}

// TestDefinition belongs to exactly one course instance.
type TestDefinition struct {
	ID               int64  `json:"id"`
	TID              string `json:"tid"`
	CourseInstanceID int64  `json:"course_instance_id"`
}

// TestInstance is one student's attempt at a test, keyed by TIID.
type TestInstance struct {
	ID         int64     `json:"id"`
	TIID       string    `json:"tiid"`
	Date       time.Time `json:"date"`
	Number     int       `json:"number"`
	UserID     int64     `json:"user_id"`
	TestID     int64     `json:"test_id"`
	AuthUserID int64     `json:"auth_user_id"`
}

// TestInstanceFields are the columns overwritten on every sync pass.
type TestInstanceFields struct {
	Date       time.Time
	Number     int
	UserID     int64
	TestID     int64
	AuthUserID int64
}

type TestState struct {
	ID             int64     `json:"id"`
	TestInstanceID int64     `json:"test_instance_id"`
	Open           bool      `json:"open"`
	Date           time.Time `json:"date"`
	AuthUserID     int64     `json:"auth_user_id"`
}

type Course struct {
	ID              int64           `json:"id"`
	ShortName       string          `json:"short_name"`
	Title           string          `json:"title"`
	DisplayTimezone string          `json:"display_timezone,omitempty"`
	GradingQueue    string          `json:"grading_queue"`
	Options         json.RawMessage `json:"options,omitempty"`
}
