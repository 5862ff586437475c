package syncx

import (
	"context"
	"errors"
	"fmt"

	"github.com/mind-engage/mindengage-testsync/internal/exam"
	"github.com/mind-engage/mindengage-testsync/internal/source"
)

// Identity is what a document-store record maps to on the relational side.
type Identity struct {
	User              exam.User
	CourseInstanceIDs []int64
	Test              exam.TestDefinition
}

// Resolver maps a record's external ids onto relational rows.
type Resolver struct {
	Store exam.Store
}

// Resolve looks up the user, then every offering of courseID, then the test
// scoped to those offerings. A test with the same tid under another course is
// never matched.
func (r Resolver) Resolve(ctx context.Context, courseID int64, rec source.Record) (Identity, error) {
	var id Identity

	u, err := r.Store.FindUserByUID(ctx, rec.UserExternalID)
	if errors.Is(err, exam.ErrNotFound) {
		return Identity{}, fmt.Errorf("%w: no user where uid = %s", ErrUnknownUser, rec.UserExternalID)
	}
	if err != nil {
		return Identity{}, fmt.Errorf("find user %s: %w", rec.UserExternalID, err)
	}
	id.User = u

	id.CourseInstanceIDs, err = r.Store.ListCourseInstanceIDs(ctx, courseID)
	if err != nil {
		return Identity{}, fmt.Errorf("list course instances of course %d: %w", courseID, err)
	}

	t, err := r.Store.FindTestInScope(ctx, rec.TestID, id.CourseInstanceIDs)
	if errors.Is(err, exam.ErrNotFound) {
		return Identity{}, fmt.Errorf("%w: no test where tid = %s and course_instance_id in %v",
			ErrUnknownTest, rec.TestID, id.CourseInstanceIDs)
	}
	if err != nil {
		return Identity{}, fmt.Errorf("find test %s: %w", rec.TestID, err)
	}
	id.Test = t
	return id, nil
}

// Upserter writes the test instance row for a resolved record.
type Upserter struct {
	Store exam.Store
}

// Upsert creates the row keyed by the record's tiid if needed and overwrites
// its mutable fields. The grader is recorded as the student themself.
func (u Upserter) Upsert(ctx context.Context, rec source.Record, id Identity) (exam.TestInstance, error) {
	ti, err := u.Store.UpsertTestInstance(ctx, rec.InstanceID, exam.TestInstanceFields{
		Date:       rec.Date,
		Number:     rec.AttemptNumber,
		UserID:     id.User.ID,
		TestID:     id.Test.ID,
		AuthUserID: id.User.ID,
	})
	if err != nil {
		return exam.TestInstance{}, fmt.Errorf("upsert test instance %s: %w", rec.InstanceID, err)
	}
	return ti, nil
}

// ClosingStateDeriver records when a test instance was closed for grading.
type ClosingStateDeriver struct {
	Store exam.Store
}

// Derive creates the closed state at the last grading date. Without grading
// dates it does nothing; closing is then inferred from access logs elsewhere.
// An existing closed state is returned unchanged.
func (d ClosingStateDeriver) Derive(ctx context.Context, ti exam.TestInstance, rec source.Record) (exam.TestState, bool, error) {
	if len(rec.GradingDates) == 0 {
		return exam.TestState{}, false, nil
	}
	st, created, err := d.Store.FindOrCreateTestState(ctx, exam.TestState{
		TestInstanceID: ti.ID,
		Open:           false,
		Date:           rec.GradingDates[len(rec.GradingDates)-1],
		AuthUserID:     ti.AuthUserID,
	})
	if err != nil {
		return exam.TestState{}, false, fmt.Errorf("closing state for %s: %w", rec.InstanceID, err)
	}
	return st, created, nil
}
