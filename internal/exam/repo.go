package exam

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

// Store is the relational side of the sync. Find* return ErrNotFound when no
// row matches.
type Store interface {
	FindUserByUID(ctx context.Context, uid string) (User, error)
	ListCourseInstanceIDs(ctx context.Context, courseID int64) ([]int64, error)
	// FindTestInScope returns the test with the given tid whose course instance
	// is one of ciIDs. Several matches resolve to the lowest id.
	FindTestInScope(ctx context.Context, tid string, ciIDs []int64) (TestDefinition, error)

	// UpsertTestInstance creates the row for tiid if absent and overwrites its
	// mutable fields either way.
	UpsertTestInstance(ctx context.Context, tiid string, f TestInstanceFields) (TestInstance, error)
	GetTestInstance(ctx context.Context, tiid string) (TestInstance, error)

	// FindOrCreateTestState returns the row keyed by (testInstanceID, open),
	// inserting defaults only when none exists. created reports whether this
	// call inserted it.
	FindOrCreateTestState(ctx context.Context, defaults TestState) (st TestState, created bool, err error)
	ListTestStates(ctx context.Context, testInstanceID int64) ([]TestState, error)

	// UpdateCourse rewrites course metadata and returns the stored row.
	UpdateCourse(ctx context.Context, c Course) (Course, error)
}
