package syncx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mind-engage/mindengage-testsync/internal/coursedb"
	"github.com/mind-engage/mindengage-testsync/internal/exam"
)

// CourseSyncer copies infoCourse.json into the course's single row.
type CourseSyncer struct {
	Store  exam.Store
	Logger *zap.Logger
}

// Sync updates the course row and writes the stored timezone back into
// c.Info. Courses whose info failed to load are left alone.
func (cs CourseSyncer) Sync(ctx context.Context, courseID int64, c *coursedb.Course) error {
	log := cs.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if c.HasErrors() {
		log.Warn("course info has errors, skipping", zap.Int64("course_id", courseID), zap.Error(c.InfoErr))
		return nil
	}
	stored, err := cs.Store.UpdateCourse(ctx, exam.Course{
		ID:              courseID,
		ShortName:       c.Info.Name,
		Title:           c.Info.Title,
		DisplayTimezone: c.Info.Timezone,
		GradingQueue:    gradingQueue(c.Info.Name),
		Options:         c.Info.Options,
	})
	if errors.Is(err, exam.ErrNotFound) {
		return fmt.Errorf("unable to find course with ID %d", courseID)
	}
	if err != nil {
		return fmt.Errorf("update course %d: %w", courseID, err)
	}
	c.Info.Timezone = stored.DisplayTimezone
	return nil
}

// gradingQueue lower-cases the short name and drops its first space.
func gradingQueue(name string) string {
	return strings.Replace(strings.ToLower(name), " ", "", 1)
}

// Pass is one full sync of a course directory: course metadata, then test
// instances. Overlapping passes are refused with ErrBusy.
type Pass struct {
	CourseDir string
	CourseID  int64
	Courses   CourseSyncer
	Instances *Syncer

	mu sync.Mutex
}

func (p *Pass) Run(ctx context.Context) (BatchReport, error) {
	if !p.mu.TryLock() {
		return BatchReport{}, ErrBusy
	}
	defer p.mu.Unlock()

	c, err := coursedb.Load(p.CourseDir)
	if err != nil {
		return BatchReport{}, fmt.Errorf("load course dir: %w", err)
	}
	if err := p.Courses.Sync(ctx, p.CourseID, c); err != nil {
		return BatchReport{}, err
	}
	return p.Instances.Run(ctx, CourseInfo{CourseID: p.CourseID}, c.KnownTestIDs())
}
