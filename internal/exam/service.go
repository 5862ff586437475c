package exam

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a Store kept in maps. Every method holds the lock for its
// whole body, which gives it the same atomic find-or-create semantics as the
// SQL store's conflict clauses.
type MemoryStore struct {
	mu        sync.RWMutex
	seq       int64
	users     map[string]User         // uid -> user
	instances map[int64][]int64       // course id -> course instance ids
	tests     []TestDefinition        // insertion order
	tis       map[string]TestInstance // tiid -> row
	states    map[stateKey]TestState  // (ti id, open) -> row
	courses   map[int64]Course        // id -> course
	calls     int                     // number of Store method calls
}

type stateKey struct {
	ti   int64
	open bool
}

func NewInMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     map[string]User{},
		instances: map[int64][]int64{},
		tis:       map[string]TestInstance{},
		states:    map[stateKey]TestState{},
		courses:   map[int64]Course{},
	}
}

func (m *MemoryStore) nextID() int64 {
	m.seq++
	return m.seq
}

// AddUser seeds a user and returns it.
func (m *MemoryStore) AddUser(uid string) User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := User{ID: m.nextID(), UID: uid}
	m.users[uid] = u
	return u
}

// AddCourseInstance seeds an offering of courseID.
func (m *MemoryStore) AddCourseInstance(courseID, semesterID int64) CourseInstance {
	m.mu.Lock()
	defer m.mu.Unlock()
	ci := CourseInstance{ID: m.nextID(), CourseID: courseID, SemesterID: semesterID}
	m.instances[courseID] = append(m.instances[courseID], ci.ID)
	return ci
}

// AddTest seeds a test definition under a course instance.
func (m *MemoryStore) AddTest(tid string, courseInstanceID int64) TestDefinition {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := TestDefinition{ID: m.nextID(), TID: tid, CourseInstanceID: courseInstanceID}
	m.tests = append(m.tests, t)
	return t
}

// AddCourse seeds a course row.
func (m *MemoryStore) AddCourse(c Course) Course {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == 0 {
		c.ID = m.nextID()
	}
	m.courses[c.ID] = c
	return c
}

// Calls reports how many Store methods have been invoked.
func (m *MemoryStore) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// TestInstances returns every stored test instance ordered by id.
func (m *MemoryStore) TestInstances() []TestInstance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TestInstance, 0, len(m.tis))
	for _, ti := range m.tis {
		out = append(out, ti)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) FindUserByUID(_ context.Context, uid string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	u, ok := m.users[uid]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *MemoryStore) ListCourseInstanceIDs(_ context.Context, courseID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return append([]int64(nil), m.instances[courseID]...), nil
}

func (m *MemoryStore) FindTestInScope(_ context.Context, tid string, ciIDs []int64) (TestDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	in := make(map[int64]bool, len(ciIDs))
	for _, id := range ciIDs {
		in[id] = true
	}
	for _, t := range m.tests {
		if t.TID == tid && in[t.CourseInstanceID] {
			return t, nil
		}
	}
	return TestDefinition{}, ErrNotFound
}

func (m *MemoryStore) UpsertTestInstance(_ context.Context, tiid string, f TestInstanceFields) (TestInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	ti, ok := m.tis[tiid]
	if !ok {
		ti = TestInstance{ID: m.nextID(), TIID: tiid}
	}
	ti.Date, ti.Number = f.Date, f.Number
	ti.UserID, ti.TestID, ti.AuthUserID = f.UserID, f.TestID, f.AuthUserID
	m.tis[tiid] = ti
	return ti, nil
}

func (m *MemoryStore) GetTestInstance(_ context.Context, tiid string) (TestInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	ti, ok := m.tis[tiid]
	if !ok {
		return TestInstance{}, ErrNotFound
	}
	return ti, nil
}

func (m *MemoryStore) FindOrCreateTestState(_ context.Context, d TestState) (TestState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	k := stateKey{ti: d.TestInstanceID, open: d.Open}
	if st, ok := m.states[k]; ok {
		return st, false, nil
	}
	d.ID = m.nextID()
	m.states[k] = d
	return d, true, nil
}

func (m *MemoryStore) ListTestStates(_ context.Context, testInstanceID int64) ([]TestState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	var out []TestState
	for k, st := range m.states {
		if k.ti == testInstanceID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) UpdateCourse(_ context.Context, c Course) (Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	old, ok := m.courses[c.ID]
	if !ok {
		return Course{}, ErrNotFound
	}
	if c.DisplayTimezone == "" {
		c.DisplayTimezone = old.DisplayTimezone
	}
	m.courses[c.ID] = c
	return c, nil
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*SQLStore)(nil)
