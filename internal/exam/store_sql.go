package exam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type SQLStore struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

func (s *SQLStore) FindUserByUID(ctx context.Context, uid string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `SELECT id, uid FROM users WHERE uid=$1`, uid).Scan(&u.ID, &u.UID)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (s *SQLStore) ListCourseInstanceIDs(ctx context.Context, courseID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM course_instances WHERE course_id=$1 ORDER BY id`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLStore) FindTestInScope(ctx context.Context, tid string, ciIDs []int64) (TestDefinition, error) {
	if len(ciIDs) == 0 {
		return TestDefinition{}, ErrNotFound
	}
	args := make([]any, 0, len(ciIDs)+1)
	args = append(args, tid)
	ph := make([]string, len(ciIDs))
	for i, id := range ciIDs {
		ph[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}
	// ORDER BY id pins "first match" when a tid repeats inside the scope.
	q := `SELECT id, tid, course_instance_id FROM tests
		WHERE tid=$1 AND course_instance_id IN (` + strings.Join(ph, ",") + `)
		ORDER BY id LIMIT 1`
	var t TestDefinition
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&t.ID, &t.TID, &t.CourseInstanceID)
	if errors.Is(err, sql.ErrNoRows) {
		return TestDefinition{}, ErrNotFound
	}
	return t, err
}

func (s *SQLStore) UpsertTestInstance(ctx context.Context, tiid string, f TestInstanceFields) (TestInstance, error) {
	ti := TestInstance{
		TIID: tiid, Date: f.Date, Number: f.Number,
		UserID: f.UserID, TestID: f.TestID, AuthUserID: f.AuthUserID,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO test_instances (tiid, date, number, user_id, test_id, auth_user_id)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (tiid) DO UPDATE SET
			date=EXCLUDED.date,
			number=EXCLUDED.number,
			user_id=EXCLUDED.user_id,
			test_id=EXCLUDED.test_id,
			auth_user_id=EXCLUDED.auth_user_id
		RETURNING id`,
		tiid, toMillis(f.Date), f.Number, f.UserID, f.TestID, f.AuthUserID).Scan(&ti.ID)
	if err != nil {
		return TestInstance{}, err
	}
	return ti, nil
}

func (s *SQLStore) GetTestInstance(ctx context.Context, tiid string) (TestInstance, error) {
	var (
		ti                   TestInstance
		date                 sql.NullInt64
		user, test, authUser sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tiid, date, number, user_id, test_id, auth_user_id
		FROM test_instances WHERE tiid=$1`, tiid).
		Scan(&ti.ID, &ti.TIID, &date, &ti.Number, &user, &test, &authUser)
	if errors.Is(err, sql.ErrNoRows) {
		return TestInstance{}, ErrNotFound
	}
	if err != nil {
		return TestInstance{}, err
	}
	ti.Date = fromMillis(date)
	ti.UserID, ti.TestID, ti.AuthUserID = user.Int64, test.Int64, authUser.Int64
	return ti, nil
}

func (s *SQLStore) FindOrCreateTestState(ctx context.Context, d TestState) (TestState, bool, error) {
	// The unique (test_instance_id, open) constraint arbitrates concurrent
	// callers; the loser's insert is a no-op and it reads the winner's row.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO test_states (test_instance_id, open, date, auth_user_id)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (test_instance_id, open) DO NOTHING`,
		d.TestInstanceID, d.Open, d.Date.UnixMilli(), d.AuthUserID)
	if err != nil {
		return TestState{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return TestState{}, false, err
	}

	var (
		st       TestState
		date     int64
		authUser sql.NullInt64
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT id, test_instance_id, open, date, auth_user_id
		FROM test_states WHERE test_instance_id=$1 AND open=$2`,
		d.TestInstanceID, d.Open).
		Scan(&st.ID, &st.TestInstanceID, &st.Open, &date, &authUser)
	if err != nil {
		return TestState{}, false, err
	}
	st.Date = time.UnixMilli(date).UTC()
	st.AuthUserID = authUser.Int64
	return st, n > 0, nil
}

func (s *SQLStore) ListTestStates(ctx context.Context, testInstanceID int64) ([]TestState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, test_instance_id, open, date, auth_user_id
		FROM test_states WHERE test_instance_id=$1 ORDER BY id`, testInstanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TestState
	for rows.Next() {
		var (
			st       TestState
			date     int64
			authUser sql.NullInt64
		)
		if err := rows.Scan(&st.ID, &st.TestInstanceID, &st.Open, &date, &authUser); err != nil {
			return nil, err
		}
		st.Date = time.UnixMilli(date).UTC()
		st.AuthUserID = authUser.Int64
		out = append(out, st)
	}
	return out, rows.Err()
}

// UpdateCourse keeps the stored timezone when c.DisplayTimezone is empty.
func (s *SQLStore) UpdateCourse(ctx context.Context, c Course) (Course, error) {
	opts := string(c.Options)
	if opts == "" {
		opts = "{}"
	}
	tz := sql.NullString{String: c.DisplayTimezone, Valid: c.DisplayTimezone != ""}

	var (
		out       Course
		storedTZ  sql.NullString
		storedOpt string
	)
	err := s.db.QueryRowContext(ctx, `
		UPDATE courses SET
			short_name=$1,
			title=$2,
			display_timezone=COALESCE($3, display_timezone),
			grading_queue=$4,
			options=$5
		WHERE id=$6
		RETURNING id, short_name, title, display_timezone, grading_queue, options`,
		c.ShortName, c.Title, tz, c.GradingQueue, opts, c.ID).
		Scan(&out.ID, &out.ShortName, &out.Title, &storedTZ, &out.GradingQueue, &storedOpt)
	if errors.Is(err, sql.ErrNoRows) {
		return Course{}, ErrNotFound
	}
	if err != nil {
		return Course{}, err
	}
	out.DisplayTimezone = storedTZ.String
	out.Options = []byte(storedOpt)
	return out, nil
}

func toMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}
