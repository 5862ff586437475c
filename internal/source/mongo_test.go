package source_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mind-engage/mindengage-testsync/internal/source"
)

// failingCursor fails while iterating, as a killed server cursor does.
type failingCursor struct {
	err    error
	closed bool
}

func (c *failingCursor) All(context.Context, interface{}) error { return c.err }
func (c *failingCursor) Close(context.Context) error {
	c.closed = true
	return nil
}

type fakeCollection struct {
	docs    []interface{}
	cur     source.Cursor
	findErr error
	filter  interface{}
}

func (f *fakeCollection) Find(_ context.Context, filter interface{}) (source.Cursor, error) {
	f.filter = filter
	if f.findErr != nil {
		return nil, f.findErr
	}
	if f.cur != nil {
		return f.cur, nil
	}
	cur, err := mongo.NewCursorFromDocuments(f.docs, nil, nil)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func TestReadKnown_FiltersByKnownTests(t *testing.T) {
	d := time.Date(2016, 2, 1, 10, 0, 0, 0, time.UTC)
	g1, g2 := d.Add(time.Hour), d.Add(2*time.Hour)
	coll := &fakeCollection{docs: []interface{}{
		bson.M{"tid": "exam1", "tiid": "ti-1", "uid": "alice@example.com", "date": d, "number": 2, "gradingDates": bson.A{g1, g2}},
		bson.M{"tid": "retired", "tiid": "ti-2", "uid": "bob@example.com", "date": d, "number": 1},
		bson.M{"tid": "hw3", "tiid": "ti-3", "uid": "bob@example.com", "date": d, "number": 1},
	}}

	recs, err := source.NewReader(coll).ReadKnown(context.Background(), map[string]struct{}{
		"exam1": {}, "hw3": {},
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, bson.D{}, coll.filter)

	assert.Equal(t, "exam1", recs[0].TestID)
	assert.Equal(t, "ti-1", recs[0].InstanceID)
	assert.Equal(t, "alice@example.com", recs[0].UserExternalID)
	assert.Equal(t, 2, recs[0].AttemptNumber)
	assert.True(t, recs[0].Date.Equal(d))
	require.Len(t, recs[0].GradingDates, 2)
	assert.True(t, recs[0].GradingDates[1].Equal(g2))
	assert.NoError(t, recs[0].Err)

	assert.Equal(t, "ti-3", recs[1].InstanceID)
	assert.Empty(t, recs[1].GradingDates)
}

func TestReadKnown_MalformedUnknownDocIsDropped(t *testing.T) {
	d := time.Date(2016, 2, 1, 10, 0, 0, 0, time.UTC)
	coll := &fakeCollection{docs: []interface{}{
		bson.M{"tid": "T1", "tiid": "ti-1", "uid": "U1", "date": d, "number": 1},
		bson.M{"tid": "retired", "tiid": "ti-old", "date": "2015-01-01"},
		bson.M{"tiid": "no-tid", "number": "x"},
		bson.M{"tid": 42, "tiid": "numeric-tid"},
	}}

	recs, err := source.NewReader(coll).ReadKnown(context.Background(), map[string]struct{}{"T1": {}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "ti-1", recs[0].InstanceID)
	assert.NoError(t, recs[0].Err)
}

func TestReadKnown_MalformedKnownDocKeepsOthers(t *testing.T) {
	d := time.Date(2016, 2, 1, 10, 0, 0, 0, time.UTC)
	coll := &fakeCollection{docs: []interface{}{
		bson.M{"tid": "T1", "tiid": "ti-1", "uid": "U1", "date": d, "number": 1},
		bson.M{"tid": "T1", "tiid": "ti-2", "uid": "U2", "date": d, "number": "two"},
		bson.M{"tid": "T1", "tiid": "ti-3", "uid": "U3", "date": d, "number": 3},
	}}

	recs, err := source.NewReader(coll).ReadKnown(context.Background(), map[string]struct{}{"T1": {}})
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.NoError(t, recs[0].Err)
	assert.NoError(t, recs[2].Err)
	assert.Equal(t, 3, recs[2].AttemptNumber)

	bad := recs[1]
	require.Error(t, bad.Err)
	assert.Contains(t, bad.Err.Error(), "ti-2")
	assert.Equal(t, "T1", bad.TestID)
	assert.Equal(t, "ti-2", bad.InstanceID)
	assert.Equal(t, "U2", bad.UserExternalID)
}

func TestReadKnown_FindFailureIsFatal(t *testing.T) {
	boom := errors.New("connection refused")
	recs, err := source.NewReader(&fakeCollection{findErr: boom}).
		ReadKnown(context.Background(), map[string]struct{}{"exam1": {}})
	require.ErrorIs(t, err, boom)
	assert.Nil(t, recs)
}

func TestReadKnown_CursorFailureIsFatal(t *testing.T) {
	boom := errors.New("cursor killed")
	cur := &failingCursor{err: boom}
	recs, err := source.NewReader(&fakeCollection{cur: cur}).
		ReadKnown(context.Background(), map[string]struct{}{"exam1": {}})
	require.ErrorIs(t, err, boom)
	assert.Nil(t, recs)
	assert.True(t, cur.closed)
}
