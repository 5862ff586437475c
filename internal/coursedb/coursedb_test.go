package coursedb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "infoCourse.json"),
		`{"name":"TAM 212","title":"Introductory Dynamics","timezone":"America/Chicago","options":{"isExampleCourse":false}}`)
	writeFile(t, filepath.Join(dir, "tests", "exam1", "info.json"), `{"type":"Exam","title":"Midterm 1"}`)
	writeFile(t, filepath.Join(dir, "tests", "hw1", "info.json"), `{"type":"Homework","title":"Vectors"}`)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "tests", "draft"), 0o755)) // no info.json

	c, err := Load(dir)
	require.NoError(t, err)
	assert.False(t, c.HasErrors())
	assert.Equal(t, "TAM 212", c.Info.Name)
	assert.Equal(t, "America/Chicago", c.Info.Timezone)
	assert.JSONEq(t, `{"isExampleCourse":false}`, string(c.Info.Options))
	assert.Equal(t, []string{"exam1", "hw1"}, c.TIDs())
	assert.Equal(t, "Exam", c.Tests["exam1"].Type)

	known := c.KnownTestIDs()
	assert.Contains(t, known, "hw1")
	assert.NotContains(t, known, "draft")
}

func TestLoad_BrokenInfoStillLoadsTests(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "infoCourse.json"), `{"title":"no name"}`)
	writeFile(t, filepath.Join(dir, "tests", "exam1", "info.json"), `{"type":"Exam"}`)

	c, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, c.HasErrors())
	assert.Equal(t, []string{"exam1"}, c.TIDs())
}

func TestLoad_BadTestInfo(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "infoCourse.json"), `{"name":"X"}`)
	writeFile(t, filepath.Join(dir, "tests", "exam1", "info.json"), `{not json`)

	_, err := Load(dir)
	require.Error(t, err)
}

func TestLoad_NoTestsDir(t *testing.T) {
	dir := t.TempDir()
	c, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, c.HasErrors())
	assert.Empty(t, c.KnownTestIDs())
}
