// Package coursedb loads course metadata and test definitions from a course
// directory on disk.
//
// Layout:
//
//	<dir>/infoCourse.json           {"name": ..., "title": ..., "timezone": ..., "options": {...}}
//	<dir>/tests/<tid>/info.json     {"type": ..., "title": ...}
package coursedb

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

type Info struct {
	Name     string          `json:"name"`
	Title    string          `json:"title"`
	Timezone string          `json:"timezone,omitempty"`
	Options  json.RawMessage `json:"options,omitempty"`
}

type Test struct {
	TID   string `json:"-"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

// Course is the parsed content of a course directory. InfoErr is set when
// infoCourse.json is missing or invalid; tests still load in that case.
type Course struct {
	Dir     string
	Info    Info
	InfoErr error
	Tests   map[string]Test
}

// HasErrors reports whether the course info could not be used.
func (c *Course) HasErrors() bool { return c.InfoErr != nil }

// KnownTestIDs returns the set of tids present on disk.
func (c *Course) KnownTestIDs() map[string]struct{} {
	out := make(map[string]struct{}, len(c.Tests))
	for tid := range c.Tests {
		out[tid] = struct{}{}
	}
	return out
}

// TIDs returns the known tids sorted.
func (c *Course) TIDs() []string {
	out := make([]string, 0, len(c.Tests))
	for tid := range c.Tests {
		out = append(out, tid)
	}
	sort.Strings(out)
	return out
}

// Load reads dir. Only an unreadable tests directory is an error; a broken
// infoCourse.json is reported through Course.InfoErr.
func Load(dir string) (*Course, error) {
	c := &Course{Dir: dir, Tests: map[string]Test{}}
	c.Info, c.InfoErr = loadInfo(filepath.Join(dir, "infoCourse.json"))

	testsDir := filepath.Join(dir, "tests")
	entries, err := os.ReadDir(testsDir)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tests dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := filepath.Join(testsDir, e.Name(), "info.json")
		buf, err := os.ReadFile(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		var t Test
		if err := json.Unmarshal(buf, &t); err != nil {
			return nil, fmt.Errorf("parse %s: %w", p, err)
		}
		t.TID = e.Name()
		c.Tests[t.TID] = t
	}
	return c, nil
}

func loadInfo(path string) (Info, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Info{}, err
	}
	var info Info
	if err := json.Unmarshal(buf, &info); err != nil {
		return Info{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if info.Name == "" {
		return Info{}, fmt.Errorf("%s: missing name", filepath.Base(path))
	}
	return info, nil
}
