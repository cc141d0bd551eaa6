package service

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/dirvisor/internal/version"
)

func newOwn(dir string, o *fakeOS, pid int, res version.Resolver) *OwnService {
	return NewOwn(OwnOptions{
		StateDir: dir,
		Artifact: "/usr/bin/dirvisor",
		Resolver: res,
		OS:       o,
		PID:      pid,
		Args:     []string{"dirvisor", "run"},
	})
}

func TestOwnStartSingleWinner(t *testing.T) {
	dir := t.TempDir()
	o := newFakeOS()
	o.add(501, 1000, false)
	o.add(502, 2000, false)
	res := &mutableResolver{v: version.Version{"build": "a"}}

	a := newOwn(dir, o, 501, res)
	b := newOwn(dir, o, 502, res)

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i, s := range []*OwnService{a, b} {
		wg.Add(1)
		go func(i int, s *OwnService) {
			defer wg.Done()
			ok, err := s.Start()
			assert.NoError(t, err)
			results[i] = ok
		}(i, s)
	}
	wg.Wait()
	assert.True(t, results[0] != results[1], "exactly one winner, got %v", results)
	assert.FileExists(t, filepath.Join(dir, LockFileName))
}

func TestOwnStartTakesOverStaleRecord(t *testing.T) {
	dir := t.TempDir()
	o := newFakeOS()
	o.add(600, 100, false)
	res := &mutableResolver{v: version.Version{"build": "a"}}

	require.NoError(t, WriteRecord(filepath.Join(dir, OwnRecordName), &Record{PID: 599, StartTime: 50}))
	ok, err := newOwn(dir, o, 600, res).Start()
	require.NoError(t, err)
	assert.True(t, ok)

	rec, err := ReadRecord(filepath.Join(dir, OwnRecordName))
	require.NoError(t, err)
	assert.Equal(t, 600, rec.PID)
	assert.Equal(t, int64(100), rec.StartTime)
	assert.Equal(t, []string{"dirvisor", "run"}, rec.Cmd)

	// restarting as the same pid is allowed
	ok, err = newOwn(dir, o, 600, res).Start()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOwnHasVersionChanged(t *testing.T) {
	dir := t.TempDir()
	o := newFakeOS()
	o.add(700, 1, false)
	res := &mutableResolver{v: version.Version{"build": "a"}}
	own := newOwn(dir, o, 700, res)

	assert.False(t, own.HasVersionChanged(), "no record yet")
	ok, err := own.Start()
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, own.HasVersionChanged())

	res.set(version.Version{"build": "b"})
	assert.True(t, own.HasVersionChanged())

	require.NoError(t, os.WriteFile(filepath.Join(dir, OwnRecordName), []byte("??"), 0o644))
	assert.False(t, own.HasVersionChanged())
}
