package vhost

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFiles_OpenReleaseRetain(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.log")
	b := filepath.Join(dir, "b.log")

	logs := NewLogFiles()
	t.Cleanup(func() { _ = logs.Close() })

	opened, err := logs.Open([]string{a, b})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, b}, opened)

	// 已打开的路径不会重复打开
	opened, err = logs.Open([]string{a})
	require.NoError(t, err)
	assert.Empty(t, opened)

	logs.Write(a, []byte("line\n"))
	data, err := os.ReadFile(a)
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(data))

	logs.Retain([]string{a})
	assert.Equal(t, []string{a}, logs.Paths())

	logs.Release([]string{a})
	assert.Empty(t, logs.Paths())

	// 未打开的路径写入被丢弃
	logs.Write(b, []byte("dropped\n"))
}

func TestLogFiles_OpenFailureRollsBack(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.log")
	bad := filepath.Join(dir, "missing", "dir", "bad.log")

	logs := NewLogFiles()
	_, err := logs.Open([]string{good, bad})
	require.Error(t, err)
	assert.Empty(t, logs.Paths())
}

func TestCheckWritable(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, CheckWritable(filepath.Join(dir, "error.log")))
	assert.Error(t, CheckWritable(filepath.Join(dir, "nope", "error.log")))
}

func TestLogFiles_ReleaseRemovesCreatedFiles(t *testing.T) {
	dir := t.TempDir()
	fresh := filepath.Join(dir, "fresh.log")
	existing := filepath.Join(dir, "existing.log")
	require.NoError(t, os.WriteFile(existing, []byte("old\n"), 0o644))

	logs := NewLogFiles()
	opened, err := logs.Open([]string{fresh, existing})
	require.NoError(t, err)
	require.FileExists(t, fresh)

	logs.Release(opened)
	assert.NoFileExists(t, fresh)
	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "old\n", string(data))
}

func TestLogFiles_RetainKeepsCreatedFiles(t *testing.T) {
	dir := t.TempDir()
	fresh := filepath.Join(dir, "fresh.log")

	logs := NewLogFiles()
	t.Cleanup(func() { _ = logs.Close() })
	_, err := logs.Open([]string{fresh})
	require.NoError(t, err)

	// 发布后文件属于活动配置，之后的 Release 只关闭不删除
	logs.Retain([]string{fresh})
	logs.Release([]string{fresh})
	assert.FileExists(t, fresh)
}

func TestLogFiles_OpenFailureRemovesCreatedFiles(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.log")
	bad := filepath.Join(dir, "missing", "bad.log")

	logs := NewLogFiles()
	_, err := logs.Open([]string{good, bad})
	require.Error(t, err)
	assert.NoFileExists(t, good)
}

func TestCheckWritable_LeavesNoFiles(t *testing.T) {
	dir := t.TempDir()
	pid := filepath.Join(dir, "dynconf.pid")

	require.NoError(t, CheckWritable(pid))
	assert.NoFileExists(t, pid)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCheckWritable_ExistingFileUntouched(t *testing.T) {
	dir := t.TempDir()
	errLog := filepath.Join(dir, "error.log")
	require.NoError(t, os.WriteFile(errLog, []byte("keep\n"), 0o644))

	require.NoError(t, CheckWritable(errLog))
	data, err := os.ReadFile(errLog)
	require.NoError(t, err)
	assert.Equal(t, "keep\n", string(data))
}
