package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "helpers.go"), []byte("package pkg\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))
	return root
}

func TestResolveAbsolutePathUsedAsIs(t *testing.T) {
	root := setupRepo(t)
	r, err := New(root)
	require.NoError(t, err)

	abs := filepath.Join(root, "main.go")
	res, err := r.Resolve(root, abs)
	require.NoError(t, err)
	assert.Equal(t, ProvenanceAbsolute, res.Provenance)
	assert.Equal(t, filepath.Clean(abs), res.Path)
}

func TestResolvePrefersRepoRootWhenFirstSegmentIsTopLevelDir(t *testing.T) {
	root := setupRepo(t)
	other := t.TempDir()
	r, err := New(root)
	require.NoError(t, err)

	res, err := r.Resolve(other, "pkg/helpers.go")
	require.NoError(t, err)
	assert.Equal(t, ProvenanceRepoRooted, res.Provenance)
	assert.Equal(t, filepath.Join(root, "pkg", "helpers.go"), res.Path)
}

func TestResolveFallsBackToCwdWhenNotUnderRepoRoot(t *testing.T) {
	root := setupRepo(t)
	cwd := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cwd, "script.go"), []byte("package main\n"), 0o644))
	r, err := New(root)
	require.NoError(t, err)

	res, err := r.Resolve(cwd, "script.go")
	require.NoError(t, err)
	assert.Equal(t, ProvenanceCwdRooted, res.Provenance)
	assert.Equal(t, filepath.Join(cwd, "script.go"), res.Path)
}

func TestResolveFallsBackToFirstCandidateWhenNoneExist(t *testing.T) {
	root := setupRepo(t)
	cwd := t.TempDir()
	r, err := New(root)
	require.NoError(t, err)

	res, err := r.Resolve(cwd, "nonexistent/thing.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "nonexistent/thing.go"), res.Path)
}

func TestResolveRejectsTraversalOutsideRepoRoot(t *testing.T) {
	root := setupRepo(t)
	r, err := New(root)
	require.NoError(t, err)

	_, err = r.Resolve(root, "../../etc/passwd")
	assert.Error(t, err)
}

func TestResolveIsDeterministic(t *testing.T) {
	root := setupRepo(t)
	r, err := New(root)
	require.NoError(t, err)

	res1, err1 := r.Resolve(root, "pkg/helpers.go")
	res2, err2 := r.Resolve(root, "pkg/helpers.go")
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, res1, res2)
}

func TestValidateBreakpointLineFunctionDefinition(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.py")
	require.NoError(t, os.WriteFile(path, []byte("def my_function():\n    x = 42\n"), 0o644))

	res, err := ValidateBreakpointLine(path, 1)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Warnings, "function-definition line")
	assert.Contains(t, res.Suggestions[0], "line 2")
}

func TestValidateBreakpointLineValidStatement(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.py")
	require.NoError(t, os.WriteFile(path, []byte("def my_function():\n    x = 42\n"), 0o644))

	res, err := ValidateBreakpointLine(path, 2)
	require.NoError(t, err)
	assert.True(t, res.IsValid)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, "x = 42", res.Line)
}

func TestValidateBreakpointLineClassDefinition(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.py")
	require.NoError(t, os.WriteFile(path, []byte("class Foo:\n    pass\n"), 0o644))

	res, err := ValidateBreakpointLine(path, 1)
	require.NoError(t, err)
	assert.Contains(t, res.Warnings, "class-definition line")
}

func TestValidateBreakpointLineCommentSkipsToNextCode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.py")
	require.NoError(t, os.WriteFile(path, []byte("# comment\n\nx = 1\n"), 0o644))

	res, err := ValidateBreakpointLine(path, 1)
	require.NoError(t, err)
	assert.Contains(t, res.Warnings, "comment or blank")
	assert.Contains(t, res.Suggestions[0], "line 3")
}

func TestValidateBreakpointLineImportStatement(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.py")
	require.NoError(t, os.WriteFile(path, []byte("import os\nx = 1\n"), 0o644))

	res, err := ValidateBreakpointLine(path, 1)
	require.NoError(t, err)
	assert.Contains(t, res.Warnings, "import statement")
}

func TestValidateBreakpointLineOutOfRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.py")
	require.NoError(t, os.WriteFile(path, []byte("x = 1\n"), 0o644))

	_, err := ValidateBreakpointLine(path, 0)
	assert.Error(t, err)
	_, err = ValidateBreakpointLine(path, 99)
	assert.Error(t, err)
}

func TestValidateBreakpointLineIsPureFunction(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.py")
	require.NoError(t, os.WriteFile(path, []byte("def f():\n    return 1\n"), 0o644))

	res1, err1 := ValidateBreakpointLine(path, 1)
	res2, err2 := ValidateBreakpointLine(path, 1)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, res1, res2)
}
