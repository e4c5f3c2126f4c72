package skills

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeSkill(t *testing.T, root, dir, content string) {
	t.Helper()
	full := filepath.Join(root, "skills", dir)
	require.NoError(t, os.MkdirAll(full, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(full, "SKILL.md"), []byte(content), 0o644))
}

func TestReloadDiscoversSkillsSortedByName(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "zeta", "---\nname: zeta-skill\ndescription: does zeta things\n---\nbody\n")
	writeSkill(t, root, "alpha", "---\nname: alpha-skill\ndescription: does alpha things\n---\nbody\n")

	l := NewLoader(root)
	require.NoError(t, l.Reload())

	got := l.List()
	require.Len(t, got, 2)
	require.Equal(t, "alpha-skill", got[0].Name)
	require.Equal(t, "zeta-skill", got[1].Name)
}

func TestReloadFallsBackToDirNameWhenFrontmatterNameMissing(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "my-dir", "---\ndescription: no name field\n---\n")

	l := NewLoader(root)
	require.NoError(t, l.Reload())

	got := l.List()
	require.Len(t, got, 1)
	require.Equal(t, "my-dir", got[0].Name)
}

func TestReloadMissingSkillsDirYieldsEmpty(t *testing.T) {
	l := NewLoader(t.TempDir())
	require.NoError(t, l.Reload())
	require.Empty(t, l.List())
}

func TestSummaryFormatsOneLinePerSkill(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "a", "---\nname: a\ndescription: does a\n---\n")

	l := NewLoader(root)
	require.NoError(t, l.Reload())
	require.Equal(t, "- a: does a", l.Summary())
}
