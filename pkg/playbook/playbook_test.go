package playbook

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sre-tools/remediation-batch/pkg/models"
	"github.com/sre-tools/remediation-batch/pkg/remoteclient"
)

func TestPathFor_KnownCategoryMapsDirectly(t *testing.T) {
	assert.Equal(t, "sql_injection.devin.md", PathFor(models.CategorySQLInjection))
}

func TestPathFor_UnknownCategoryFallsBack(t *testing.T) {
	assert.Equal(t, fallbackPath, PathFor(models.CategoryXSS))
	assert.Equal(t, fallbackPath, PathFor(models.CategoryPathTraversal))
}

func TestEnsureUploaded_UploadsMissingPlaybooksFromDisk(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sql_injection.devin.md"), []byte("# sql playbook"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hardcoded_secrets.devin.md"), []byte("# secrets playbook"), 0o644))

	client := remoteclient.NewMock(1)
	ids, err := EnsureUploaded(context.Background(), client, dir)
	require.NoError(t, err)

	assert.NotEmpty(t, ids["sql_injection.devin.md"])
	assert.NotEmpty(t, ids["hardcoded_secrets.devin.md"])
	_, hasDependency := ids["dependency_vulnerability.devin.md"]
	assert.False(t, hasDependency, "playbook missing from disk should be skipped, not uploaded")
}

func TestEnsureUploaded_SkipsAlreadyUploadedPlaybook(t *testing.T) {
	dir := t.TempDir()
	client := remoteclient.NewMock(1)

	pb, err := client.CreatePlaybook(context.Background(), "sql_injection", "# existing")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "sql_injection.devin.md"), []byte("# sql playbook"), 0o644))

	ids, err := EnsureUploaded(context.Background(), client, dir)
	require.NoError(t, err)
	assert.Equal(t, pb.PlaybookID, ids["sql_injection.devin.md"])
}

func TestAssign_SetsPlaybookIDByCategory(t *testing.T) {
	waves := []models.Wave{{
		Sessions: []models.RemediationSession{
			{Finding: models.Finding{Category: models.CategorySQLInjection}},
			{Finding: models.Finding{Category: models.CategoryXSS}},
		},
	}}
	ids := map[string]string{
		"sql_injection.devin.md":            "pb-sql",
		"dependency_vulnerability.devin.md": "pb-fallback",
	}

	Assign(waves, ids)

	assert.Equal(t, "pb-sql", waves[0].Sessions[0].PlaybookID)
	assert.Equal(t, "pb-fallback", waves[0].Sessions[1].PlaybookID)
}

func TestAssign_LeavesEmptyWhenNoPlaybooksAvailable(t *testing.T) {
	waves := []models.Wave{{
		Sessions: []models.RemediationSession{{Finding: models.Finding{Category: models.CategorySQLInjection}}},
	}}
	Assign(waves, map[string]string{})
	assert.Empty(t, waves[0].Sessions[0].PlaybookID)
}
