package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sre-tools/remediation-batch/pkg/models"
)

func TestStore_SaveAndLoadItemRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	item := Item{ItemID: "run-1-FIND-1", FindingID: "FIND-1", Title: "SQL injection", Category: "sql_injection", Outcome: "success", RunID: "run-1", CreatedAt: time.Now().UTC().Format(time.RFC3339)}
	require.NoError(t, store.SaveItem(item))

	content, ok := store.LoadItem(item.ItemID)
	require.True(t, ok)
	assert.Contains(t, content, "FIND-1")
	assert.Contains(t, content, "SUCCESS")
}

func TestStore_LoadItemMissingReturnsFalse(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	_, ok := store.LoadItem("does-not-exist")
	assert.False(t, ok)
}

func TestStore_UpsertLinksSameCategoryAndService(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	graph := store.LoadGraph()
	first := Item{ItemID: "run-1-FIND-1", FindingID: "FIND-1", Category: "sql_injection", ServiceName: "cart-service", RunID: "run-1", CreatedAt: time.Now().UTC().Format(time.RFC3339)}
	graph, err = store.Upsert(first, graph)
	require.NoError(t, err)

	second := Item{ItemID: "run-2-FIND-2", FindingID: "FIND-2", Category: "sql_injection", ServiceName: "cart-service", RunID: "run-2", CreatedAt: time.Now().UTC().Format(time.RFC3339)}
	graph, err = store.Upsert(second, graph)
	require.NoError(t, err)

	require.Len(t, graph.Entries, 2)
	var secondEntry GraphEntry
	for _, e := range graph.Entries {
		if e.ItemID == second.ItemID {
			secondEntry = e
		}
	}
	require.NotEmpty(t, secondEntry.Relationships)
	types := map[string]bool{}
	for _, r := range secondEntry.Relationships {
		types[r.RelationType] = true
	}
	assert.True(t, types["same_category"])
	assert.True(t, types["same_service"])
}

func TestStore_SaveGraphAndLoadGraphRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	graph := Graph{Version: 1, Entries: []GraphEntry{{ItemID: "a", Category: "xss"}}}
	require.NoError(t, store.SaveGraph(graph))

	loaded := store.LoadGraph()
	require.Len(t, loaded.Entries, 1)
	assert.Equal(t, "xss", loaded.Entries[0].Category)
}

func TestStore_LoadGraphMissingFileReturnsEmpty(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	graph := store.LoadGraph()
	assert.Equal(t, 1, graph.Version)
	assert.Empty(t, graph.Entries)
}

func TestExtract_OnlyTerminalSessionsProduceItems(t *testing.T) {
	run := &models.BatchRun{
		RunID: "run-1",
		Waves: []models.Wave{{
			WaveNumber: 1,
			Sessions: []models.RemediationSession{
				{Finding: models.Finding{FindingID: "FIND-1", Category: models.CategorySQLInjection}, Status: models.StatusSuccess},
				{Finding: models.Finding{FindingID: "FIND-2"}, Status: models.StatusWorking},
				{Finding: models.Finding{FindingID: "FIND-3"}, Status: models.StatusBlocked},
			},
		}},
	}

	items := Extract(run)
	require.Len(t, items, 2)
	ids := map[string]bool{}
	for _, i := range items {
		ids[i.FindingID] = true
	}
	assert.True(t, ids["FIND-1"])
	assert.True(t, ids["FIND-3"])
	assert.False(t, ids["FIND-2"])
}

func TestExtract_SuccessStatusMapsToSuccessOutcome(t *testing.T) {
	run := &models.BatchRun{
		RunID: "run-1",
		Waves: []models.Wave{{
			Sessions: []models.RemediationSession{
				{Finding: models.Finding{FindingID: "FIND-1"}, Status: models.StatusSuccess},
				{Finding: models.Finding{FindingID: "FIND-2"}, Status: models.StatusFailed},
			},
		}},
	}
	items := Extract(run)
	require.Len(t, items, 2)
	for _, i := range items {
		if i.FindingID == "FIND-1" {
			assert.Equal(t, "success", i.Outcome)
		} else {
			assert.Equal(t, "failed", i.Outcome)
		}
	}
}

func TestRetrieve_ZeroRelevanceGateExcludesUnrelatedEntries(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	graph := store.LoadGraph()
	item := Item{ItemID: "run-1-FIND-1", FindingID: "FIND-1", Category: "xss", ServiceName: "billing-service", Outcome: "success", RunID: "run-1", CreatedAt: time.Now().UTC().Format(time.RFC3339)}
	graph, err = store.Upsert(item, graph)
	require.NoError(t, err)
	require.NoError(t, store.SaveGraph(graph))

	finding := models.Finding{FindingID: "FIND-9", Category: models.CategorySQLInjection, ServiceName: "cart-service"}
	results := Retrieve(store, finding, 3, true)
	assert.Empty(t, results)
}

func TestRetrieve_CategoryMatchRanksAboveServiceOnlyMatch(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	graph := store.LoadGraph()
	now := time.Now().UTC().Format(time.RFC3339)

	categoryMatch := Item{ItemID: "cat-match", FindingID: "FIND-1", Category: "sql_injection", ServiceName: "other-service", Outcome: "success", DataSource: "live", RunID: "run-1", CreatedAt: now}
	serviceMatch := Item{ItemID: "svc-match", FindingID: "FIND-2", Category: "xss", ServiceName: "cart-service", Outcome: "success", DataSource: "live", RunID: "run-1", CreatedAt: now}

	graph, err = store.Upsert(categoryMatch, graph)
	require.NoError(t, err)
	graph, err = store.Upsert(serviceMatch, graph)
	require.NoError(t, err)
	require.NoError(t, store.SaveGraph(graph))

	finding := models.Finding{FindingID: "FIND-9", Category: models.CategorySQLInjection, ServiceName: "cart-service"}
	results := Retrieve(store, finding, 3, true)
	require.Len(t, results, 2)
	assert.Contains(t, results[0].Content, "FIND-1")
}

func TestRetrieve_MockSourceGetsCaveatWhenPreferLive(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	graph := store.LoadGraph()
	item := Item{ItemID: "mock-item", FindingID: "FIND-1", Category: "sql_injection", ServiceName: "cart-service", Outcome: "success", DataSource: "mock", RunID: "run-1", CreatedAt: time.Now().UTC().Format(time.RFC3339)}
	graph, err = store.Upsert(item, graph)
	require.NoError(t, err)
	require.NoError(t, store.SaveGraph(graph))

	finding := models.Finding{FindingID: "FIND-9", Category: models.CategorySQLInjection, ServiceName: "cart-service"}
	results := Retrieve(store, finding, 3, true)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].SourceNote, "mock session")
}

func TestRetrieve_NoEntriesReturnsEmpty(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	finding := models.Finding{FindingID: "FIND-9", Category: models.CategorySQLInjection}
	assert.Empty(t, Retrieve(store, finding, 3, true))
}
