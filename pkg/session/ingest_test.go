package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/compass/pkg/memory"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const sampleCSV = `name,revenue,city
Royal Bakery,120000,Pune
Golden Crust,95000,Pune
Urban Oven,210000,Mumbai
`

func TestIngestRecordsAnalysisTurn(t *testing.T) {
	provider := &fakeLLM{response: "Your dataset covers 3 bakeries across 2 cities."}
	dataDir := t.TempDir()
	s, store := newTestSession(t, provider, WithDataDir(dataDir))

	path := writeCSV(t, sampleCSV)
	analysis, err := s.Ingest(context.Background(), "alice", path)
	require.NoError(t, err)
	assert.Equal(t, "Your dataset covers 3 bakeries across 2 cities.", analysis)

	// The prompt carries the dataset shape.
	prompt := provider.received[0][1].Content
	assert.Contains(t, prompt, "3 rows")
	assert.Contains(t, prompt, "name, revenue, city")
	assert.Contains(t, prompt, "revenue")

	// The turn is recorded under the sentinel and resolved.
	rec, _ := store.Load("alice")
	require.Len(t, rec.ConversationHistory, 1)
	turn := rec.ConversationHistory[0]
	assert.Equal(t, memory.UploadSentinel, turn.UserMessage)
	assert.False(t, turn.Pending())
	assert.Equal(t, analysis, turn.AssistantResponse)

	// The dataset was copied into the data directory.
	copied := filepath.Join(dataDir, "alice_dataset.csv")
	assert.Equal(t, copied, rec.DatasetPath)
	data, readErr := os.ReadFile(copied)
	require.NoError(t, readErr)
	assert.Equal(t, sampleCSV, string(data))
}

func TestIngestDetectsNumericColumns(t *testing.T) {
	provider := &fakeLLM{response: "ok"}
	s, _ := newTestSession(t, provider)

	path := writeCSV(t, sampleCSV)
	_, err := s.Ingest(context.Background(), "alice", path)
	require.NoError(t, err)

	prompt := provider.received[0][1].Content
	assert.Contains(t, prompt, "Numeric columns: revenue")
}

func TestIngestWithoutDataDirKeepsOriginalPath(t *testing.T) {
	provider := &fakeLLM{response: "ok"}
	s, store := newTestSession(t, provider)

	path := writeCSV(t, sampleCSV)
	_, err := s.Ingest(context.Background(), "alice", path)
	require.NoError(t, err)

	rec, _ := store.Load("alice")
	assert.Equal(t, path, rec.DatasetPath)
}

func TestIngestMissingFile(t *testing.T) {
	provider := &fakeLLM{response: "unused"}
	s, store := newTestSession(t, provider)

	_, err := s.Ingest(context.Background(), "alice", filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)

	// Nothing half-recorded.
	rec, _ := store.Load("alice")
	assert.Empty(t, rec.ConversationHistory)
	assert.Empty(t, rec.DatasetPath)
}

func TestIngestProviderFailureDegrades(t *testing.T) {
	provider := &fakeLLM{err: errors.New("down")}
	s, store := newTestSession(t, provider)

	path := writeCSV(t, sampleCSV)
	analysis, err := s.Ingest(context.Background(), "alice", path)
	require.NoError(t, err)
	assert.Equal(t, failureMessage, analysis)

	rec, _ := store.Load("alice")
	require.Len(t, rec.ConversationHistory, 1)
	assert.False(t, rec.ConversationHistory[0].Pending())
}

func TestIngestSurvivesCorruptRecord(t *testing.T) {
	provider := &fakeLLM{response: "ok"}
	dir := t.TempDir()
	store, err := memory.NewStore(dir)
	require.NoError(t, err)
	s := NewSession(store, memory.NewAssembler(), provider)

	// Poison the record, then ingest. The corrupt file is quarantined and
	// the ingestion proceeds on a fresh record.
	recordPath := filepath.Join(dir, "user_alice_memory.json")
	require.NoError(t, os.WriteFile(recordPath, []byte("{broken"), 0o600))

	path := writeCSV(t, sampleCSV)
	_, err = s.Ingest(context.Background(), "alice", path)
	require.NoError(t, err)

	rec, _ := store.Load("alice")
	require.Len(t, rec.ConversationHistory, 1)
	assert.Equal(t, path, rec.DatasetPath)
}

func TestIngestedAnalysisSurfacesInLaterChat(t *testing.T) {
	provider := &fakeLLM{response: "Your dataset shows strong Pune revenue."}
	s, _ := newTestSession(t, provider)

	path := writeCSV(t, sampleCSV)
	_, err := s.Ingest(context.Background(), "alice", path)
	require.NoError(t, err)

	provider.response = "Given your data, Pune looks best."
	_, err = s.Chat(context.Background(), "alice", "where should I open?", "", "")
	require.NoError(t, err)

	system := provider.received[len(provider.received)-1][0]
	assert.Contains(t, system.Content, "Your dataset shows strong Pune revenue.")
	assert.NotContains(t, system.Content, memory.UploadSentinel)
}
