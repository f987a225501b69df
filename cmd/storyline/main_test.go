package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/storyline/internal/changes"
	"github.com/scrypster/storyline/pkg/types"
)

// setupCLI writes a config file with sqlite storage and a local backup
// directory under a temp dir.
func setupCLI(t *testing.T) string {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "STORYLINE_") {
			t.Setenv(key, "")
		}
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "storyline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(`
storage:
  engine: sqlite
  dataPath: %s
ingest:
  inboxDir: %s
backup:
  dir: %s
  retention: 2
`, filepath.Join(dir, "data"), filepath.Join(dir, "inbox"), filepath.Join(dir, "backups"))), 0o644))
	return path
}

func run(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	dropToInbox = false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeArticles(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "articles.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestCLI_IngestThenChangelog(t *testing.T) {
	cfgPath := setupCLI(t)

	_, err := run(t, cfgPath, "ingest", writeArticles(t, `{"id":"a1","url":"https://x/a1","title":"Storm nears coast"}`))
	require.NoError(t, err)

	out, err := run(t, cfgPath, "ingest", writeArticles(t, `[{"id":"a1","url":"https://x/a1","title":"Storm makes landfall"}]`))
	require.NoError(t, err)
	var result changes.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 1, result.Updated)

	out, err = run(t, cfgPath, "changelog", "a1")
	require.NoError(t, err)
	var entries []types.ChangelogEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "Storm makes landfall", entries[0].NewValue)
}

func TestCLI_IngestToInbox(t *testing.T) {
	cfgPath := setupCLI(t)

	out, err := run(t, cfgPath, "ingest", "--inbox", writeArticles(t, `{"id":"a1","title":"T"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "queued 1 articles")

	out, err = run(t, cfgPath, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, `"articles": 0`, "inbox files are processed by a running server")
}

func TestCLI_RebuildAndEntities(t *testing.T) {
	cfgPath := setupCLI(t)

	_, err := run(t, cfgPath, "ingest", writeArticles(t, `[
		{"id":"a1","title":"Acme Corp opens plant in Springfield","source":{"name":"Example Wire"}},
		{"id":"a2","title":"Springfield welcomes Acme Corp","source":{"name":"Example Wire"}}
	]`))
	require.NoError(t, err)

	out, err := run(t, cfgPath, "rebuild", "graph")
	require.NoError(t, err)
	assert.Contains(t, out, "graph:")

	out, err = run(t, cfgPath, "rebuild", "clusters")
	require.NoError(t, err)
	assert.Contains(t, out, "clusters:")

	out, err = run(t, cfgPath, "entities", "examplewire")
	require.NoError(t, err)
	assert.Contains(t, out, `"a1"`)

	_, err = run(t, cfgPath, "entities", "nobody")
	assert.Error(t, err)

	_, err = run(t, cfgPath, "rebuild", "everything")
	assert.Error(t, err)
}

func TestCLI_SnapshotRoundTrip(t *testing.T) {
	cfgPath := setupCLI(t)

	_, err := run(t, cfgPath, "ingest", writeArticles(t, `{"id":"a1","title":"T"}`))
	require.NoError(t, err)

	out, err := run(t, cfgPath, "snapshot")
	require.NoError(t, err)
	assert.Contains(t, out, "1 articles")
	name := strings.SplitN(out, ":", 2)[0]

	out, err = run(t, cfgPath, "snapshot", "list")
	require.NoError(t, err)
	assert.Contains(t, out, name)

	_, err = run(t, cfgPath, "snapshot", "restore", "missing.json")
	assert.Error(t, err)
}
