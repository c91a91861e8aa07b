package main

import (
	"bytes"
	"context"
	stdsql "database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/porter"
	"github.com/syssam/porter/plan"
)

const ddl = `
CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL, manager_id INTEGER NULL REFERENCES users(id));
CREATE TABLE posts (id INTEGER PRIMARY KEY, author_id INTEGER NOT NULL REFERENCES users(id), body TEXT);
`

type env struct {
	dir      string
	config   string
	src, dst *stdsql.DB
}

func setup(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	e := &env{dir: dir, config: filepath.Join(dir, "porter.yaml")}
	e.src = sqlite(t, filepath.Join(dir, "src.db"))
	e.dst = sqlite(t, filepath.Join(dir, "dst.db"))
	_, err := e.src.Exec(`INSERT INTO users (id, name, manager_id) VALUES (1, 'a', 3), (2, 'b', 1), (3, 'c', NULL);
INSERT INTO posts (id, author_id, body) VALUES (10, 2, 'hello'), (11, 3, NULL);`)
	require.NoError(t, err)
	cfg := "source:\n  driver: sqlite\n  dsn: " + dsn(filepath.Join(dir, "src.db")) +
		"\ndestination:\n  driver: sqlite\n  dsn: " + dsn(filepath.Join(dir, "dst.db")) +
		"\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(e.config, []byte(cfg), 0o600))
	return e
}

func dsn(path string) string { return "file:" + path + "?_pragma=foreign_keys(1)" }

func sqlite(t *testing.T, path string) *stdsql.DB {
	t.Helper()
	db, err := stdsql.Open("sqlite", dsn(path))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(ddl)
	require.NoError(t, err)
	return db
}

// run executes the command line and returns its standard output and error.
func run(t *testing.T, in string, interactive bool, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	a := newApp(strings.NewReader(in), &out, &errOut)
	a.interactive = func() bool { return interactive }
	cmd := a.command()
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestCLI(t *testing.T) {
	e := setup(t)
	entities := filepath.Join(e.dir, "entities.yaml")
	planBase := filepath.Join(e.dir, "migration_plan")

	_, _, err := run(t, "", false, "inspect", "--config", e.config, "--out", entities)
	require.NoError(t, err)
	require.FileExists(t, entities)

	_, _, err = run(t, "", false, "analyze", "--config", e.config, "--entities", entities, "--out", planBase)
	require.NoError(t, err)
	p, err := plan.ReadFile(planBase + ".json")
	require.NoError(t, err)
	assert.Equal(t, []plan.Stage{{"users"}, {"posts"}}, p.Stages)
	text, err := os.ReadFile(planBase + ".txt")
	require.NoError(t, err)
	assert.Contains(t, string(text), "posts")

	args := []string{"migrate", "--config", e.config, "--entities", entities, "--plan", planBase + ".json", "--batch-size", "2"}
	_, _, err = run(t, "", false, args...)
	require.ErrorContains(t, err, "--yes")

	_, _, err = run(t, "no\n", true, args...)
	require.ErrorContains(t, err, "canceled")

	report := filepath.Join(e.dir, "report.json")
	out, _, err := run(t, "yes\n", true, append(args, "--report", report)...)
	require.NoError(t, err)
	assert.Contains(t, out, "5 rows migrated, 0 skipped, 5 attempted")
	require.FileExists(t, report)

	var n int
	require.NoError(t, e.dst.QueryRow(`SELECT COUNT(*) FROM users WHERE manager_id IS NOT NULL`).Scan(&n))
	assert.Equal(t, 2, n)
	var manager int
	require.NoError(t, e.dst.QueryRow(`SELECT manager_id FROM users WHERE id = 1`).Scan(&manager))
	assert.Equal(t, 3, manager)
	require.NoError(t, e.dst.QueryRow(`SELECT COUNT(*) FROM posts`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestAnalyze_Cycle(t *testing.T) {
	dir := t.TempDir()
	entities := filepath.Join(dir, "entities.yaml")
	require.NoError(t, os.WriteFile(entities, []byte(`entities:
  - name: A
    primary_key: [id]
    columns: [{name: id, type: int64}, {name: c_id, type: int64, nullable: true}]
    foreign_keys: [{column: c_id, target: C}]
  - name: B
    primary_key: [id]
    columns: [{name: id, type: int64}, {name: a_id, type: int64}]
    foreign_keys: [{column: a_id, target: A}]
  - name: C
    primary_key: [id]
    columns: [{name: id, type: int64}, {name: b_id, type: int64}]
    foreign_keys: [{column: b_id, target: B}]
`), 0o600))
	out := filepath.Join(dir, "plan.yaml")

	_, stderr, err := run(t, "", false, "analyze", "--entities", entities, "--out", out)
	require.True(t, porter.IsCyclicDependency(err))
	assert.Contains(t, stderr, "{A, B, C}")
	assert.NoFileExists(t, out)

	_, _, err = run(t, "", false, "analyze", "--entities", entities, "--out", out, "--ignore-cycles")
	require.NoError(t, err)
	p, err := plan.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []plan.Stage{{"A"}, {"B"}, {"C"}}, p.Stages)
	require.Len(t, p.Diagnostics.EdgesBroken, 1)
	assert.FileExists(t, filepath.Join(dir, "plan.txt"))
}

func TestPlanFiles(t *testing.T) {
	m, txt := planFiles("out/migration_plan")
	assert.Equal(t, []string{"out/migration_plan.json", "out/migration_plan.txt"}, []string{m, txt})
	m, txt = planFiles("plan.yaml")
	assert.Equal(t, []string{"plan.yaml", "plan.txt"}, []string{m, txt})
}
