package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/luna-labs/accuracy.report/internal/db"
	"github.com/luna-labs/accuracy.report/internal/parse"
)

const lunaHR = `Timestamp,Heart Rate (bpm)
2024-05-01 10:00:00,70
2024-05-01 10:00:01,72
2024-05-01 10:00:02,74
`

const polarHR = `Name,Sport,Date,Start time,Duration
Jane Doe,RUNNING,01-05-2024,10:00:00,00:00:10
Sample rate,Time,HR (bpm)
1,00:00:00,80
,00:00:01,82
,00:00:05,86
`

// resetFlags puts every flag back to its default so commands can run more
// than once in one process.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

type env struct {
	dir    string
	dbPath string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	return &env{dir: dir, dbPath: filepath.Join(dir, "accuracy.db")}
}

func (e *env) run(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, append(args, "--db", e.dbPath)...)
	require.NoError(t, err, out)
	return out
}

func (e *env) file(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func (e *env) createSession(t *testing.T, id string) {
	t.Helper()
	out := e.run(t, "session", "create", "--id", id, "--user", "u1", "--activity", "running",
		"--metric", "HR", "--firmware", "2.1.0",
		"--start", "2024-05-01T10:00:00Z", "--end", "2024-05-01T10:00:10Z")
	assert.Equal(t, id+"\n", out)
}

func TestMigrateCommands(t *testing.T) {
	e := newEnv(t)

	out := e.run(t, "migrate", "version")
	assert.Contains(t, out, "Current version: 0 (dirty: false)")

	out = e.run(t, "migrate", "up")
	assert.Contains(t, out, "Current version: 1 (dirty: false)")

	out = e.run(t, "migrate", "down")
	assert.Contains(t, out, "Current version: 0")

	out = e.run(t, "migrate", "force", "1")
	assert.Contains(t, out, "Current version: 1 (dirty: false)")

	_, err := execute(t, "migrate", "force", "one", "--db", e.dbPath)
	assert.ErrorContains(t, err, "invalid version number")
}

func TestSessionCommands(t *testing.T) {
	e := newEnv(t)
	e.createSession(t, "s1")

	out := e.run(t, "session", "list")
	assert.Contains(t, out, "s1")
	assert.Contains(t, out, "created")

	out = e.run(t, "session", "list", "--user", "nobody")
	assert.Contains(t, out, "No sessions found")

	_, err := execute(t, "session", "create", "--user", "u1", "--start", "yesterday",
		"--end", "2024-05-01T10:00:10Z", "--db", e.dbPath)
	assert.ErrorContains(t, err, "invalid --start")

	_, err = execute(t, "session", "list", "--metric", "steps", "--db", e.dbPath)
	assert.ErrorContains(t, err, "unknown metric")

	out = e.run(t, "session", "delete", "s1")
	assert.Contains(t, out, "Deleted session s1")

	out = e.run(t, "session", "list")
	assert.Contains(t, out, "No sessions found")
}

func TestIngestAnalyzeAndReports(t *testing.T) {
	e := newEnv(t)
	e.createSession(t, "s1")
	luna := e.file(t, "luna.csv", lunaHR)
	polar := e.file(t, "polar.csv", polarHR)

	out := e.run(t, "ingest", "s1", "--file", "luna-hr:"+luna, "--file", "polar:"+polar, "--band-id", "band-7")
	assert.Contains(t, out, "luna.csv")
	assert.Contains(t, out, "polar.csv")
	assert.Contains(t, out, "Session s1 (HR, valid: true)")
	assert.Contains(t, out, "10.00")

	store, err := db.NewDB(e.dbPath)
	require.NoError(t, err)
	sess, err := store.GetSession(t.Context(), "s1")
	require.NoError(t, err)
	assert.EqualValues(t, "analyzed", sess.Status)
	store.Close()

	out = e.run(t, "analyze", "s1")
	assert.Contains(t, out, "Session s1")

	out = e.run(t, "analyze", "--pending")
	assert.Contains(t, out, "Analyzed 0 sessions")

	out = e.run(t, "rollup")
	assert.Contains(t, out, "Recomputed summaries")

	png := filepath.Join(e.dir, "polar.png")
	e.run(t, "chart", "s1", "--device", "polar", "--out", png)
	data, err := os.ReadFile(png)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	html := filepath.Join(e.dir, "polar.html")
	e.run(t, "chart", "s1", "--out", html)
	data, err = os.ReadFile(html)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<html")

	t.Chdir(e.dir)
	out = e.run(t, "chart", "s1", "--device", "polar")
	assert.Contains(t, out, "blandaltman-s1-polar.png")
	assert.FileExists(t, filepath.Join(e.dir, "blandaltman-s1-polar.png"))

	xlsx := filepath.Join(e.dir, "summaries.xlsx")
	out = e.run(t, "export", "--out", xlsx)
	assert.Contains(t, out, "summaries to")
	wb, err := excelize.OpenFile(xlsx)
	require.NoError(t, err)
	defer wb.Close()
	assert.Contains(t, wb.GetSheetList(), "user")
}

func TestIngestJSONReportsFailedFiles(t *testing.T) {
	e := newEnv(t)
	e.createSession(t, "s1")
	luna := e.file(t, "luna.csv", lunaHR)

	out, err := execute(t, "ingest", "s1", "--json",
		"--file", "luna-hr:"+luna,
		"--file", "polar:"+filepath.Join(e.dir, "missing.csv"),
		"--db", e.dbPath)
	assert.ErrorContains(t, err, "1 of 2 files failed")
	assert.Contains(t, out, `"sessionId": "s1"`)
	assert.Contains(t, out, "missing.csv")
}

func TestCommandArgumentErrors(t *testing.T) {
	e := newEnv(t)

	_, err := execute(t, "analyze", "--db", e.dbPath)
	assert.ErrorContains(t, err, "either a session ID or --pending")

	_, err = execute(t, "analyze", "s1", "--pending", "--db", e.dbPath)
	assert.ErrorContains(t, err, "either a session ID or --pending")

	_, err = execute(t, "chart", "s1", "--out", filepath.Join(e.dir, "chart.svg"), "--db", e.dbPath)
	assert.ErrorContains(t, err, "unsupported chart format")

	_, err = execute(t, "chart", "s1", "--out", filepath.Join(e.dir, "chart.png"), "--db", e.dbPath)
	assert.ErrorContains(t, err, "has no analysis")
	assert.NoFileExists(t, filepath.Join(e.dir, "chart.png"))

	_, err = execute(t, "ingest", "s1", "--file", "garmin:x.csv", "--db", e.dbPath)
	assert.ErrorIs(t, err, parse.ErrUnknownFormat)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "accuracy-report dev (commit unknown, built unknown)\n", out)
}

func TestParseUpload(t *testing.T) {
	tests := []struct {
		arg     string
		want    parse.Format
		path    string
		wantErr bool
	}{
		{arg: "luna-hr:band.csv", want: parse.FormatLunaHR, path: "band.csv"},
		{arg: "masimo:/data/ox:1.csv", want: parse.FormatMasimo, path: "/data/ox:1.csv"},
		{arg: "polar", wantErr: true},
		{arg: "polar:", wantErr: true},
		{arg: "fitbit:x.csv", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			u, err := parseUpload(tt.arg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.Format)
			assert.Equal(t, tt.path, u.Path)
		})
	}
}

func TestNewHandler(t *testing.T) {
	e := newEnv(t)
	e.createSession(t, "s1")

	resetFlags(rootCmd)
	require.NoError(t, setup(rootCmd, nil))
	store, err := db.NewDB(e.dbPath)
	require.NoError(t, err)
	defer store.Close()

	handler, err := newHandler(store, newPipeline(store))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/s1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"userId":"u1"`)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
