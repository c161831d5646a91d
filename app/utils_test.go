package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/monarch/app/config"
	actx "go.hackfix.me/monarch/app/context"
	"go.hackfix.me/monarch/crypto"
	"go.hackfix.me/monarch/db"
)

var timeNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func timeNowFn() time.Time {
	return timeNow
}

var blogMigrations = map[string]string{
	"3-users.sql": "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL);",
	"2-posts.sql": "-- monarch: {depends_on: [3-users.sql]}\n" +
		"CREATE TABLE posts (id INTEGER PRIMARY KEY, user_id INTEGER NOT NULL REFERENCES users (id));",
	"1-seed.sql": "-- monarch: {depends_on: [2-posts.sql]}\n" +
		"INSERT INTO users (id, name) VALUES (1, 'admin');\n" +
		"INSERT INTO posts (id, user_id) VALUES (1, 1);",
	"tags/1-tags.sql": "CREATE TABLE tags (id INTEGER PRIMARY KEY, name TEXT NOT NULL);",
}

type testApp struct {
	*App
	stdin          io.Writer
	stdout, stderr *safeBuffer
	env            *mockEnv
	// internal and target keep the in-memory databases alive between commands.
	// They're the same connection if the ledger is stored in the target.
	internal, target *db.DB
	internalName     string
	flushOutputs     func() error
}

// newTestApp returns an application configured with a single "app" target
// database. If shared is true, the ledger is stored in the target database.
func newTestApp(ctx context.Context, shared bool) (*testApp, error) {
	// Not using just :memory: to avoid 'no such table' issue.
	// See https://github.com/mattn/go-sqlite3#faq
	internal, err := openMemoryDB(ctx)
	if err != nil {
		return nil, err
	}
	target := internal
	if !shared {
		if target, err = openMemoryDB(ctx); err != nil {
			return nil, err
		}
	}

	var (
		stdinR, stdinW   = io.Pipe()
		stdoutW, stderrW = newSafeBuffer(), newSafeBuffer()
		stdoutT, stderrT = newSafeBuffer(), newSafeBuffer()
	)

	env := &mockEnv{env: map[string]string{}}
	fs := memoryfs.New()
	opts := []Option{
		WithTimeNow(timeNowFn),
		WithEnv(env),
		WithContext(ctx),
		WithFDs(stdinR, stdoutT, stderrT),
		WithFS(fs),
		WithLogger(false, false),
	}
	app, err := New("monarch", "/config.json", "/data", opts...)
	if err != nil {
		return nil, err
	}

	cfg := config.Config{
		Internal: config.Database{
			Driver: sql.Null[db.Driver]{V: db.DriverSQLite, Valid: true},
			DSN:    sql.Null[string]{V: internal.dsn(), Valid: true},
		},
		Targets: map[string]config.Database{
			"app": {DSN: sql.Null[string]{V: target.dsn(), Valid: true}},
		},
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	if err = vfs.WriteFile(fs, "/config.json", cfgJSON, 0o644); err != nil {
		return nil, err
	}

	tapp := &testApp{
		App: app, stdout: stdoutW, stderr: stderrW,
		stdin: stdinW, env: env, internal: internal.DB, target: target.DB,
		internalName: internal.name,
	}
	tapp.flushOutputs = func() error {
		stdoutW.Reset()
		if _, rerr := stdoutW.ReadFrom(stdoutT); rerr != nil {
			return rerr
		}
		stdoutT.Reset()

		stderrW.Reset()
		if _, rerr := stderrW.ReadFrom(stderrT); rerr != nil {
			return rerr
		}
		stderrT.Reset()

		return nil
	}

	return tapp, nil
}

type memoryDB struct {
	*db.DB
	name string
}

func (m memoryDB) dsn() string {
	return memoryDSN(m.name)
}

func memoryDSN(name string) string {
	return fmt.Sprintf("file:monarch-%s?mode=memory&cache=shared", name)
}

func openMemoryDB(ctx context.Context) (memoryDB, error) {
	// A unique name per DB, to avoid clashing of in-memory SQLite DBs.
	rndName, err := crypto.RandomData(12)
	if err != nil {
		return memoryDB{}, err
	}

	m := memoryDB{name: fmt.Sprintf("%x", rndName)}
	d, err := db.Open(ctx, db.DriverSQLite, m.dsn())
	if err != nil {
		return memoryDB{}, err
	}
	m.DB = d

	return m, nil
}

// Run executes the app with the given arguments. Output is captured even if
// the command fails.
func (ta *testApp) Run(args ...string) error {
	err := ta.App.Run(args)
	if ferr := ta.flushOutputs(); ferr != nil {
		return errors.Join(err, ferr)
	}

	return err
}

// writeMigrations writes migration files to the default migrations directory.
func (ta *testApp) writeMigrations(files map[string]string) error {
	for name, text := range files {
		p := path.Join("/migrations", name)
		if err := ta.ctx.FS.MkdirAll(path.Dir(p), 0o755); err != nil {
			return err
		}
		if err := vfs.WriteFile(ta.ctx.FS, p, []byte(text), 0o644); err != nil {
			return err
		}
	}

	return nil
}

// tableExists returns true if the table exists in the target database.
func (ta *testApp) tableExists(ctx context.Context, name string) (bool, error) {
	var found string
	err := ta.target.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	return err == nil, err
}

// ledgerIDs returns the migrations recorded in the ledger for the target
// database, in the order they were applied.
func (ta *testApp) ledgerIDs(ctx context.Context) ([]string, error) {
	entries, err := db.NewLedger(ta.internal).Entries(ctx, "app")
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.Migration
	}

	return ids, nil
}

func (ta *testApp) close() {
	if ta.target != ta.internal {
		_ = ta.target.Close()
	}
	_ = ta.internal.Close()
}

type mockEnv struct {
	mx  sync.RWMutex
	env map[string]string
}

var _ actx.Environment = (*mockEnv)(nil)

func (me *mockEnv) Get(key string) string {
	me.mx.RLock()
	defer me.mx.RUnlock()
	return me.env[key]
}

func (me *mockEnv) Set(key, val string) error {
	me.mx.Lock()
	defer me.mx.Unlock()
	me.env[key] = val
	return nil
}

// newTestContext returns a context that times out after timeout, and an
// assertion handling function that cancels the context prematurely and fails
// the test if the assertion fails. This is done to avoid waiting for the
// context timeout to be reached.
func newTestContext(t *testing.T, timeout time.Duration) (
	ctx context.Context, cancelCtx func(), assertHandler func(bool),
) {
	ctx, cancelCtx = context.WithTimeout(t.Context(), timeout)
	assertHandler = func(success bool) {
		if !success {
			cancelCtx()
			t.FailNow()
		}
	}

	return
}

// safeBuffer is a thread-safe buffer.
type safeBuffer struct {
	mx  sync.RWMutex
	buf *bytes.Buffer
}

func newSafeBuffer() *safeBuffer {
	return &safeBuffer{buf: &bytes.Buffer{}}
}

func (b *safeBuffer) Read(p []byte) (n int, err error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.buf.Read(p)
}

func (b *safeBuffer) Write(p []byte) (n int, err error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) ReadFrom(r io.Reader) (n int64, err error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.buf.ReadFrom(r)
}

func (b *safeBuffer) Reset() {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.buf.Reset()
}

func (b *safeBuffer) String() string {
	b.mx.RLock()
	defer b.mx.RUnlock()
	return b.buf.String()
}
