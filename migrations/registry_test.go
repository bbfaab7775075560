package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	notify "github.com/goliatone/go-notify"
	_ "github.com/mattn/go-sqlite3"
)

func TestTrees_PairsDialects(t *testing.T) {
	trees, err := Trees()
	if err != nil {
		t.Fatalf("trees: %v", err)
	}
	if len(trees) != 2 || trees[0].Dialect != DialectPostgres || trees[1].Dialect != DialectSQLite {
		t.Fatalf("unexpected trees %#v", trees)
	}
	if len(trees[0].Versions) == 0 || trees[0].Versions[0] != "00001_notify_schema" {
		t.Fatalf("unexpected versions %v", trees[0].Versions)
	}
}

func TestTrees_RejectsMissingDownScript(t *testing.T) {
	fsys := fstest.MapFS{
		"data/sql/migrations/00001_a.up.sql":          {Data: []byte(schemaFixture)},
		"data/sql/migrations/sqlite/00001_a.up.sql":   {Data: []byte(schemaFixture)},
		"data/sql/migrations/sqlite/00001_a.down.sql": {Data: []byte("DROP TABLE x;")},
	}
	if _, err := Trees(fsys); err == nil || !strings.Contains(err.Error(), "down script") {
		t.Fatalf("expected a missing down script error, got %v", err)
	}
}

func TestTrees_RejectsDialectDrift(t *testing.T) {
	fsys := fstest.MapFS{
		"data/sql/migrations/00001_a.up.sql":          {Data: []byte(schemaFixture)},
		"data/sql/migrations/00001_a.down.sql":        {Data: []byte("DROP TABLE x;")},
		"data/sql/migrations/00002_b.up.sql":          {Data: []byte("SELECT 1;")},
		"data/sql/migrations/00002_b.down.sql":        {Data: []byte("SELECT 1;")},
		"data/sql/migrations/sqlite/00001_a.up.sql":   {Data: []byte(schemaFixture)},
		"data/sql/migrations/sqlite/00001_a.down.sql": {Data: []byte("DROP TABLE x;")},
	}
	if _, err := Trees(fsys); err == nil || !strings.Contains(err.Error(), "differ") {
		t.Fatalf("expected a version drift error, got %v", err)
	}
}

func TestTrees_RequiresNotifyTables(t *testing.T) {
	fsys := fstest.MapFS{
		"data/sql/migrations/00001_a.up.sql":          {Data: []byte("CREATE TABLE IF NOT EXISTS notify_notifications (id TEXT);")},
		"data/sql/migrations/00001_a.down.sql":        {Data: []byte("SELECT 1;")},
		"data/sql/migrations/sqlite/00001_a.up.sql":   {Data: []byte(schemaFixture)},
		"data/sql/migrations/sqlite/00001_a.down.sql": {Data: []byte("SELECT 1;")},
	}
	if _, err := Trees(fsys); err == nil || !strings.Contains(err.Error(), "notify_deliveries") {
		t.Fatalf("expected a missing table error, got %v", err)
	}
}

const schemaFixture = `CREATE TABLE IF NOT EXISTS notify_notifications (id TEXT);
CREATE TABLE IF NOT EXISTS notify_deliveries (id TEXT);
CREATE TABLE IF NOT EXISTS notify_webhook_events (id TEXT);
CREATE TABLE IF NOT EXISTS notify_unsubscribe_tokens (id TEXT);`

func TestRegister_UsesValidationTargets(t *testing.T) {
	var calls []string
	_, err := Register(context.Background(), func(_ context.Context, dialect string, _ fs.FS) error {
		calls = append(calls, dialect)
		return nil
	}, WithValidationTargets(DialectSQLite))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if len(calls) != 1 {
		t.Fatalf("expected 1 registration call, got %d", len(calls))
	}
	if calls[0] != DialectSQLite {
		t.Fatalf("expected sqlite registration, got %q", calls[0])
	}
}

func TestSchemaMigrationPair_ExistsForBothDialects(t *testing.T) {
	root := notify.GetCoreMigrationsFS()
	paths := []string{
		"data/sql/migrations/00001_notify_schema.up.sql",
		"data/sql/migrations/00001_notify_schema.down.sql",
		"data/sql/migrations/sqlite/00001_notify_schema.up.sql",
		"data/sql/migrations/sqlite/00001_notify_schema.down.sql",
	}
	for _, migrationPath := range paths {
		content, err := fs.ReadFile(root, migrationPath)
		if err != nil {
			t.Fatalf("read migration %s: %v", migrationPath, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			t.Fatalf("expected migration %s to have SQL content", migrationPath)
		}
	}
}

func TestForDialect_OnlyRegistersMatchingDialect(t *testing.T) {
	var registered int
	register := ForDialect(DialectSQLite, func(fs.FS) { registered++ })

	reg, err := Register(context.Background(), register)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(reg.Trees) != 2 {
		t.Fatalf("expected both dialect trees, got %d", len(reg.Trees))
	}
	if registered != 1 {
		t.Fatalf("expected only the sqlite tree to register, got %d", registered)
	}
}

func TestDialectForDriver(t *testing.T) {
	cases := map[string]string{
		"postgres": DialectPostgres,
		"pq":       DialectPostgres,
		"sqlite3":  DialectSQLite,
		" SQLite ": DialectSQLite,
	}
	for driver, want := range cases {
		got, err := DialectForDriver(driver)
		if err != nil {
			t.Fatalf("driver %q: %v", driver, err)
		}
		if got != want {
			t.Fatalf("driver %q: expected %s, got %s", driver, want, got)
		}
	}
	if _, err := DialectForDriver("mysql"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestSQLiteSchemaMigration_ApplyAndRollback(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-notify-schema?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()
	ctx := context.Background()

	sqliteMigrations, err := fs.Sub(notify.GetCoreMigrationsFS(), "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}
	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_notify_schema.up.sql"); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	if _, err := db.ExecContext(ctx,
		`INSERT INTO notify_notifications (id, user_id, notification_type, entity_cui, is_active, hash) VALUES (?, ?, ?, ?, ?, ?)`,
		"n1", "u1", "newsletter_entity_monthly", "RO1", true, "h1",
	); err != nil {
		t.Fatalf("insert notification: %v", err)
	}
	insertDelivery := `INSERT INTO notify_deliveries (id, user_id, notification_id, period_key, delivery_key) VALUES (?, ?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, insertDelivery, "d1", "u1", "n1", "2024-01", "u1:n1:2024-01"); err != nil {
		t.Fatalf("insert delivery: %v", err)
	}
	if _, err := db.ExecContext(ctx, insertDelivery, "d2", "u1", "n1", "2024-01", "u1:n1:2024-01"); err == nil {
		t.Fatalf("expected delivery key uniqueness to hold")
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO notify_deliveries (id, user_id, notification_id, period_key, delivery_key, status) VALUES (?, ?, ?, ?, ?, ?)`,
		"d3", "u1", "n1", "2024-02", "u1:n1:2024-02", "bogus",
	); err == nil {
		t.Fatalf("expected unknown delivery status to be rejected")
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM notify_notifications WHERE id = ?`, "n1"); err != nil {
		t.Fatalf("delete notification: %v", err)
	}
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notify_deliveries`).Scan(&count); err != nil {
		t.Fatalf("count deliveries: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected deliveries to cascade, got %d", count)
	}

	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_notify_schema.down.sql"); err != nil {
		t.Fatalf("rollback schema: %v", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name LIKE 'notify_%'`).Scan(&count); err != nil {
		t.Fatalf("count tables: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback to drop every notify table, got %d", count)
	}
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
