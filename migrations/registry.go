package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"sort"
	"strings"

	notify "github.com/goliatone/go-notify"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// RequiredTables must be created by the up scripts of every dialect.
var RequiredTables = []string{
	"notify_notifications",
	"notify_deliveries",
	"notify_webhook_events",
	"notify_unsubscribe_tokens",
}

// Tree is one dialect's migration directory.
type Tree struct {
	Dialect  string
	Path     string
	FS       fs.FS
	Versions []string
}

type Registration struct {
	Targets []string
	Trees   []Tree
}

type RegisterFunc func(ctx context.Context, dialect string, fsys fs.FS) error

type Option func(*Registration)

// WithValidationTargets limits registration to the given dialects.
func WithValidationTargets(targets ...string) Option {
	return func(r *Registration) {
		if next := normalize(targets); len(next) > 0 {
			r.Targets = next
		}
	}
}

// Trees loads and checks the embedded schema. Both dialects must carry the
// same versions, each with an up and a down script.
func Trees(sources ...fs.FS) ([]Tree, error) {
	root := notify.GetCoreMigrationsFS()
	if len(sources) > 0 && sources[0] != nil {
		root = sources[0]
	}
	base, err := fs.Sub(root, "data/sql/migrations")
	if err != nil {
		return nil, fmt.Errorf("migrations: schema root: %w", err)
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: sqlite tree: %w", err)
	}

	trees := []Tree{
		{Dialect: DialectPostgres, Path: "data/sql/migrations", FS: base},
		{Dialect: DialectSQLite, Path: "data/sql/migrations/sqlite", FS: sqliteFS},
	}
	for i := range trees {
		versions, err := scanVersions(trees[i])
		if err != nil {
			return nil, err
		}
		if err := checkTables(trees[i]); err != nil {
			return nil, err
		}
		trees[i].Versions = versions
	}
	if !slices.Equal(trees[0].Versions, trees[1].Versions) {
		return nil, fmt.Errorf("migrations: postgres versions %v and sqlite versions %v differ", trees[0].Versions, trees[1].Versions)
	}
	return trees, nil
}

// Register hands each targeted dialect tree to registerFn.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{Targets: []string{DialectPostgres, DialectSQLite}}
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}

	trees, err := Trees()
	if err != nil {
		return reg, err
	}
	reg.Trees = trees
	for _, tree := range trees {
		if !slices.Contains(reg.Targets, tree.Dialect) {
			continue
		}
		if err := registerFn(ctx, tree.Dialect, tree.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s: %w", tree.Dialect, err)
		}
	}
	return reg, nil
}

// ForDialect wraps a registrar such as persistence.Client.RegisterSQLMigrations
// so it only sees the tree of one dialect.
func ForDialect(dialect string, register func(fsys fs.FS)) RegisterFunc {
	target := strings.TrimSpace(strings.ToLower(dialect))
	return func(_ context.Context, current string, fsys fs.FS) error {
		if register == nil {
			return fmt.Errorf("migrations: registrar is required")
		}
		if current == target {
			register(fsys)
		}
		return nil
	}
}

// DialectForDriver maps a database/sql driver name to a migration dialect.
func DialectForDriver(driver string) (string, error) {
	switch strings.TrimSpace(strings.ToLower(driver)) {
	case "postgres", "pgx", "pq":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("migrations: unsupported driver %q", driver)
	}
}

func scanVersions(tree Tree) ([]string, error) {
	ups, err := fs.Glob(tree.FS, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s: %w", tree.Path, err)
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("migrations: %s has no up scripts", tree.Path)
	}
	versions := make([]string, 0, len(ups))
	for _, up := range ups {
		version := strings.TrimSuffix(up, ".up.sql")
		if _, err := fs.Stat(tree.FS, version+".down.sql"); err != nil {
			return nil, fmt.Errorf("migrations: %s/%s has no down script", tree.Path, version)
		}
		versions = append(versions, version)
	}
	sort.Strings(versions)
	return versions, nil
}

func checkTables(tree Tree) error {
	ups, _ := fs.Glob(tree.FS, "*.up.sql")
	var schema strings.Builder
	for _, up := range ups {
		content, err := fs.ReadFile(tree.FS, up)
		if err != nil {
			return fmt.Errorf("migrations: read %s/%s: %w", tree.Path, up, err)
		}
		schema.WriteString(strings.ToLower(string(content)))
	}
	for _, table := range RequiredTables {
		if !strings.Contains(schema.String(), "create table if not exists "+table) {
			return fmt.Errorf("migrations: %s does not create %s", tree.Path, table)
		}
	}
	return nil
}

func normalize(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(strings.ToLower(value))
		if trimmed == "" || slices.Contains(out, trimmed) {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
