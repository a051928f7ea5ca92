package store

import (
	"io/fs"
	"regexp"
	"testing"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			t.Fatalf("unexpected file in migrations: %s", name)
		}
		version := match[1]
		direction := match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}

	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestRebind(t *testing.T) {
	got := rebind(DialectPostgres, `SELECT a FROM t WHERE b=? AND c IN (?, ?)`)
	want := `SELECT a FROM t WHERE b=$1 AND c IN ($2, $3)`
	if got != want {
		t.Fatalf("rebind = %q, want %q", got, want)
	}
	if got := rebind(DialectSQLite, `b=?`); got != `b=?` {
		t.Fatalf("sqlite rebind changed query: %q", got)
	}
}

func TestParseDatabaseURL(t *testing.T) {
	cases := []struct {
		url     string
		driver  string
		dialect Dialect
		wantErr bool
	}{
		{url: "postgres://u:p@localhost/plans", driver: "pgx", dialect: DialectPostgres},
		{url: "postgresql://localhost/plans", driver: "pgx", dialect: DialectPostgres},
		{url: "sqlite:///tmp/plans.db", driver: "sqlite", dialect: DialectSQLite},
		{url: "file:plans.db?cache=shared", driver: "sqlite", dialect: DialectSQLite},
		{url: "sqlite://", wantErr: true},
		{url: "mysql://localhost", wantErr: true},
	}
	for _, tc := range cases {
		driver, _, dialect, err := parseDatabaseURL(tc.url)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tc.url)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tc.url, err)
		}
		if driver != tc.driver || dialect != tc.dialect {
			t.Fatalf("%s: got %s/%s", tc.url, driver, dialect)
		}
	}
}
