package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/paylifecycle/pkg/db"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestPaymentIntentsMigrationContainsSchema(t *testing.T) {
	content := readMigration(t, "create_payment_intents")
	checks := []string{
		"CREATE TYPE payment_status AS ENUM ('pending', 'approved', 'rejected', 'cancelled', 'expired')",
		"CREATE TYPE payment_method AS ENUM ('card', 'bank_transfer')",
		"CREATE TABLE IF NOT EXISTS payment_intents",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_intents_preference_id",
		"WHERE status = 'pending'",
		"DROP TABLE IF EXISTS payment_intents",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestOutboxMigrationsContainSchema(t *testing.T) {
	events := readMigration(t, "create_outbox_events")
	for _, sub := range []string{
		"CREATE TABLE IF NOT EXISTS outbox_events",
		"attempt_count integer NOT NULL DEFAULT 0",
		"WHERE published_at IS NULL",
	} {
		if !strings.Contains(events, sub) {
			t.Errorf("outbox_events missing %q", sub)
		}
	}
	dlq := readMigration(t, "create_outbox_dlq")
	for _, sub := range []string{
		"CREATE TABLE IF NOT EXISTS outbox_dlq",
		"payload_json jsonb NOT NULL",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_outbox_dlq_event_id",
	} {
		if !strings.Contains(dlq, sub) {
			t.Errorf("outbox_dlq missing %q", sub)
		}
	}
}

func TestValidateDirAcceptsShippedMigrations(t *testing.T) {
	if err := ValidateDir("migrations"); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateDirRejectsBadFiles(t *testing.T) {
	cases := map[string]string{
		"bad_name.sql":                  "-- +goose Up\n-- +goose Down\n",
		"20250101000000_no_down.sql":    "-- +goose Up\nSELECT 1;\n",
		"20250101000000_unbalanced.sql": "-- +goose Up\n-- +goose StatementBegin\n-- +goose Down\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if err := ValidateDir(dir); err == nil {
				t.Fatalf("expected %s to be rejected", name)
			}
		})
	}
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	now := time.Date(2025, 4, 2, 3, 4, 5, 0, time.UTC)
	dir := t.TempDir()
	path, err := CreateSQLMigration(dir, "  Add Bank-Code Index ", now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if filepath.Base(path) != "20250402030405_add_bank_code_index.sql" {
		t.Fatalf("unexpected filename %s", filepath.Base(path))
	}
	if err := ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
	if _, err := CreateSQLMigration(dir, "add bank code index", now); err == nil {
		t.Fatalf("expected duplicate migration error")
	}
	if _, err := CreateSQLMigration(dir, "!!!", now); err == nil {
		t.Fatalf("expected empty sanitized name error")
	}
}

func TestEmbeddedMigrationsValidate(t *testing.T) {
	if err := ValidateFS(Embedded()); err != nil {
		t.Fatalf("embedded migrations: %v", err)
	}
	entries, err := fs.ReadDir(Embedded(), ".")
	if err != nil {
		t.Fatalf("read embedded: %v", err)
	}
	onDisk, _ := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if len(entries) != len(onDisk) {
		t.Fatalf("embedded set has %d files, disk has %d", len(entries), len(onDisk))
	}
}

func TestValidateFSRejectsDownBeforeUp(t *testing.T) {
	fsys := fstest.MapFS{
		"20250101000000_reversed.sql": {Data: []byte("-- +goose Down\n-- +goose Up\n")},
	}
	if err := ValidateFS(fsys); err == nil {
		t.Fatal("expected reversed sections to be rejected")
	}
	dup := fstest.MapFS{
		"20250101000000_a.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"20250101000000_b.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
	}
	if err := ValidateFS(dup); err == nil {
		t.Fatal("expected duplicate versions to be rejected")
	}
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("20250301120500")
	if err != nil || v != 20250301120500 {
		t.Fatalf("unexpected %d %v", v, err)
	}
	for _, bad := range []string{"", "2025", "20251301120500", "2025030112050x"} {
		if _, err := ParseVersion(bad); err == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestNewRequiresDB(t *testing.T) {
	if _, err := New(nil, Embedded(), nil); err == nil {
		t.Fatal("expected error without db")
	}
}

func TestAutoMigrateModelsCreatesTables(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrateModels(db.NewFromGorm(conn)); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	for _, table := range []string{"payment_intents", "outbox_events", "outbox_dlq"} {
		if !conn.Migrator().HasTable(table) {
			t.Errorf("expected table %s", table)
		}
	}
}
