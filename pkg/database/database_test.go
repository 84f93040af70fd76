package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", DSN(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close test database: %v", err)
		}
	})
	return db
}

func migrate(t *testing.T, db *sql.DB) {
	t.Helper()
	if _, err := NewMigrationManager(db, Migrations()).ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
}

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.DatabasePath != "./data/studyhall.db" {
		t.Errorf("Expected DatabasePath './data/studyhall.db', got %s", config.DatabasePath)
	}
	if config.MaxConnections != 10 {
		t.Errorf("Expected MaxConnections 10, got %d", config.MaxConnections)
	}
	if config.RetryDelay != 5*time.Second {
		t.Errorf("Expected RetryDelay 5s, got %v", config.RetryDelay)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("DefaultConfig should validate: %v", err)
	}
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database path", func(c *Config) { c.DatabasePath = "" }},
		{"zero max connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }},
		{"zero idle time", func(c *Config) { c.ConnMaxIdleTime = 0 }},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = 0 }},
		{"negative retry delay", func(c *Config) { c.RetryDelay = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			if err := config.Validate(); err == nil {
				t.Error("Validate should fail")
			}
		})
	}
}

func TestMigrationManager_ApplyMigrations(t *testing.T) {
	db := openTestDB(t)

	source := fstest.MapFS{
		"002_second.sql": {Data: []byte(`ALTER TABLE test_table ADD COLUMN name TEXT;`)},
		"001_first.sql":  {Data: []byte(`CREATE TABLE test_table (id TEXT PRIMARY KEY);`)},
		"README.md":      {Data: []byte("not a migration")},
	}

	mgr := NewMigrationManager(db, source)
	applied, err := mgr.ApplyMigrations()
	if err != nil {
		t.Fatalf("ApplyMigrations should not fail: %v", err)
	}
	if len(applied) != 2 || applied[0] != "001" || applied[1] != "002" {
		t.Errorf("Expected [001 002] applied in order, got %v", applied)
	}

	// Second run is a no-op.
	applied, err = mgr.ApplyMigrations()
	if err != nil {
		t.Fatalf("Re-running migrations should not fail: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("Expected no migrations on second run, got %v", applied)
	}

	if _, err := db.Exec(`INSERT INTO test_table (id, name) VALUES ('a', 'b')`); err != nil {
		t.Errorf("Migrated table should accept both columns: %v", err)
	}
}

func TestMigrationManager_FailedMigrationRollsBack(t *testing.T) {
	db := openTestDB(t)

	source := fstest.MapFS{
		"001_broken.sql": {Data: []byte(`CREATE TABLE ok_table (id TEXT); THIS IS NOT SQL;`)},
	}

	if _, err := NewMigrationManager(db, source).ApplyMigrations(); err == nil {
		t.Fatal("Broken migration should fail")
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("Failed to count migrations: %v", err)
	}
	if count != 0 {
		t.Errorf("Failed migration must not be recorded, got %d rows", count)
	}
}

func TestMigrationManager_ValidateSchema(t *testing.T) {
	db := openTestDB(t)
	mgr := NewMigrationManager(db, Migrations())

	if err := mgr.ValidateSchema(); err == nil {
		t.Error("ValidateSchema should fail on empty database")
	}

	if _, err := mgr.ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	if err := mgr.ValidateSchema(); err != nil {
		t.Errorf("ValidateSchema should pass after migrations: %v", err)
	}
}

func TestSchemaValidator_TableStructure(t *testing.T) {
	db := openTestDB(t)
	migrate(t, db)

	if err := NewSchemaValidator(db).ValidateTableStructure(); err != nil {
		t.Errorf("Embedded schema should match the store's columns: %v", err)
	}
}

func TestSchema_ProgressConstraints(t *testing.T) {
	db := openTestDB(t)
	migrate(t, db)

	if _, err := db.Exec(`INSERT INTO students (id, family_id, first_name) VALUES ('s1', 'f1', 'Alice')`); err != nil {
		t.Fatalf("Failed to insert student: %v", err)
	}

	now := time.Now().UTC()
	insert := `INSERT INTO progress (student_id, lesson_id, progress, score, status, started_at, last_activity_at)
		VALUES (?, ?, ?, 0, ?, ?, ?)`

	if _, err := db.Exec(insert, "s1", "l1", 50.0, "IN_PROGRESS", now, now); err != nil {
		t.Errorf("Valid progress row rejected: %v", err)
	}
	if _, err := db.Exec(insert, "s1", "l2", 150.0, "IN_PROGRESS", now, now); err == nil {
		t.Error("Progress above 100 should violate the check constraint")
	}
	if _, err := db.Exec(insert, "s1", "l3", 10.0, "PAUSED", now, now); err == nil {
		t.Error("Unknown status should violate the check constraint")
	}
	if _, err := db.Exec(insert, "ghost", "l1", 10.0, "IN_PROGRESS", now, now); err == nil {
		t.Error("Progress for an unknown student should violate the foreign key")
	}
}

func TestDatabase_SQLiteOptimizations(t *testing.T) {
	db := openTestDB(t)

	if err := ApplySQLiteOptimizations(db); err != nil {
		t.Fatalf("Failed to apply SQLite optimizations: %v", err)
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to check journal mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected WAL journal mode, got %s", journalMode)
	}

	var foreignKeys int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		t.Fatalf("Failed to check foreign keys setting: %v", err)
	}
	if foreignKeys != 1 {
		t.Error("Foreign keys should be enabled")
	}
}
