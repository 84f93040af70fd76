package database

import (
	"database/sql"
	"fmt"
)

// RequiredTables lists the tables the store reads and writes.
var RequiredTables = []string{
	"students",
	"chat_messages",
	"progress",
	"notifications",
	"schema_migrations",
}

// RequiredIndexes lists the indexes the store's queries rely on.
var RequiredIndexes = []string{
	"idx_students_family",
	"idx_chat_messages_session_time",
	"idx_chat_messages_student",
	"idx_progress_student_activity",
	"idx_notifications_user_read",
	"idx_notifications_family_read",
}

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables testing
// and deployment verification without coupling to migration system
type SchemaValidator struct {
	db *sql.DB
}

func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	for _, table := range RequiredTables {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// ValidateTableStructure verifies table columns match the types the store scans into.
// TECHNICAL DISCOVERY: Column validation ensures type compatibility between
// Go structs and database schema
func (v *SchemaValidator) ValidateTableStructure() error {
	expected := map[string]map[string]string{
		"students": {
			"id":              "TEXT",
			"family_id":       "TEXT",
			"first_name":      "TEXT",
			"last_name":       "TEXT",
			"education_level": "TEXT",
		},
		"chat_messages": {
			"student_id":   "TEXT",
			"session_id":   "TEXT",
			"user_message": "TEXT",
			"ai_response":  "TEXT",
			"subject":      "TEXT",
			"created_at":   "DATETIME",
		},
		"progress": {
			"student_id":       "TEXT",
			"lesson_id":        "TEXT",
			"progress":         "REAL",
			"score":            "REAL",
			"status":           "TEXT",
			"started_at":       "DATETIME",
			"last_activity_at": "DATETIME",
			"completed_at":     "DATETIME",
		},
		"notifications": {
			"id":        "TEXT",
			"user_id":   "TEXT",
			"family_id": "TEXT",
			"kind":      "TEXT",
			"title":     "TEXT",
			"data":      "TEXT",
			"read":      "INTEGER",
			"read_at":   "DATETIME",
		},
	}

	for _, table := range RequiredTables {
		columns, ok := expected[table]
		if !ok {
			continue
		}
		if err := v.validateColumns(table, columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

// ValidateIndexes verifies that all performance indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	for _, index := range RequiredIndexes {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name         string
			dataType     string
			notNull      int
			defaultValue any
			pk           int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for column, want := range expectedColumns {
		got, ok := found[column]
		if !ok {
			return fmt.Errorf("column %s not found", column)
		}
		if got != want {
			return fmt.Errorf("column %s has type %s, expected %s", column, got, want)
		}
	}
	return nil
}
