package database

import (
	"testing"

	"github.com/MarcoPoloResearchLab/tally/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func TestNormalizeUserEmailsMigration(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:migrations_emails?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&users.User{}, &migrationRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	legacy := users.User{
		UserID:       "user-1",
		Name:         "Legacy",
		Email:        "Legacy.User@Example.COM",
		PasswordHash: []byte("hash"),
	}
	if err := db.Create(&legacy).Error; err != nil {
		t.Fatalf("failed to seed legacy user: %v", err)
	}

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("migrations failed: %v", err)
	}

	var migrated users.User
	if err := db.Where("user_id = ?", "user-1").Take(&migrated).Error; err != nil {
		t.Fatalf("failed to reload user: %v", err)
	}
	if migrated.Email != "legacy.user@example.com" {
		t.Fatalf("expected normalized email, got %q", migrated.Email)
	}

	// Re-running is a no-op: the ledger records the migration once.
	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("second migration run failed: %v", err)
	}
	var records int64
	if err := db.Model(&migrationRecord{}).Count(&records).Error; err != nil {
		t.Fatalf("failed to count migration records: %v", err)
	}
	if records != 1 {
		t.Fatalf("expected a single migration record, got %d", records)
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite("", nil); err == nil {
		t.Fatal("expected error for empty database path")
	}
}
