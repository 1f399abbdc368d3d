package database

import (
	"database/sql"
	"fmt"

	"github.com/Runline/runline/internal/database/schema"
)

// InitializeDatabase creates all necessary database tables if they don't exist
func InitializeDatabase(db *sql.DB) error {
	for _, tableDefinition := range schema.TableDefinitions {
		if _, err := db.Exec(tableDefinition); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}
