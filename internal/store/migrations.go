package store

// runMigrations executes all database migrations.
func (s *SQLite) runMigrations() error {
	migrations := []string{
		// Datasets table - one serialized dataset per key
		`CREATE TABLE IF NOT EXISTS datasets (
			key TEXT PRIMARY KEY,
			revision TEXT NOT NULL,
			blob BLOB NOT NULL,
			size INTEGER NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Revisions table - history of saved revisions per key
		`CREATE TABLE IF NOT EXISTS dataset_revisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT NOT NULL,
			revision TEXT NOT NULL,
			size INTEGER NOT NULL,
			saved_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_dataset_revisions_key ON dataset_revisions(key)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
