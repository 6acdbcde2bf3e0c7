package store

import "fmt"

var tableNames = []string{"symbol_index", "nodes", "edges", "index_metadata"}

const schema = `
CREATE TABLE IF NOT EXISTS symbol_index (
	fqn TEXT PRIMARY KEY,
	uri TEXT NOT NULL,
	package TEXT NOT NULL,
	line INTEGER,
	is_entity INTEGER
);

CREATE INDEX IF NOT EXISTS idx_symbol_package ON symbol_index(package);

CREATE TABLE IF NOT EXISTS nodes (
	fqn TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	package TEXT NOT NULL,
	line INTEGER,
	visibility TEXT NOT NULL,
	has_override INTEGER NOT NULL DEFAULT 0,
	is_transactional INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_nodes_package ON nodes(package);

CREATE TABLE IF NOT EXISTS edges (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	from_fqn TEXT NOT NULL,
	edge_type TEXT NOT NULL,
	to_fqn TEXT NOT NULL,
	kind TEXT NOT NULL,
	from_package TEXT NOT NULL,
	to_package TEXT NOT NULL,
	from_line INTEGER
);

CREATE INDEX IF NOT EXISTS idx_edges_to_fqn ON edges(to_fqn);
CREATE INDEX IF NOT EXISTS idx_edges_from_fqn ON edges(from_fqn);
CREATE INDEX IF NOT EXISTS idx_edges_from_package ON edges(from_package);
CREATE INDEX IF NOT EXISTS idx_edges_to_package ON edges(to_package);

CREATE TABLE IF NOT EXISTS index_metadata (
	package TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL,
	indexed_at TEXT NOT NULL
);
`

func (s *Store) initSchema(init bool) error {
	if init {
		for _, table := range tableNames {
			if _, err := s.db.Exec("DROP TABLE IF EXISTS " + table); err != nil {
				return fmt.Errorf("drop %s: %w", table, err)
			}
		}
	}
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// DeletePackage removes every row attributable to one package across all
// four tables. Callers run it inside WithTransaction together with the
// subsequent re-insertion so intermediate states are never observed.
func (s *Store) DeletePackage(pkg string) error {
	stmts := []string{
		"DELETE FROM symbol_index WHERE package = ?",
		"DELETE FROM nodes WHERE package = ?",
		"DELETE FROM index_metadata WHERE package = ?",
	}
	for _, stmt := range stmts {
		if _, err := s.q.Exec(stmt, pkg); err != nil {
			return fmt.Errorf("cascade delete: %w", err)
		}
	}
	if _, err := s.q.Exec("DELETE FROM edges WHERE from_package = ? OR to_package = ?", pkg, pkg); err != nil {
		return fmt.Errorf("cascade delete edges: %w", err)
	}
	return nil
}
