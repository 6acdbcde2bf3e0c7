package store

import (
	"database/sql"
	"fmt"
)

// ContentHash returns the stored content hash for a package; ok is false
// when the package has never been indexed.
func (s *Store) ContentHash(pkg string) (hash string, ok bool, err error) {
	err = s.q.QueryRow("SELECT content_hash FROM index_metadata WHERE package = ?", pkg).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read metadata: %w", err)
	}
	return hash, true, nil
}

// SetContentHash records the content hash for a package with the current
// timestamp.
func (s *Store) SetContentHash(pkg, hash string) error {
	_, err := s.q.Exec(`INSERT INTO index_metadata (package, content_hash, indexed_at) VALUES (?, ?, ?)
		ON CONFLICT(package) DO UPDATE SET content_hash=excluded.content_hash, indexed_at=excluded.indexed_at`,
		pkg, hash, Now())
	if err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// DeleteContentHash removes a package's metadata row, forcing the next run
// to treat the package as never indexed.
func (s *Store) DeleteContentHash(pkg string) error {
	_, err := s.q.Exec("DELETE FROM index_metadata WHERE package = ?", pkg)
	if err != nil {
		return fmt.Errorf("delete metadata: %w", err)
	}
	return nil
}

// IndexedPackages returns all packages with metadata rows, sorted by name.
func (s *Store) IndexedPackages() ([]string, error) {
	rows, err := s.q.Query("SELECT package FROM index_metadata ORDER BY package")
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var pkg string
		if err := rows.Scan(&pkg); err != nil {
			return nil, err
		}
		out = append(out, pkg)
	}
	return out, rows.Err()
}
