package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// Symbol is one row of symbol_index: a class or method FQN mapped to its
// source location and owning package.
type Symbol struct {
	FQN     string
	URI     string
	Package string
	Line    int // -1 stores as NULL (classes carry no line)

	// IsEntity is the persistence-model annotation; nil for methods.
	IsEntity *bool
}

// Formula-derived batch size: SQLite has a 999 bind variable limit.
const numSymbolCols = 5
const symbolsBatchSize = 999 / numSymbolCols // = 199

// UpsertSymbolBatch writes symbols with INSERT OR REPLACE semantics: the FQN
// is the store-wide primary key and the last writer wins. The return value
// counts rows that previously belonged to a different package, so
// cross-package shadowing is visible to operators.
func (s *Store) UpsertSymbolBatch(symbols []*Symbol) (collisions int, err error) {
	for i := 0; i < len(symbols); i += symbolsBatchSize {
		end := i + symbolsBatchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		n, err := s.upsertSymbolChunk(symbols[i:end])
		if err != nil {
			return collisions, err
		}
		collisions += n
	}
	return collisions, nil
}

func (s *Store) upsertSymbolChunk(batch []*Symbol) (int, error) {
	collisions, err := s.countForeignRows(batch)
	if err != nil {
		return 0, err
	}

	var sb strings.Builder
	sb.WriteString("INSERT OR REPLACE INTO symbol_index (fqn, uri, package, line, is_entity) VALUES ")
	args := make([]any, 0, len(batch)*numSymbolCols)
	for i, sym := range batch {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString("(?,?,?,?,?)")
		var entity any
		if sym.IsEntity != nil {
			entity = *sym.IsEntity
		}
		args = append(args, sym.FQN, sym.URI, sym.Package, nullableLine(sym.Line), entity)
	}
	if _, err := s.q.Exec(sb.String(), args...); err != nil {
		return 0, fmt.Errorf("upsert symbol batch: %w", err)
	}
	return collisions, nil
}

// countForeignRows counts batch FQNs already indexed under another package.
func (s *Store) countForeignRows(batch []*Symbol) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	pkg := batch[0].Package
	placeholders := make([]string, len(batch))
	args := make([]any, 0, len(batch)+1)
	args = append(args, pkg)
	for i, sym := range batch {
		placeholders[i] = "?"
		args = append(args, sym.FQN)
	}
	var n int
	query := fmt.Sprintf(
		"SELECT COUNT(*) FROM symbol_index WHERE package != ? AND fqn IN (%s)",
		strings.Join(placeholders, ","))
	if err := s.q.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count collisions: %w", err)
	}
	return n, nil
}

// FindSymbol returns one symbol by FQN, or nil when absent.
func (s *Store) FindSymbol(fqn string) (*Symbol, error) {
	row := s.q.QueryRow("SELECT fqn, uri, package, line, is_entity FROM symbol_index WHERE fqn = ?", fqn)
	return scanSymbol(row)
}

func scanSymbol(row scanner) (*Symbol, error) {
	var sym Symbol
	var line sql.NullInt64
	var entity sql.NullBool
	err := row.Scan(&sym.FQN, &sym.URI, &sym.Package, &line, &entity)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	sym.Line = scanLine(line)
	if entity.Valid {
		sym.IsEntity = &entity.Bool
	}
	return &sym, nil
}

// ResolvePackages maps each FQN to its owning package in one grouped lookup,
// chunked under the bind-variable limit. Unresolved FQNs are absent from the
// result map.
func (s *Store) ResolvePackages(fqns []string) (map[string]string, error) {
	if len(fqns) == 0 {
		return map[string]string{}, nil
	}
	result := make(map[string]string, len(fqns))
	const batchSize = 999

	for i := 0; i < len(fqns); i += batchSize {
		end := i + batchSize
		if end > len(fqns) {
			end = len(fqns)
		}
		chunk := fqns[i:end]

		placeholders := make([]string, len(chunk))
		args := make([]any, len(chunk))
		for j, fqn := range chunk {
			placeholders[j] = "?"
			args[j] = fqn
		}
		query := fmt.Sprintf("SELECT fqn, package FROM symbol_index WHERE fqn IN (%s)",
			strings.Join(placeholders, ","))

		if err := func() error {
			rows, err := s.q.Query(query, args...)
			if err != nil {
				return fmt.Errorf("resolve packages: %w", err)
			}
			defer rows.Close()
			for rows.Next() {
				var fqn, pkg string
				if err := rows.Scan(&fqn, &pkg); err != nil {
					return err
				}
				result[fqn] = pkg
			}
			return rows.Err()
		}(); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// CountSymbols returns the total number of indexed symbols.
func (s *Store) CountSymbols() (int, error) {
	var n int
	err := s.q.QueryRow("SELECT COUNT(*) FROM symbol_index").Scan(&n)
	return n, err
}

// PackageCount is a package with its symbol count.
type PackageCount struct {
	Package string
	Count   int
}

// SymbolCountsByPackage returns per-package symbol counts, largest first.
func (s *Store) SymbolCountsByPackage() ([]PackageCount, error) {
	rows, err := s.q.Query("SELECT package, COUNT(*) as cnt FROM symbol_index GROUP BY package ORDER BY cnt DESC")
	if err != nil {
		return nil, fmt.Errorf("symbol counts: %w", err)
	}
	defer rows.Close()
	var out []PackageCount
	for rows.Next() {
		var pc PackageCount
		if err := rows.Scan(&pc.Package, &pc.Count); err != nil {
			return nil, err
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}
