package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// Node is one row of the nodes table: a class, interface, enum, or method.
type Node struct {
	FQN             string
	Type            string
	Package         string
	Line            int // -1 stores as NULL
	Visibility      string
	HasOverride     bool
	IsTransactional bool
}

// Formula-derived batch size: SQLite has a 999 bind variable limit.
const numNodeCols = 7
const nodesBatchSize = 999 / numNodeCols // = 142

// UpsertNodeBatch inserts or updates nodes in batched multi-row INSERTs,
// keyed by FQN.
func (s *Store) UpsertNodeBatch(nodes []*Node) error {
	for i := 0; i < len(nodes); i += nodesBatchSize {
		end := i + nodesBatchSize
		if end > len(nodes) {
			end = len(nodes)
		}
		if err := s.upsertNodeChunk(nodes[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) upsertNodeChunk(batch []*Node) error {
	if len(batch) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO nodes (fqn, type, package, line, visibility, has_override, is_transactional) VALUES ")

	args := make([]any, 0, len(batch)*numNodeCols)
	for i, n := range batch {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString("(?,?,?,?,?,?,?)")
		args = append(args, n.FQN, n.Type, n.Package, nullableLine(n.Line), n.Visibility, n.HasOverride, n.IsTransactional)
	}
	sb.WriteString(` ON CONFLICT(fqn) DO UPDATE SET
		type=excluded.type, package=excluded.package, line=excluded.line,
		visibility=excluded.visibility, has_override=excluded.has_override,
		is_transactional=excluded.is_transactional`)

	if _, err := s.q.Exec(sb.String(), args...); err != nil {
		return fmt.Errorf("upsert node batch: %w", err)
	}
	return nil
}

// FindNode returns one node by FQN, or nil when absent.
func (s *Store) FindNode(fqn string) (*Node, error) {
	row := s.q.QueryRow(`SELECT fqn, type, package, line, visibility, has_override, is_transactional
		FROM nodes WHERE fqn = ?`, fqn)
	return scanNode(row)
}

// FindNodesByPackage returns all nodes of one package.
func (s *Store) FindNodesByPackage(pkg string) ([]*Node, error) {
	rows, err := s.q.Query(`SELECT fqn, type, package, line, visibility, has_override, is_transactional
		FROM nodes WHERE package = ? ORDER BY fqn`, pkg)
	if err != nil {
		return nil, fmt.Errorf("find nodes by package: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// CountNodes returns the total number of nodes.
func (s *Store) CountNodes() (int, error) {
	var n int
	err := s.q.QueryRow("SELECT COUNT(*) FROM nodes").Scan(&n)
	return n, err
}

func scanNode(row scanner) (*Node, error) {
	var n Node
	var line sql.NullInt64
	err := row.Scan(&n.FQN, &n.Type, &n.Package, &line, &n.Visibility, &n.HasOverride, &n.IsTransactional)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	n.Line = scanLine(line)
	return &n, nil
}

func scanNodes(rows *sql.Rows) ([]*Node, error) {
	var result []*Node
	for rows.Next() {
		var n Node
		var line sql.NullInt64
		if err := rows.Scan(&n.FQN, &n.Type, &n.Package, &line, &n.Visibility, &n.HasOverride, &n.IsTransactional); err != nil {
			return nil, err
		}
		n.Line = scanLine(line)
		result = append(result, &n)
	}
	return result, rows.Err()
}
