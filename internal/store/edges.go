package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// Edge is one row of the edges table. Edges are not deduplicated; the same
// call on different lines yields distinct rows.
type Edge struct {
	ID          int64
	FromFQN     string
	EdgeType    string
	ToFQN       string
	Kind        string
	FromPackage string
	ToPackage   string
	FromLine    int // -1 stores as NULL
}

// Formula-derived batch size: SQLite has a 999 bind variable limit.
const numEdgeCols = 7
const edgesBatchSize = 999 / numEdgeCols // = 142

// InsertEdgeBatch appends edges in batched multi-row INSERTs.
func (s *Store) InsertEdgeBatch(edges []*Edge) error {
	for i := 0; i < len(edges); i += edgesBatchSize {
		end := i + edgesBatchSize
		if end > len(edges) {
			end = len(edges)
		}
		if err := s.insertEdgeChunk(edges[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insertEdgeChunk(batch []*Edge) error {
	if len(batch) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO edges (from_fqn, edge_type, to_fqn, kind, from_package, to_package, from_line) VALUES ")

	args := make([]any, 0, len(batch)*numEdgeCols)
	for i, e := range batch {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString("(?,?,?,?,?,?,?)")
		args = append(args, e.FromFQN, e.EdgeType, e.ToFQN, e.Kind, e.FromPackage, e.ToPackage, nullableLine(e.FromLine))
	}
	if _, err := s.q.Exec(sb.String(), args...); err != nil {
		return fmt.Errorf("insert edge batch: %w", err)
	}
	return nil
}

// FindEdgesByFromPackage returns all edges originating from one package, in
// insertion order.
func (s *Store) FindEdgesByFromPackage(pkg string) ([]*Edge, error) {
	rows, err := s.q.Query(`SELECT id, from_fqn, edge_type, to_fqn, kind, from_package, to_package, from_line
		FROM edges WHERE from_package = ? ORDER BY id`, pkg)
	if err != nil {
		return nil, fmt.Errorf("find edges by from_package: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// FindEdgesByFrom returns all edges originating from one FQN.
func (s *Store) FindEdgesByFrom(fqn string) ([]*Edge, error) {
	rows, err := s.q.Query(`SELECT id, from_fqn, edge_type, to_fqn, kind, from_package, to_package, from_line
		FROM edges WHERE from_fqn = ? ORDER BY id`, fqn)
	if err != nil {
		return nil, fmt.Errorf("find edges by from_fqn: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// CountEdges returns the total number of edges.
func (s *Store) CountEdges() (int, error) {
	var n int
	err := s.q.QueryRow("SELECT COUNT(*) FROM edges").Scan(&n)
	return n, err
}

func scanEdges(rows *sql.Rows) ([]*Edge, error) {
	var result []*Edge
	for rows.Next() {
		var e Edge
		var line sql.NullInt64
		if err := rows.Scan(&e.ID, &e.FromFQN, &e.EdgeType, &e.ToFQN, &e.Kind, &e.FromPackage, &e.ToPackage, &line); err != nil {
			return nil, err
		}
		e.FromLine = scanLine(line)
		result = append(result, &e)
	}
	return result, rows.Err()
}
