// Package facts turns decoded class views into the node/edge fact stream
// persisted by the store. The grouped ClassRecord is also the wire shape the
// analysis service returns, so the service and the call-graph builder share
// one expansion path.
package facts

import (
	"strings"

	"github.com/bricklead/jvmgraph/internal/classfile"
)

// Node types.
const (
	NodeClass     = "class"
	NodeInterface = "interface"
	NodeEnum      = "enum"
	NodeMethod    = "method"
)

// Edge types and kinds.
const (
	EdgeInheritance = "inheritance"
	EdgeCall        = "call"
	EdgeMemberOf    = "member_of"

	KindExtends    = "extends"
	KindImplements = "implements"
	KindNew        = "new"
	KindStandard   = "standard"
	KindMethod     = "method"
	KindClass      = "class"
	KindReturn     = "return"
	KindArgument   = "argument"
)

// Node is one row of the nodes table, before package resolution.
type Node struct {
	FQN             string
	Type            string
	Line            int // -1 when the class image carries no line info
	Visibility      string
	HasOverride     bool
	IsTransactional bool
}

// Edge is one row of the edges table, before package resolution.
type Edge struct {
	FromFQN  string
	EdgeType string
	ToFQN    string
	Kind     string
	FromLine int
}

// ClassRecord is the grouped per-class analysis result. It is both the
// analyze response payload and the input to Expand.
type ClassRecord struct {
	FQN         string            `json:"fqn"`
	NodeType    string            `json:"nodeType"`
	Modifiers   []string          `json:"modifiers"`
	IsAbstract  bool              `json:"isAbstract"`
	Inheritance []InheritanceLink `json:"inheritance"`
	Fields      []FieldRecord     `json:"fields"`
	Methods     []MethodRecord    `json:"methods"`
}

type InheritanceLink struct {
	FQN  string `json:"fqn"`
	Kind string `json:"kind"`
}

type FieldRecord struct {
	Type string `json:"type"`
}

type MethodRecord struct {
	FQN             string       `json:"fqn"`
	LineNumber      int          `json:"lineNumber"`
	Modifiers       []string     `json:"modifiers"`
	HasOverride     bool         `json:"hasOverride"`
	IsTransactional bool         `json:"isTransactional"`
	ReturnType      string       `json:"returnType"`
	Arguments       []string     `json:"arguments"`
	Calls           []CallRecord `json:"calls"`
}

type CallRecord struct {
	ToFQN      string `json:"toFqn"`
	Kind       string `json:"kind"`
	LineNumber int    `json:"lineNumber"`
}

// Symbol is one indexable definition: the class itself or one of its methods.
type Symbol struct {
	FQN      string `json:"fqn"`
	NodeType string `json:"nodeType"`
	Line     int    `json:"line"`
}

var transactionalAnnotations = map[string]bool{
	"org.springframework.transaction.annotation.Transactional": true,
	"javax.transaction.Transactional":                          true,
	"jakarta.transaction.Transactional":                        true,
}

// Pervasive reports whether a canonical type name is excluded from member_of
// edges: the JVM primitives, void, and everything under java.lang. Array
// types are judged by their element type.
func Pervasive(name string) bool {
	elem := strings.TrimRight(name, "[]")
	switch elem {
	case "boolean", "byte", "char", "short", "int", "long", "float", "double", "void":
		return true
	}
	return strings.HasPrefix(elem, "java.lang.")
}

// IsEntity applies the persistence-model heuristic: the superclass chain
// names AuditableModel, or the class lives in a .db. package (the base
// Model class itself is not an entity).
func IsEntity(view *classfile.ClassView) bool {
	if view.FQN == "com.axelor.db.Model" {
		return false
	}
	return strings.Contains(view.Super, "AuditableModel") || strings.Contains(view.FQN, ".db.")
}

// FromView builds the grouped record for one decoded class. Fields, return
// types, and arguments are carried unfiltered; Expand applies the pervasive
// filter when it materializes member_of edges.
func FromView(view *classfile.ClassView) *ClassRecord {
	rec := &ClassRecord{
		FQN:        view.FQN,
		NodeType:   nodeType(view),
		Modifiers:  modifiers(view.Access),
		IsAbstract: view.IsAbstract(),
	}
	if view.Super != "" && view.Super != "java.lang.Object" {
		rec.Inheritance = append(rec.Inheritance, InheritanceLink{FQN: view.Super, Kind: KindExtends})
	}
	for _, iface := range view.Interfaces {
		rec.Inheritance = append(rec.Inheritance, InheritanceLink{FQN: iface, Kind: KindImplements})
	}
	for _, f := range view.Fields {
		rec.Fields = append(rec.Fields, FieldRecord{Type: f.Type})
	}
	for _, m := range view.Methods {
		mr := MethodRecord{
			FQN:        view.FQN + "." + m.Name + classfile.MethodSignature(m.Params),
			LineNumber: m.Line,
			Modifiers:  modifiers(m.Access),
			ReturnType: m.Return,
			Arguments:  m.Params,
		}
		for _, a := range m.Annotations {
			if a == "java.lang.Override" {
				mr.HasOverride = true
			}
			if transactionalAnnotations[a] {
				mr.IsTransactional = true
			}
		}
		for _, c := range m.Calls {
			kind := KindStandard
			if c.Opcode == classfile.OpInvokeSpecial && c.Name == "<init>" {
				kind = KindNew
			}
			mr.Calls = append(mr.Calls, CallRecord{
				ToFQN:      c.Owner + "." + c.Name + classfile.MethodSignature(c.Params),
				Kind:       kind,
				LineNumber: c.Line,
			})
		}
		rec.Methods = append(rec.Methods, mr)
	}
	return rec
}

// Symbols lists the indexable definitions of a decoded class: one symbol for
// the class and one per method, with definition lines.
func Symbols(view *classfile.ClassView) []Symbol {
	out := []Symbol{{FQN: view.FQN, NodeType: nodeType(view), Line: -1}}
	for _, m := range view.Methods {
		out = append(out, Symbol{
			FQN:      view.FQN + "." + m.Name + classfile.MethodSignature(m.Params),
			NodeType: NodeMethod,
			Line:     m.Line,
		})
	}
	return out
}

// Expand materializes a grouped record into the flat fact stream. Edge order
// is deterministic: inheritance, fields, then per method the member_of edges
// followed by calls in bytecode order.
func Expand(rec *ClassRecord) ([]Node, []Edge) {
	nodes := []Node{{
		FQN:        rec.FQN,
		Type:       rec.NodeType,
		Line:       -1,
		Visibility: visibilityOf(rec.Modifiers),
	}}
	var edges []Edge

	for _, link := range rec.Inheritance {
		edges = append(edges, Edge{
			FromFQN:  rec.FQN,
			EdgeType: EdgeInheritance,
			ToFQN:    link.FQN,
			Kind:     link.Kind,
			FromLine: -1,
		})
	}
	for _, f := range rec.Fields {
		if Pervasive(f.Type) {
			continue
		}
		edges = append(edges, Edge{
			FromFQN:  f.Type,
			EdgeType: EdgeMemberOf,
			ToFQN:    rec.FQN,
			Kind:     KindClass,
			FromLine: -1,
		})
	}
	for _, m := range rec.Methods {
		nodes = append(nodes, Node{
			FQN:             m.FQN,
			Type:            NodeMethod,
			Line:            m.LineNumber,
			Visibility:      visibilityOf(m.Modifiers),
			HasOverride:     m.HasOverride,
			IsTransactional: m.IsTransactional,
		})
		edges = append(edges, Edge{
			FromFQN:  m.FQN,
			EdgeType: EdgeMemberOf,
			ToFQN:    rec.FQN,
			Kind:     KindMethod,
			FromLine: m.LineNumber,
		})
		if !Pervasive(m.ReturnType) {
			edges = append(edges, Edge{
				FromFQN:  m.ReturnType,
				EdgeType: EdgeMemberOf,
				ToFQN:    m.FQN,
				Kind:     KindReturn,
				FromLine: -1,
			})
		}
		for _, arg := range m.Arguments {
			if Pervasive(arg) {
				continue
			}
			edges = append(edges, Edge{
				FromFQN:  arg,
				EdgeType: EdgeMemberOf,
				ToFQN:    m.FQN,
				Kind:     KindArgument,
				FromLine: -1,
			})
		}
		for _, c := range m.Calls {
			edges = append(edges, Edge{
				FromFQN:  m.FQN,
				EdgeType: EdgeCall,
				ToFQN:    c.ToFQN,
				Kind:     c.Kind,
				FromLine: c.LineNumber,
			})
		}
	}
	return nodes, edges
}

// Emit runs the full pipeline on one decoded class.
func Emit(view *classfile.ClassView) ([]Node, []Edge) {
	return Expand(FromView(view))
}

func nodeType(view *classfile.ClassView) string {
	switch {
	case view.IsEnum():
		return NodeEnum
	case view.IsInterface():
		return NodeInterface
	default:
		return NodeClass
	}
}

func modifiers(access uint16) []string {
	var out []string
	if access&classfile.AccPublic != 0 {
		out = append(out, "public")
	}
	if access&classfile.AccPrivate != 0 {
		out = append(out, "private")
	}
	if access&classfile.AccProtected != 0 {
		out = append(out, "protected")
	}
	if access&classfile.AccStatic != 0 {
		out = append(out, "static")
	}
	if access&classfile.AccFinal != 0 {
		out = append(out, "final")
	}
	if access&classfile.AccAbstract != 0 {
		out = append(out, "abstract")
	}
	return out
}

func visibilityOf(modifiers []string) string {
	for _, m := range modifiers {
		switch m {
		case "public", "private", "protected":
			return m
		}
	}
	return "package"
}
