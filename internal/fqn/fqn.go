// Package fqn holds helpers over canonical dotted names: types as
// "com.example.Outer.Inner", methods as "<owner>.<name>(<params>)".
package fqn

import (
	"path/filepath"
	"strconv"
	"strings"
)

// IsMethod reports whether an FQN names a method rather than a type.
func IsMethod(fqn string) bool {
	return strings.Contains(fqn, "(")
}

// Owner returns the declaring type of a method FQN:
// "com.ex.A.f(int)" → "com.ex.A". Type FQNs are returned unchanged.
func Owner(fqn string) string {
	paren := strings.IndexByte(fqn, '(')
	if paren < 0 {
		return fqn
	}
	head := fqn[:paren]
	dot := strings.LastIndexByte(head, '.')
	if dot < 0 {
		return head
	}
	return head[:dot]
}

// SourceRel maps a class file's path relative to its classes root to the
// .java path of its outermost class:
// "com/ex/Outer$Inner.class" → "com/ex/Outer.java".
func SourceRel(relClassPath string) string {
	rel := strings.TrimSuffix(filepath.ToSlash(relClassPath), ".class")
	slash := strings.LastIndexByte(rel, '/')
	if i := strings.IndexByte(rel[slash+1:], '$'); i >= 0 {
		rel = rel[:slash+1+i]
	}
	return rel + ".java"
}

// FileURI renders an absolute path as a file:///… URI with forward slashes.
// A non-negative line appends a ":<line>" suffix (lines are 1-based).
func FileURI(absPath string, line int) string {
	p := filepath.ToSlash(absPath)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	uri := "file://" + p
	if line >= 0 {
		uri += ":" + strconv.Itoa(line)
	}
	return uri
}
