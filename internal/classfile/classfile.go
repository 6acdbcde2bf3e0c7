// Package classfile decodes compiled JVM class images into an in-memory
// view suitable for fact extraction. It reads the constant pool, class-level
// metadata, fields, and methods, including each method's annotations, line
// number table, and method-invocation instructions. No other bytecode is
// interpreted.
package classfile

import "errors"

// ErrMalformedClass is returned when a class image cannot be decoded.
// Partial views are never returned alongside it.
var ErrMalformedClass = errors.New("malformed class file")

// Access flag bits, per the JVM specification.
const (
	AccPublic     = 0x0001
	AccPrivate    = 0x0002
	AccProtected  = 0x0004
	AccStatic     = 0x0008
	AccFinal      = 0x0010
	AccInterface  = 0x0200
	AccAbstract   = 0x0400
	AccSynthetic  = 0x1000
	AccAnnotation = 0x2000
	AccEnum       = 0x4000
)

// ClassView is the decoded form of one class image. All type names are
// canonical dotted FQNs ("com.example.Outer.Inner", arrays as "T[]").
type ClassView struct {
	FQN        string
	Access     uint16
	Super      string // "" for java.lang.Object itself
	Interfaces []string
	Fields     []Field
	Methods    []Method
}

// IsInterface reports whether the class image declares an interface.
func (c *ClassView) IsInterface() bool { return c.Access&AccInterface != 0 }

// IsEnum reports whether the class image declares an enum.
func (c *ClassView) IsEnum() bool { return c.Access&AccEnum != 0 }

// IsAbstract reports whether the class image is abstract.
func (c *ClassView) IsAbstract() bool { return c.Access&AccAbstract != 0 }

// Field is a declared field with its resolved type.
type Field struct {
	Name   string
	Type   string
	Access uint16
}

// Method is a declared method with its decoded signature, annotations,
// first line, and invocation sites.
type Method struct {
	Name        string
	Access      uint16
	Params      []string
	Return      string
	Annotations []string // canonical annotation type FQNs
	Line        int      // first line number table entry, -1 when absent
	Calls       []Call
}

// Call is a single method-invocation instruction inside a method body.
type Call struct {
	Opcode uint8
	Owner  string   // canonical FQN of the target's declaring type
	Name   string   // target simple name, "<init>" for constructors
	Params []string // canonical parameter type names
	Line   int      // line of the call site, -1 when unknown
}

// Invocation opcodes recognized by the decoder. invokedynamic carries a
// bootstrap method, not a direct target, and yields no Call.
const (
	OpInvokeVirtual   = 0xb6
	OpInvokeSpecial   = 0xb7
	OpInvokeStatic    = 0xb8
	OpInvokeInterface = 0xb9
)

// Visibility maps access flags to the four source-level visibilities.
// Absence of public/private/protected means package-private.
func Visibility(access uint16) string {
	switch {
	case access&AccPublic != 0:
		return "public"
	case access&AccPrivate != 0:
		return "private"
	case access&AccProtected != 0:
		return "protected"
	default:
		return "package"
	}
}
