// Package classtest assembles minimal, valid class images for tests.
// Builders cover exactly the structures the decoder reads: constant pool,
// class metadata, fields, and methods with code, line tables, and
// annotations.
package classtest

import (
	"bytes"
	"encoding/binary"

	"github.com/bricklead/jvmgraph/internal/classfile"
)

// Builder assembles one class image.
type Builder struct {
	access     uint16
	thisName   string // internal form: com/example/Foo
	superName  string // "" emits index 0 (no superclass)
	interfaces []string
	fields     []fieldDef
	methods    []*MethodBuilder

	cp []cpConst
}

type fieldDef struct {
	access     uint16
	name, desc string
}

type cpConst struct {
	tag  byte
	a, b uint16
	str  string
}

// New returns a builder for a public class extending java.lang.Object.
func New(internalName string) *Builder {
	return &Builder{
		access:    classfile.AccPublic,
		thisName:  internalName,
		superName: "java/lang/Object",
	}
}

// Access replaces the class access flags.
func (b *Builder) Access(flags uint16) *Builder {
	b.access = flags
	return b
}

// Super sets the superclass internal name ("" for none).
func (b *Builder) Super(internalName string) *Builder {
	b.superName = internalName
	return b
}

// Implements appends interface internal names.
func (b *Builder) Implements(internalNames ...string) *Builder {
	b.interfaces = append(b.interfaces, internalNames...)
	return b
}

// Field declares a field with a raw descriptor.
func (b *Builder) Field(access uint16, name, desc string) *Builder {
	b.fields = append(b.fields, fieldDef{access: access, name: name, desc: desc})
	return b
}

// Method starts a method; chain calls on the returned MethodBuilder.
func (b *Builder) Method(access uint16, name, desc string) *MethodBuilder {
	m := &MethodBuilder{b: b, access: access, name: name, desc: desc}
	b.methods = append(b.methods, m)
	return m
}

// MethodBuilder composes one method's code, lines, and annotations.
type MethodBuilder struct {
	b          *Builder
	access     uint16
	name, desc string
	code       []byte
	lines      [][2]uint16 // pc, line
	annots     []string    // raw descriptors
	noCode     bool
}

// Abstract omits the Code attribute entirely.
func (m *MethodBuilder) Abstract() *MethodBuilder {
	m.noCode = true
	return m
}

// Line records a LineNumberTable entry at the current code offset.
func (m *MethodBuilder) Line(line int) *MethodBuilder {
	m.lines = append(m.lines, [2]uint16{uint16(len(m.code)), uint16(line)})
	return m
}

// Invoke appends a method-invocation instruction targeting
// owner.name with the given raw descriptor.
func (m *MethodBuilder) Invoke(opcode byte, owner, name, desc string) *MethodBuilder {
	ref := m.b.addMethodRef(owner, name, desc, opcode == classfile.OpInvokeInterface)
	m.code = append(m.code, opcode)
	m.code = binary.BigEndian.AppendUint16(m.code, ref)
	if opcode == classfile.OpInvokeInterface {
		m.code = append(m.code, 1, 0) // count, reserved
	}
	return m
}

// Annotate attaches a runtime-visible annotation by raw descriptor.
func (m *MethodBuilder) Annotate(desc string) *MethodBuilder {
	m.annots = append(m.annots, desc)
	return m
}

// Done returns the parent builder for further chaining.
func (m *MethodBuilder) Done() *Builder { return m.b }

// Constant pool assembly. Entries are appended without deduplication; the
// decoder does not care.

func (b *Builder) addUtf8(s string) uint16 {
	b.cp = append(b.cp, cpConst{tag: 1, str: s})
	return uint16(len(b.cp))
}

func (b *Builder) addClass(internal string) uint16 {
	n := b.addUtf8(internal)
	b.cp = append(b.cp, cpConst{tag: 7, a: n})
	return uint16(len(b.cp))
}

func (b *Builder) addNameAndType(name, desc string) uint16 {
	n := b.addUtf8(name)
	d := b.addUtf8(desc)
	b.cp = append(b.cp, cpConst{tag: 12, a: n, b: d})
	return uint16(len(b.cp))
}

func (b *Builder) addMethodRef(owner, name, desc string, iface bool) uint16 {
	c := b.addClass(owner)
	nt := b.addNameAndType(name, desc)
	tag := byte(10)
	if iface {
		tag = 11
	}
	b.cp = append(b.cp, cpConst{tag: tag, a: c, b: nt})
	return uint16(len(b.cp))
}

// Bytes assembles the final class image.
func (b *Builder) Bytes() []byte {
	thisIdx := b.addClass(b.thisName)
	superIdx := uint16(0)
	if b.superName != "" {
		superIdx = b.addClass(b.superName)
	}
	var ifaceIdx []uint16
	for _, name := range b.interfaces {
		ifaceIdx = append(ifaceIdx, b.addClass(name))
	}

	type fieldEnc struct {
		access, name, desc uint16
	}
	var fields []fieldEnc
	for _, f := range b.fields {
		fields = append(fields, fieldEnc{f.access, b.addUtf8(f.name), b.addUtf8(f.desc)})
	}

	var methodBodies []*bytes.Buffer
	for _, m := range b.methods {
		methodBodies = append(methodBodies, b.encodeMethod(m))
	}

	var out bytes.Buffer
	w := func(v any) { _ = binary.Write(&out, binary.BigEndian, v) }
	w(uint32(0xCAFEBABE))
	w(uint16(0))  // minor
	w(uint16(52)) // major (Java 8)

	w(uint16(len(b.cp) + 1))
	for _, c := range b.cp {
		out.WriteByte(c.tag)
		switch c.tag {
		case 1:
			w(uint16(len(c.str)))
			out.WriteString(c.str)
		case 7:
			w(c.a)
		default:
			w(c.a)
			w(c.b)
		}
	}

	w(b.access)
	w(thisIdx)
	w(superIdx)
	w(uint16(len(ifaceIdx)))
	for _, i := range ifaceIdx {
		w(i)
	}

	w(uint16(len(fields)))
	for _, f := range fields {
		w(f.access)
		w(f.name)
		w(f.desc)
		w(uint16(0)) // attributes
	}

	w(uint16(len(methodBodies)))
	for _, body := range methodBodies {
		out.Write(body.Bytes())
	}

	w(uint16(0)) // class attributes
	return out.Bytes()
}

// encodeMethod renders method_info including Code and annotation attributes.
// Constant pool entries are added as a side effect, so this must run before
// the pool itself is serialized; Bytes orders it accordingly.
func (b *Builder) encodeMethod(m *MethodBuilder) *bytes.Buffer {
	nameIdx := b.addUtf8(m.name)
	descIdx := b.addUtf8(m.desc)

	var attrs []*bytes.Buffer
	if !m.noCode {
		attrs = append(attrs, b.encodeCode(m))
	}
	if len(m.annots) > 0 {
		attrs = append(attrs, b.encodeAnnotations(m))
	}

	var out bytes.Buffer
	w := func(v any) { _ = binary.Write(&out, binary.BigEndian, v) }
	w(m.access)
	w(nameIdx)
	w(descIdx)
	w(uint16(len(attrs)))
	for _, a := range attrs {
		out.Write(a.Bytes())
	}
	return &out
}

func (b *Builder) encodeCode(m *MethodBuilder) *bytes.Buffer {
	codeAttr := b.addUtf8("Code")
	lineAttr := uint16(0)
	if len(m.lines) > 0 {
		lineAttr = b.addUtf8("LineNumberTable")
	}

	code := append(append([]byte{}, m.code...), 0xb1) // return

	var body bytes.Buffer
	w := func(v any) { _ = binary.Write(&body, binary.BigEndian, v) }
	w(uint16(8)) // max_stack
	w(uint16(8)) // max_locals
	w(uint32(len(code)))
	body.Write(code)
	w(uint16(0)) // exception table
	if lineAttr != 0 {
		w(uint16(1)) // one attribute
		w(lineAttr)
		w(uint32(2 + len(m.lines)*4))
		w(uint16(len(m.lines)))
		for _, e := range m.lines {
			w(e[0])
			w(e[1])
		}
	} else {
		w(uint16(0))
	}

	var out bytes.Buffer
	ow := func(v any) { _ = binary.Write(&out, binary.BigEndian, v) }
	ow(codeAttr)
	ow(uint32(body.Len()))
	out.Write(body.Bytes())
	return &out
}

func (b *Builder) encodeAnnotations(m *MethodBuilder) *bytes.Buffer {
	attrName := b.addUtf8("RuntimeVisibleAnnotations")
	var descIdx []uint16
	for _, desc := range m.annots {
		descIdx = append(descIdx, b.addUtf8(desc))
	}

	var body bytes.Buffer
	w := func(v any) { _ = binary.Write(&body, binary.BigEndian, v) }
	w(uint16(len(descIdx)))
	for _, d := range descIdx {
		w(d)
		w(uint16(0)) // no element pairs
	}

	var out bytes.Buffer
	ow := func(v any) { _ = binary.Write(&out, binary.BigEndian, v) }
	ow(attrName)
	ow(uint32(body.Len()))
	out.Write(body.Bytes())
	return &out
}
