package classfile

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Decode parses one class image. It returns ErrMalformedClass (wrapped with
// detail) on any structural problem; a partial view is never returned.
func Decode(data []byte) (*ClassView, error) {
	r := &cursor{data: data}
	if magic := r.u4(); magic != 0xCAFEBABE {
		return nil, fmt.Errorf("%w: bad magic 0x%08x", ErrMalformedClass, magic)
	}
	r.skip(4) // minor, major
	cp, err := readConstantPool(r)
	if err != nil {
		return nil, err
	}

	view := &ClassView{Access: r.u2()}
	thisIdx := r.u2()
	superIdx := r.u2()
	if view.FQN, err = cp.class(thisIdx); err != nil {
		return nil, err
	}
	if superIdx != 0 {
		if view.Super, err = cp.class(superIdx); err != nil {
			return nil, err
		}
	}

	ifaceCount := int(r.u2())
	for i := 0; i < ifaceCount; i++ {
		name, cErr := cp.class(r.u2())
		if cErr != nil {
			return nil, cErr
		}
		view.Interfaces = append(view.Interfaces, name)
	}

	if err := readFields(r, cp, view); err != nil {
		return nil, err
	}
	if err := readMethods(r, cp, view); err != nil {
		return nil, err
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedClass, r.err)
	}
	return view, nil
}

func readFields(r *cursor, cp *constantPool, view *ClassView) error {
	count := int(r.u2())
	for i := 0; i < count; i++ {
		access := r.u2()
		name, err := cp.utf8(r.u2())
		if err != nil {
			return err
		}
		desc, err := cp.utf8(r.u2())
		if err != nil {
			return err
		}
		skipAttributes(r)
		typ, err := decodeFieldType(desc)
		if err != nil {
			return err
		}
		view.Fields = append(view.Fields, Field{Name: name, Type: typ, Access: access})
	}
	return nil
}

func readMethods(r *cursor, cp *constantPool, view *ClassView) error {
	count := int(r.u2())
	for i := 0; i < count; i++ {
		access := r.u2()
		name, err := cp.utf8(r.u2())
		if err != nil {
			return err
		}
		desc, err := cp.utf8(r.u2())
		if err != nil {
			return err
		}
		params, ret, err := decodeMethodType(desc)
		if err != nil {
			return err
		}
		m := Method{Name: name, Access: access, Params: params, Return: ret, Line: -1}
		if err := readMethodAttributes(r, cp, &m); err != nil {
			return err
		}
		view.Methods = append(view.Methods, m)
	}
	return nil
}

func readMethodAttributes(r *cursor, cp *constantPool, m *Method) error {
	attrCount := int(r.u2())
	for i := 0; i < attrCount; i++ {
		name, err := cp.utf8(r.u2())
		if err != nil {
			return err
		}
		length := int(r.u4())
		body := r.bytes(length)
		if r.err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedClass, r.err)
		}
		switch name {
		case "Code":
			if err := readCode(&cursor{data: body}, cp, m); err != nil {
				return err
			}
		case "RuntimeVisibleAnnotations", "RuntimeInvisibleAnnotations":
			if err := readAnnotations(&cursor{data: body}, cp, m); err != nil {
				return err
			}
		}
	}
	return nil
}

// lineEntry maps a bytecode offset to a source line.
type lineEntry struct {
	startPC uint16
	line    int
}

func readCode(r *cursor, cp *constantPool, m *Method) error {
	r.skip(4) // max_stack, max_locals
	codeLen := int(r.u4())
	code := r.bytes(codeLen)
	exCount := int(r.u2())
	r.skip(exCount * 8)

	var lines []lineEntry
	attrCount := int(r.u2())
	for i := 0; i < attrCount; i++ {
		name, err := cp.utf8(r.u2())
		if err != nil {
			return err
		}
		length := int(r.u4())
		body := r.bytes(length)
		if name != "LineNumberTable" {
			continue
		}
		lr := &cursor{data: body}
		n := int(lr.u2())
		for j := 0; j < n; j++ {
			pc := lr.u2()
			line := int(lr.u2())
			lines = append(lines, lineEntry{startPC: pc, line: line})
		}
		if lr.err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedClass, lr.err)
		}
	}
	if r.err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedClass, r.err)
	}

	// The method line is the first table entry in declaration order, matching
	// how a streaming visitor observes visitLineNumber.
	if len(lines) > 0 {
		m.Line = lines[0].line
	}
	return scanCalls(code, cp, lines, m)
}

// scanCalls walks the bytecode stream and records every direct
// method-invocation instruction with the line active at its offset.
func scanCalls(code []byte, cp *constantPool, lines []lineEntry, m *Method) error {
	sorted := make([]lineEntry, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].startPC < sorted[j].startPC })

	pc := 0
	for pc < len(code) {
		op := code[pc]
		switch op {
		case OpInvokeVirtual, OpInvokeSpecial, OpInvokeStatic, OpInvokeInterface:
			if pc+2 >= len(code) {
				return fmt.Errorf("%w: truncated invoke at pc %d", ErrMalformedClass, pc)
			}
			refIdx := binary.BigEndian.Uint16(code[pc+1 : pc+3])
			owner, name, desc, err := cp.methodRef(refIdx)
			if err != nil {
				return err
			}
			params, _, err := decodeMethodType(desc)
			if err != nil {
				return err
			}
			m.Calls = append(m.Calls, Call{
				Opcode: op,
				Owner:  owner,
				Name:   name,
				Params: params,
				Line:   lineAt(sorted, pc),
			})
		}
		size, err := instructionSize(code, pc)
		if err != nil {
			return err
		}
		pc += size
	}
	return nil
}

// lineAt returns the line of the latest table entry at or before pc, or -1.
func lineAt(sorted []lineEntry, pc int) int {
	line := -1
	for _, e := range sorted {
		if int(e.startPC) > pc {
			break
		}
		line = e.line
	}
	return line
}

// opSizes holds fixed instruction sizes; 0 marks variable-length or invalid
// opcodes handled explicitly.
var opSizes = buildOpSizes()

func buildOpSizes() [256]int {
	var s [256]int
	for op := 0x00; op <= 0x0f; op++ { // nop .. dconst_1
		s[op] = 1
	}
	s[0x10] = 2 // bipush
	s[0x11] = 3 // sipush
	s[0x12] = 2 // ldc
	s[0x13] = 3 // ldc_w
	s[0x14] = 3 // ldc2_w
	for op := 0x15; op <= 0x19; op++ { // iload .. aload
		s[op] = 2
	}
	for op := 0x1a; op <= 0x35; op++ { // iload_0 .. saload
		s[op] = 1
	}
	for op := 0x36; op <= 0x3a; op++ { // istore .. astore
		s[op] = 2
	}
	for op := 0x3b; op <= 0x83; op++ { // istore_0 .. lxor
		s[op] = 1
	}
	s[0x84] = 3 // iinc
	for op := 0x85; op <= 0x98; op++ { // i2l .. dcmpg
		s[op] = 1
	}
	for op := 0x99; op <= 0xa8; op++ { // ifeq .. jsr
		s[op] = 3
	}
	s[0xa9] = 2 // ret
	for op := 0xac; op <= 0xb1; op++ { // ireturn .. return
		s[op] = 1
	}
	for op := 0xb2; op <= 0xb8; op++ { // getstatic .. invokestatic
		s[op] = 3
	}
	s[0xb9] = 5 // invokeinterface
	s[0xba] = 5 // invokedynamic
	s[0xbb] = 3 // new
	s[0xbc] = 2 // newarray
	s[0xbd] = 3 // anewarray
	s[0xbe] = 1 // arraylength
	s[0xbf] = 1 // athrow
	s[0xc0] = 3 // checkcast
	s[0xc1] = 3 // instanceof
	s[0xc2] = 1 // monitorenter
	s[0xc3] = 1 // monitorexit
	s[0xc5] = 4 // multianewarray
	s[0xc6] = 3 // ifnull
	s[0xc7] = 3 // ifnonnull
	s[0xc8] = 5 // goto_w
	s[0xc9] = 5 // jsr_w
	return s
}

func instructionSize(code []byte, pc int) (int, error) {
	op := code[pc]
	switch op {
	case 0xaa: // tableswitch
		base := pc + 1 + pad4(pc+1)
		if base+12 > len(code) {
			return 0, fmt.Errorf("%w: truncated tableswitch at pc %d", ErrMalformedClass, pc)
		}
		low := int(int32(binary.BigEndian.Uint32(code[base+4 : base+8])))
		high := int(int32(binary.BigEndian.Uint32(code[base+8 : base+12])))
		if high < low {
			return 0, fmt.Errorf("%w: tableswitch high < low at pc %d", ErrMalformedClass, pc)
		}
		return base - pc + 12 + (high-low+1)*4, nil
	case 0xab: // lookupswitch
		base := pc + 1 + pad4(pc+1)
		if base+8 > len(code) {
			return 0, fmt.Errorf("%w: truncated lookupswitch at pc %d", ErrMalformedClass, pc)
		}
		npairs := int(int32(binary.BigEndian.Uint32(code[base+4 : base+8])))
		if npairs < 0 {
			return 0, fmt.Errorf("%w: negative lookupswitch pairs at pc %d", ErrMalformedClass, pc)
		}
		return base - pc + 8 + npairs*8, nil
	case 0xc4: // wide
		if pc+1 >= len(code) {
			return 0, fmt.Errorf("%w: truncated wide at pc %d", ErrMalformedClass, pc)
		}
		if code[pc+1] == 0x84 { // wide iinc
			return 6, nil
		}
		return 4, nil
	}
	if size := opSizes[op]; size > 0 {
		return size, nil
	}
	return 0, fmt.Errorf("%w: unknown opcode 0x%02x at pc %d", ErrMalformedClass, op, pc)
}

func pad4(off int) int {
	return (4 - off%4) % 4
}

// readAnnotations collects annotation type FQNs from a
// RuntimeVisibleAnnotations / RuntimeInvisibleAnnotations attribute body.
func readAnnotations(r *cursor, cp *constantPool, m *Method) error {
	n := int(r.u2())
	for i := 0; i < n; i++ {
		if err := readAnnotation(r, cp, m); err != nil {
			return err
		}
	}
	if r.err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedClass, r.err)
	}
	return nil
}

func readAnnotation(r *cursor, cp *constantPool, m *Method) error {
	desc, err := cp.utf8(r.u2())
	if err != nil {
		return err
	}
	if fqn := annotationFQN(desc); fqn != "" && m != nil {
		m.Annotations = append(m.Annotations, fqn)
	}
	pairs := int(r.u2())
	for i := 0; i < pairs; i++ {
		r.skip(2) // element name
		if err := skipElementValue(r, cp); err != nil {
			return err
		}
	}
	return nil
}

// skipElementValue advances past one annotation element_value.
func skipElementValue(r *cursor, cp *constantPool) error {
	tag := r.u1()
	switch tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's', 'c':
		r.skip(2)
	case 'e':
		r.skip(4)
	case '@':
		return readAnnotation(r, cp, nil)
	case '[':
		n := int(r.u2())
		for i := 0; i < n; i++ {
			if err := skipElementValue(r, cp); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: unknown element_value tag %q", ErrMalformedClass, tag)
	}
	return nil
}

// skipAttributes advances past a full attributes block.
func skipAttributes(r *cursor) {
	count := int(r.u2())
	for i := 0; i < count; i++ {
		r.skip(2)
		length := int(r.u4())
		r.skip(length)
	}
}

// cursor is a bounds-checked big-endian reader with a sticky error.
type cursor struct {
	data []byte
	off  int
	err  error
}

func (c *cursor) fail(n int) {
	if c.err == nil {
		c.err = fmt.Errorf("unexpected end of data at offset %d (want %d bytes)", c.off, n)
	}
}

func (c *cursor) u1() uint8 {
	if c.err != nil || c.off+1 > len(c.data) {
		c.fail(1)
		return 0
	}
	v := c.data[c.off]
	c.off++
	return v
}

func (c *cursor) u2() uint16 {
	if c.err != nil || c.off+2 > len(c.data) {
		c.fail(2)
		return 0
	}
	v := binary.BigEndian.Uint16(c.data[c.off:])
	c.off += 2
	return v
}

func (c *cursor) u4() uint32 {
	if c.err != nil || c.off+4 > len(c.data) {
		c.fail(4)
		return 0
	}
	v := binary.BigEndian.Uint32(c.data[c.off:])
	c.off += 4
	return v
}

func (c *cursor) bytes(n int) []byte {
	if c.err != nil || n < 0 || c.off+n > len(c.data) {
		c.fail(n)
		return nil
	}
	b := c.data[c.off : c.off+n]
	c.off += n
	return b
}

func (c *cursor) skip(n int) {
	if c.err != nil || n < 0 || c.off+n > len(c.data) {
		c.fail(n)
		return
	}
	c.off += n
}
