package classfile

import (
	"fmt"
	"strings"
)

// Constant pool tags, per the JVM specification.
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

type cpEntry struct {
	tag  uint8
	a, b uint16
	str  string
}

// constantPool is the decoded constant pool, 1-indexed as in the format.
type constantPool struct {
	entries []cpEntry
}

func readConstantPool(r *cursor) (*constantPool, error) {
	count := int(r.u2())
	if r.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedClass, r.err)
	}
	cp := &constantPool{entries: make([]cpEntry, count)}
	for i := 1; i < count; i++ {
		tag := r.u1()
		e := cpEntry{tag: tag}
		switch tag {
		case tagUtf8:
			n := int(r.u2())
			e.str = string(r.bytes(n))
		case tagInteger, tagFloat:
			r.skip(4)
		case tagLong, tagDouble:
			r.skip(8)
			cp.entries[i] = e
			i++ // longs and doubles occupy two pool slots
			continue
		case tagClass, tagString, tagMethodType, tagModule, tagPackage:
			e.a = r.u2()
		case tagFieldref, tagMethodref, tagInterfaceMethodref, tagNameAndType, tagDynamic, tagInvokeDynamic:
			e.a = r.u2()
			e.b = r.u2()
		case tagMethodHandle:
			r.skip(1)
			e.a = r.u2()
		default:
			return nil, fmt.Errorf("%w: unknown constant pool tag %d at index %d", ErrMalformedClass, tag, i)
		}
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedClass, r.err)
		}
		cp.entries[i] = e
	}
	return cp, nil
}

func (cp *constantPool) at(idx uint16, tag uint8) (cpEntry, error) {
	i := int(idx)
	if i <= 0 || i >= len(cp.entries) {
		return cpEntry{}, fmt.Errorf("%w: constant pool index %d out of range", ErrMalformedClass, idx)
	}
	e := cp.entries[i]
	if e.tag != tag {
		return cpEntry{}, fmt.Errorf("%w: constant pool index %d has tag %d, want %d", ErrMalformedClass, idx, e.tag, tag)
	}
	return e, nil
}

func (cp *constantPool) utf8(idx uint16) (string, error) {
	e, err := cp.at(idx, tagUtf8)
	if err != nil {
		return "", err
	}
	return e.str, nil
}

// class resolves a Class entry to a canonical FQN. Array classes
// ("[Ljava/lang/Object;") are decoded through the descriptor grammar.
func (cp *constantPool) class(idx uint16) (string, error) {
	e, err := cp.at(idx, tagClass)
	if err != nil {
		return "", err
	}
	internal, err := cp.utf8(e.a)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(internal, "[") {
		return decodeFieldType(internal)
	}
	return canonicalName(internal), nil
}

// methodRef resolves a Methodref or InterfaceMethodref entry into the
// target's declaring type, simple name, and raw method descriptor.
func (cp *constantPool) methodRef(idx uint16) (owner, name, desc string, err error) {
	i := int(idx)
	if i <= 0 || i >= len(cp.entries) {
		return "", "", "", fmt.Errorf("%w: method ref index %d out of range", ErrMalformedClass, idx)
	}
	e := cp.entries[i]
	if e.tag != tagMethodref && e.tag != tagInterfaceMethodref {
		return "", "", "", fmt.Errorf("%w: index %d is not a method reference (tag %d)", ErrMalformedClass, idx, e.tag)
	}
	if owner, err = cp.class(e.a); err != nil {
		return "", "", "", err
	}
	nt, err := cp.at(e.b, tagNameAndType)
	if err != nil {
		return "", "", "", err
	}
	if name, err = cp.utf8(nt.a); err != nil {
		return "", "", "", err
	}
	if desc, err = cp.utf8(nt.b); err != nil {
		return "", "", "", err
	}
	return owner, name, desc, nil
}
