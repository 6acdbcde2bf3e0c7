package classfile

import (
	"fmt"
	"strings"
)

// canonicalName converts a JVM internal name (com/example/Outer$Inner) to
// the canonical dotted FQN (com.example.Outer.Inner).
func canonicalName(internal string) string {
	s := strings.ReplaceAll(internal, "/", ".")
	return strings.ReplaceAll(s, "$", ".")
}

// decodeFieldType decodes a single field descriptor into a canonical type
// name: "Ljava/util/List;" → "java.util.List", "[I" → "int[]", "Z" → "boolean".
func decodeFieldType(desc string) (string, error) {
	name, rest, err := decodeType(desc)
	if err != nil {
		return "", err
	}
	if rest != "" {
		return "", fmt.Errorf("%w: trailing descriptor bytes %q", ErrMalformedClass, rest)
	}
	return name, nil
}

// decodeMethodType decodes a method descriptor into its parameter type list
// and return type: "(Ljava/util/List;I)V" → (["java.util.List", "int"], "void").
func decodeMethodType(desc string) (params []string, ret string, err error) {
	if len(desc) == 0 || desc[0] != '(' {
		return nil, "", fmt.Errorf("%w: bad method descriptor %q", ErrMalformedClass, desc)
	}
	rest := desc[1:]
	for len(rest) > 0 && rest[0] != ')' {
		var name string
		name, rest, err = decodeType(rest)
		if err != nil {
			return nil, "", err
		}
		params = append(params, name)
	}
	if len(rest) == 0 || rest[0] != ')' {
		return nil, "", fmt.Errorf("%w: unterminated method descriptor %q", ErrMalformedClass, desc)
	}
	ret, rest, err = decodeType(rest[1:])
	if err != nil {
		return nil, "", err
	}
	if rest != "" {
		return nil, "", fmt.Errorf("%w: trailing descriptor bytes %q", ErrMalformedClass, rest)
	}
	return params, ret, nil
}

var primitiveNames = map[byte]string{
	'B': "byte", 'C': "char", 'D': "double", 'F': "float",
	'I': "int", 'J': "long", 'S': "short", 'Z': "boolean", 'V': "void",
}

// decodeType consumes one type from the front of a descriptor string and
// returns its canonical name plus the unconsumed remainder.
func decodeType(desc string) (name, rest string, err error) {
	dims := 0
	for len(desc) > 0 && desc[0] == '[' {
		dims++
		desc = desc[1:]
	}
	if len(desc) == 0 {
		return "", "", fmt.Errorf("%w: empty type descriptor", ErrMalformedClass)
	}
	switch c := desc[0]; c {
	case 'L':
		end := strings.IndexByte(desc, ';')
		if end < 0 {
			return "", "", fmt.Errorf("%w: unterminated object descriptor %q", ErrMalformedClass, desc)
		}
		name = canonicalName(desc[1:end])
		rest = desc[end+1:]
	default:
		p, ok := primitiveNames[c]
		if !ok {
			return "", "", fmt.Errorf("%w: unknown descriptor tag %q", ErrMalformedClass, c)
		}
		name = p
		rest = desc[1:]
	}
	return name + strings.Repeat("[]", dims), rest, nil
}

// annotationFQN decodes an annotation type descriptor ("Ljava/lang/Override;")
// into a canonical FQN; malformed descriptors yield "".
func annotationFQN(desc string) string {
	if len(desc) < 3 || desc[0] != 'L' || desc[len(desc)-1] != ';' {
		return ""
	}
	return canonicalName(desc[1 : len(desc)-1])
}

// MethodSignature renders a canonical method signature suffix from decoded
// parameter names: ["java.util.List", "int"] → "(java.util.List, int)".
func MethodSignature(params []string) string {
	return "(" + strings.Join(params, ", ") + ")"
}
