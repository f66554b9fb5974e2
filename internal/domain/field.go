package domain

import (
	"fmt"
	"strings"
)

// Field is one comparable dimension of a file pair. The order is fixed and
// follows the comparison dependency order.
type Field int

const (
	FieldExist Field = iota
	FieldType
	FieldSize
	FieldUID
	FieldGID
	FieldAtime
	FieldMtime
	FieldCtime
	FieldPerm
	FieldACL
	FieldContent

	NumFields = int(FieldContent) + 1
)

var fieldNames = [NumFields]string{
	"EXIST", "TYPE", "SIZE", "UID", "GID", "ATIME", "MTIME", "CTIME", "PERM", "ACL", "CONTENT",
}

var fieldDescriptions = [NumFields]string{
	"existence", "type", "size", "user ID", "group ID", "access time",
	"modification time", "change time", "permission", "access control list", "content",
}

// Fields lists every field in dependency order.
func Fields() []Field {
	out := make([]Field, NumFields)
	for i := range out {
		out[i] = Field(i)
	}
	return out
}

func (f Field) String() string {
	if f < 0 || int(f) >= NumFields {
		return fmt.Sprintf("Field(%d)", int(f))
	}
	return fieldNames[f]
}

// Description is the long, human readable name used in summaries.
func (f Field) Description() string {
	if f < 0 || int(f) >= NumFields {
		return f.String()
	}
	return fieldDescriptions[f]
}

// ParseField parses a short field token such as "MTIME".
func ParseField(s string) (Field, bool) {
	for i, n := range fieldNames {
		if strings.EqualFold(n, s) {
			return Field(i), true
		}
	}
	return 0, false
}

// Dependencies returns the fields that must be compared before f, f included.
func (f Field) Dependencies() []Field {
	switch f {
	case FieldExist:
		return []Field{FieldExist}
	case FieldType:
		return []Field{FieldExist, FieldType}
	case FieldSize:
		return []Field{FieldExist, FieldType, FieldSize}
	case FieldContent:
		return []Field{FieldExist, FieldType, FieldSize, FieldContent}
	default:
		return []Field{FieldExist, f}
	}
}

// State is the comparison result of one field.
type State uint8

const (
	StateInit State = iota
	StateCommon
	StateDiffer
	StateOnlySrc
	StateOnlyDest
)

var stateNames = [...]string{"INIT", "COMMON", "DIFFER", "ONLY_SRC", "ONLY_DEST"}

func (s State) String() string {
	if int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", s)
	}
	return stateNames[s]
}

// ParseState parses a short state token such as "ONLY_SRC".
func ParseState(s string) (State, bool) {
	for i, n := range stateNames {
		if strings.EqualFold(n, s) {
			return State(i), true
		}
	}
	return 0, false
}

// FieldSet is a set of fields indexed by Field.
type FieldSet [NumFields]bool

// Add marks f and its whole dependency closure.
func (s *FieldSet) Add(f Field) {
	for _, d := range f.Dependencies() {
		s[d] = true
	}
}

// Has reports whether f is in the set.
func (s FieldSet) Has(f Field) bool {
	return s[f]
}

func (s FieldSet) String() string {
	var parts []string
	for i, ok := range s {
		if ok {
			parts = append(parts, fieldNames[i])
		}
	}
	return strings.Join(parts, ",")
}
