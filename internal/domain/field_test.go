package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldDependencies(t *testing.T) {
	tests := []struct {
		field Field
		want  []Field
	}{
		{FieldExist, []Field{FieldExist}},
		{FieldType, []Field{FieldExist, FieldType}},
		{FieldSize, []Field{FieldExist, FieldType, FieldSize}},
		{FieldUID, []Field{FieldExist, FieldUID}},
		{FieldACL, []Field{FieldExist, FieldACL}},
		{FieldContent, []Field{FieldExist, FieldType, FieldSize, FieldContent}},
	}

	for _, tt := range tests {
		t.Run(tt.field.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.field.Dependencies())
		})
	}
}

func TestFieldSetAddClosure(t *testing.T) {
	var s FieldSet
	s.Add(FieldContent)

	assert.True(t, s.Has(FieldExist))
	assert.True(t, s.Has(FieldType))
	assert.True(t, s.Has(FieldSize))
	assert.True(t, s.Has(FieldContent))
	assert.False(t, s.Has(FieldMtime))
	assert.Equal(t, "EXIST,TYPE,SIZE,CONTENT", s.String())
}

func TestParseFieldAndState(t *testing.T) {
	for _, f := range Fields() {
		got, ok := ParseField(f.String())
		assert.True(t, ok)
		assert.Equal(t, f, got)
	}

	_, ok := ParseField("BOGUS")
	assert.False(t, ok)

	st, ok := ParseState("only_dest")
	assert.True(t, ok)
	assert.Equal(t, StateOnlyDest, st)

	_, ok = ParseState("BOGUS")
	assert.False(t, ok)

	assert.Equal(t, "access control list", FieldACL.Description())
	assert.Equal(t, "user ID", FieldUID.Description())
}

func TestFileRecordHelpers(t *testing.T) {
	rec := FileRecord{Path: "/src/a/b", Mode: 0100755 | 04000}
	assert.Equal(t, uint32(04755), rec.Perm())
	assert.Equal(t, 3, rec.Depth())
	assert.Equal(t, 0, FileRecord{Path: "/"}.Depth())

	assert.Equal(t, "/a/b", RelPath("/src/a/b", "/src"))
	assert.Equal(t, "", RelPath("/src", "/src"))
	assert.True(t, Timespec{1, 2}.Equal(Timespec{1, 2}))
	assert.False(t, Timespec{1, 2}.Equal(Timespec{1, 3}))
}
