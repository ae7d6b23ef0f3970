package vm

import "slices"

// ExportData marks a value as exported from a module under Path.
type ExportData struct {
	SourceID string
	Path     []string
}

// Tags are immutable; every With* returns a new set.
type Tags struct {
	Name       string
	Doc        string
	ExportData *ExportData
}

func (t *Tags) clone() *Tags {
	if t == nil {
		return &Tags{}
	}
	c := *t
	return &c
}

func (t *Tags) WithName(name string) *Tags {
	c := t.clone()
	c.Name = name
	return c
}

func (t *Tags) WithDoc(doc string) *Tags {
	c := t.clone()
	c.Doc = doc
	return c
}

func (t *Tags) WithExportData(sourceID string, path []string) *Tags {
	c := t.clone()
	c.ExportData = &ExportData{SourceID: sourceID, Path: slices.Clone(path)}
	return c
}

func (t *Tags) GetName() string {
	if t == nil {
		return ""
	}
	return t.Name
}

func (t *Tags) GetDoc() string {
	if t == nil {
		return ""
	}
	return t.Doc
}

func (t *Tags) GetExportData() *ExportData {
	if t == nil {
		return nil
	}
	return t.ExportData
}

func (t *Tags) IsEmpty() bool {
	return t == nil || (t.Name == "" && t.Doc == "" && t.ExportData == nil)
}

func (t *Tags) Equal(o *Tags) bool {
	if t.IsEmpty() || o.IsEmpty() {
		return t.IsEmpty() == o.IsEmpty()
	}
	if t.Name != o.Name || t.Doc != o.Doc {
		return false
	}
	a, b := t.ExportData, o.ExportData
	if a == nil || b == nil {
		return a == b
	}
	return a.SourceID == b.SourceID && slices.Equal(a.Path, b.Path)
}

// Tag returns v with tags merged by fn. The original value is untouched.
func Tag(v Value, fn func(*Tags) *Tags) Value {
	return v.WithTags(fn(v.Tags()))
}
