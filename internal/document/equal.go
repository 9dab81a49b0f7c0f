package document

import (
	"encoding/json"
	"reflect"
)

// Equal reports deep structural equality between two documents. Both sides
// are canonicalized through their JSON encoding first, so a value that was
// loaded from storage (where every number is a float64) compares equal to
// the same value freshly built in memory. Nothing is ignored: any change to
// metadata, sections, blocks, layouts or theme makes the documents unequal.
func Equal(a, b Document) bool {
	return reflect.DeepEqual(canonical(a), canonical(b))
}

func canonical(doc Document) any {
	encoded, err := json.Marshal(doc)
	if err != nil {
		return doc
	}
	var value any
	if err := json.Unmarshal(encoded, &value); err != nil {
		return doc
	}
	return value
}

// Clone returns a deep copy of the document sharing no mutable state with
// the original. Used for the persisted-state snapshot the change detector
// compares against.
func Clone(doc Document) Document {
	encoded, err := json.Marshal(doc)
	if err != nil {
		return doc
	}
	var out Document
	if err := json.Unmarshal(encoded, &out); err != nil {
		return doc
	}
	Ensure(&out)
	return out
}
