package types

// Document is a JSON-like object: request inputs, step outputs and
// retrieved documents all share this shape.
type Document = map[string]any

// CloneDocument returns a shallow copy of d. A nil input yields an empty
// document so callers can always write into the result.
func CloneDocument(d Document) Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
