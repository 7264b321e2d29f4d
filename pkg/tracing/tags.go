package tracing

import (
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// TagSet holds the key/value pairs attached to every span of a run
type TagSet map[string]string

// ParseTags turns "key=value" tokens into a TagSet. The token is split on the
// first '='; tokens without one are dropped.
//
//	ParseTags([]string{"mytag=abcd", "othertag=def", "malformed"})
//	// TagSet{"mytag": "abcd", "othertag": "def"}
func ParseTags(tokens []string) TagSet {
	tags := make(TagSet, len(tokens))
	for _, tok := range tokens {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		tags[k] = v
	}
	return tags
}

// Attributes returns the tags as string attributes, ordered by key
func (t TagSet) Attributes() []attribute.KeyValue {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, t[k]))
	}
	return attrs
}
