package client

import (
	"net/url"
	"strings"

	"github.com/jaxron/conndef/pkg/params"
)

// Query is an ordered list of key/value pairs, used for query parameters
// and form values. Unlike url.Values it keeps the order in which pairs were
// added and allows repeated keys side by side.
type Query []params.Pair

// Get retrieves the first value associated with the given key.
// If there are no values associated with the key, Get returns
// the empty string.
func (q Query) Get(key string) string {
	for _, p := range q {
		if p.Key == key {
			return p.Value
		}
	}
	return ""
}

// Has reports whether key appears in the query.
func (q Query) Has(key string) bool {
	for _, p := range q {
		if p.Key == key {
			return true
		}
	}
	return false
}

// Set assigns the key to a single value. The first existing pair with the
// key is updated in place and any later ones are removed.
func (q *Query) Set(key, value string) {
	out := (*q)[:0]
	found := false
	for _, p := range *q {
		if p.Key != key {
			out = append(out, p)
			continue
		}
		if !found {
			out = append(out, params.Pair{Key: key, Value: value})
			found = true
		}
	}
	if !found {
		out = append(out, params.Pair{Key: key, Value: value})
	}
	*q = out
}

// Add appends a pair. Pairs with an empty key are ignored.
func (q *Query) Add(key, value string) {
	if key == "" {
		return
	}
	*q = append(*q, params.Pair{Key: key, Value: value})
}

// AddPairs appends every pair that has a key, keeping bare pairs bare.
func (q *Query) AddPairs(pairs ...params.Pair) {
	for _, p := range pairs {
		if p.Key == "" {
			continue
		}
		*q = append(*q, p)
	}
}

// Encode converts the Query into a URL-encoded string in insertion order
// ("foo=quux&bar=baz"). Bare pairs are written as the key alone.
func (q Query) Encode() string {
	if len(q) == 0 {
		return ""
	}

	var buf strings.Builder
	for _, p := range q {
		// Add '&' separator if it's not the first key-value pair
		if buf.Len() > 0 {
			buf.WriteByte('&')
		}

		buf.WriteString(url.QueryEscape(p.Key))
		if p.Bare {
			continue
		}
		buf.WriteByte('=')
		buf.WriteString(url.QueryEscape(p.Value))
	}
	return buf.String()
}
