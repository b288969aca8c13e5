// Package params keeps a URL's query string and an editable list of
// key/value pairs in step with each other.
package params

import (
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
)

// Pair is a single key/value entry as edited in a dynamic list widget.
// Key and Value hold decoded text and may be empty while a row is being edited.
type Pair struct {
	Key   string `json:"key"`
	Value string `json:"value"`

	// Bare is set for a query token that carried no '=' at all.
	Bare bool `json:"-"`
}

// UnmarshalJSON accepts "prop" as an alias of "key".
func (p *Pair) UnmarshalJSON(data []byte) error {
	var raw struct {
		Key   *string `json:"key"`
		Prop  *string `json:"prop"`
		Value *string `json:"value"`
	}
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return err
	}

	*p = Pair{}
	switch {
	case raw.Key != nil:
		p.Key = *raw.Key
	case raw.Prop != nil:
		p.Key = *raw.Prop
	}
	if raw.Value != nil {
		p.Value = *raw.Value
	}
	return nil
}

// Complete reports whether both the key and the value are filled in.
func (p Pair) Complete() bool {
	return p.Key != "" && p.Value != ""
}

// URL is a connection URL split into its base and its parameter list.
type URL struct {
	Base   string
	Params []Pair
}

// ParseURL splits raw into its base and its decoded parameters.
func ParseURL(raw string) URL {
	return URL{
		Base:   Base(raw),
		Params: Parse(raw),
	}
}

// String composes the URL back into text.
func (u URL) String() string {
	return Compose(u.Base, u.Params)
}

// Base returns raw up to and excluding the first '?'.
func Base(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}

// Parse derives the ordered parameter list from the query component of raw.
// It never fails: malformed percent-escapes are kept as raw text, tokens
// without '=' become bare pairs and empty tokens are skipped.
func Parse(raw string) []Pair {
	i := strings.IndexByte(raw, '?')
	if i < 0 || i == len(raw)-1 {
		return nil
	}

	tokens := strings.Split(raw[i+1:], "&")
	pairs := make([]Pair, 0, len(tokens))
	for _, token := range tokens {
		if token == "" {
			continue
		}

		// Only the first '=' separates; the rest belong to the value
		key, value, found := strings.Cut(token, "=")
		if !found {
			pairs = append(pairs, Pair{Key: decode(token), Bare: true})
			continue
		}
		pairs = append(pairs, Pair{Key: decode(key), Value: decode(value)})
	}
	return pairs
}

// Compose joins base with every complete pair as key=value, in order.
// Pairs missing a key or a value are skipped. No encoding is applied.
func Compose(base string, pairs []Pair) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if !p.Complete() {
			continue
		}
		parts = append(parts, p.Key+"="+p.Value)
	}

	if len(parts) == 0 {
		return base
	}
	return base + "?" + strings.Join(parts, "&")
}

// decode percent-decodes s the way a browser's decodeURIComponent does,
// leaving '+' alone. A malformed escape yields s unchanged.
func decode(s string) string {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}
