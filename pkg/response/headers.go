package response

import "strings"

// Header is the case-insensitive name/value map exposed on a Response.
// Keys are stored lowercased; when a response carries a header more than
// once, the last-seen value wins (spec §3, open question 3). readHeaders
// feeds this one line at a time, so a future multi-value accessor only
// needs to change set/Get here, not the parser.
type Header struct {
	values map[string]string
}

func newHeader() *Header {
	return &Header{values: make(map[string]string)}
}

// set records name/value, overwriting any previous value for the same
// name (last-seen wins).
func (h *Header) set(name, value string) {
	h.values[strings.ToLower(name)] = value
}

// Get returns the value stored for name (case-insensitive) and whether it
// was present.
func (h *Header) Get(name string) (string, bool) {
	v, ok := h.values[strings.ToLower(name)]
	return v, ok
}

// GetDefault returns the value stored for name, or def if absent.
func (h *Header) GetDefault(name, def string) string {
	if v, ok := h.Get(name); ok {
		return v
	}
	return def
}
