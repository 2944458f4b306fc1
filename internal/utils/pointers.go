package utils

// Value dereferences p, returning the zero value when p is nil. Used for the
// optional pointer fields in API response payloads.
func Value[T any](p *T) T {
	if p == nil {
		return *new(T)
	}
	return *p
}

// FirstNonEmpty returns the first non-empty string in values, or "" when all
// are empty. Used when an API response carries the same field at more than
// one nesting level.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
