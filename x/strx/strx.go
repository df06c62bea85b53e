package strx

// Coalesce returns s unless it is empty, in which case the default d is
// returned. Device builders use it to fill optional config fields.
func Coalesce(s, d string) string {
	if s == "" {
		return d
	}
	return s
}
