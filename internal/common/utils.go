package common

// Truncate returns b as a string, cut to max bytes with a trailing marker.
func Truncate(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
