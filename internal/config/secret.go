package config

// Secret holds a credential (bot tokens, webhook URLs) that must never reach
// a log line or a dumped config. Every textual rendering redacts it; the raw
// value is only available through Reveal.
type Secret string

// Reveal returns the underlying value for use at the call site that actually
// needs it.
func (s Secret) Reveal() string {
	return string(s)
}

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

func (s Secret) MarshalYAML() (interface{}, error) {
	if s == "" {
		return "", nil
	}
	return "[REDACTED]", nil
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}

// GoString keeps %#v output redacted as well.
func (s Secret) GoString() string {
	if s == "" {
		return `""`
	}
	return `"[REDACTED]"`
}
