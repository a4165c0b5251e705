package config

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecret_RedactsEveryRendering(t *testing.T) {
	s := Secret("123456:ABCDEF")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED] token", fmt.Sprintf("%v token", s))
	assert.Equal(t, `"[REDACTED]"`, fmt.Sprintf("%#v", s))

	data, err := s.MarshalJSON()
	assert.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(data))

	val, err := s.MarshalYAML()
	assert.NoError(t, err)
	assert.Equal(t, "[REDACTED]", val)
}

func TestSecret_EmptyStaysEmpty(t *testing.T) {
	empty := Secret("")
	assert.Equal(t, "", empty.String())
	assert.Equal(t, `""`, fmt.Sprintf("%#v", empty))

	val, err := empty.MarshalYAML()
	assert.NoError(t, err)
	assert.Equal(t, "", val)
}

func TestSecret_RevealReturnsRawValue(t *testing.T) {
	s := Secret("123456:ABCDEF")
	assert.Equal(t, "123456:ABCDEF", s.Reveal())
}
