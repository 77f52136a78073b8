package language

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"en", "en"},
		{" de ", "de"},
		{"pt-BR", "pt-BR"},
		{"English", "en"},
		{"german", "de"},
		{"auto", ""},
		{"", ""},
		{"klingon-ish", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestName(t *testing.T) {
	assert.Equal(t, "German", Name("de"))
	assert.Equal(t, "xx-unknown", Name("xx-unknown"))
}
