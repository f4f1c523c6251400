package harvest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidIdentifier(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want bool
	}{
		{"RX312", true},
		{"X1-24", true},
		{"G5V-1-DC12", true},
		{"E3Z-T61 2M", true},
		{"LM317T", true},
		{"AB", false},
		{"VDC", false},
		{"12345", false},
		{"12VDC", false},
		{"10mA", false},
		{"4.7kΩ", false},
		{"ISO9001", false},
		{"EN 60947", false},
		{"Rev3", false},
		{"2024-01-15", false},
		{"v1.2.3", false},
		{"RX{voltage}", false},
		{"PN 12 34 56 78", false},
		{"ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789ABCDEF", false},
		{"AB*12", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidIdentifier(tt.in), tt.in)
	}
}

func TestTextTokens(t *testing.T) {
	t.Parallel()
	text := "The RX112 relay (see RX124, EN60947) rated 24VDC. Also try TQ2-5V and RX112 again."

	assert.Equal(t, []string{"RX112", "RX124", "TQ2-5V"}, textTokens(text, nil))
	assert.Equal(t, []string{"RX112", "RX124"}, textTokens(text, []string{"rx"}))
	assert.Empty(t, textTokens("", nil))
}
