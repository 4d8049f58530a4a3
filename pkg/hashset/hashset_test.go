package hashset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnique(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"empty", nil, []string{}},
		{"no duplicates", []string{"btc", "eth"}, []string{"btc", "eth"}},
		{"keeps first occurrence", []string{"sol", "btc", "sol", "eth", "btc"}, []string{"sol", "btc", "eth"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Unique(tt.in))
		})
	}
}
