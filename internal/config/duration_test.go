package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v4"
)

func TestDurationUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{name: "seconds", input: "delay: 1s", want: time.Second},
		{name: "compound", input: "delay: 1m30s", want: 90 * time.Second},
		{name: "zero", input: "delay: 0s", want: 0},
		{name: "missing unit", input: "delay: 15", wantErr: true},
		{name: "garbage", input: "delay: soon", wantErr: true},
		{name: "negative", input: "delay: -1s", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out struct {
				Delay Duration `yaml:"delay"`
			}
			err := yaml.Unmarshal([]byte(tt.input), &out)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, out.Delay.Duration())
		})
	}
}

func TestDurationMarshal(t *testing.T) {
	out, err := yaml.Marshal(struct {
		Delay Duration `yaml:"delay"`
	}{Delay: Duration(30 * time.Second)})
	require.NoError(t, err)
	require.Equal(t, "delay: 30s\n", string(out))
}
