package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-0.2))
	assert.Equal(t, 1.0, Clamp01(1.7))
	assert.Equal(t, 0.42, Clamp01(0.42))
}

func TestParseFeatureValues(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]float64
	}{
		{
			name:  "crop recommendation features",
			input: "recommend crop for N=90,P=42,K=43,temp=20.8,humidity=82,ph=6.5,rainfall=202.9",
			want: map[string]float64{
				"n": 90, "p": 42, "k": 43, "temp": 20.8,
				"humidity": 82, "ph": 6.5, "rainfall": 202.9,
			},
		},
		{
			name:  "no features",
			input: "what is the market price of wheat",
			want:  nil,
		},
		{
			name:  "mixed tokens",
			input: "yield for ph=7.0 in Punjab",
			want:  map[string]float64{"ph": 7.0},
		},
		{
			name:  "non numeric value skipped",
			input: "crop=wheat ph=6.5",
			want:  map[string]float64{"ph": 6.5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseFeatureValues(tt.input))
		})
	}
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "hello", TruncateString("hello", 10, false))
	assert.Equal(t, "hello w...", TruncateString("hello world and more", 10, false))
	assert.Equal(t, "hello...", TruncateString("hello world and more", 10, true))
	assert.Equal(t, "", TruncateString("anything", 0, false))
	assert.Equal(t, "..", TruncateString("anything", 2, false))
}
