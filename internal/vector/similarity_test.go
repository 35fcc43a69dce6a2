package vector

import (
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	Normalize(v)
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("got %v", v)
	}
	zero := []float32{0, 0}
	Normalize(zero)
	if zero[0] != 0 || zero[1] != 0 {
		t.Error("zero vector should be unchanged")
	}

	orig := []float32{0, 2}
	if out := normalized(orig); out[1] != 1 || orig[1] != 2 {
		t.Errorf("normalized copied wrong: out %v orig %v", out, orig)
	}
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2}, []float32{2, 4}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineDistance(tt.a, tt.b); math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("CosineDistance = %f, want %f", got, tt.want)
			}
		})
	}
}
