package field

import (
	"math"
	"testing"
)

func TestDenseParameterCount(t *testing.T) {
	tests := []struct {
		sizes []int
		want  int
	}{
		{[]int{2, 1}, 3},
		{[]int{4, 3, 1}, 4*3 + 3 + 3 + 1},
		{[]int{5, 4, 4, 1}, 5*4 + 4 + 4*4 + 4 + 4 + 1},
	}

	for _, tt := range tests {
		if got := DenseParameterCount(tt.sizes); got != tt.want {
			t.Errorf("DenseParameterCount(%v) = %d, want %d", tt.sizes, got, tt.want)
		}
	}
}

func TestNewDenseNetworkValidation(t *testing.T) {
	if _, err := NewDenseNetwork([]int{2}, nil); err == nil {
		t.Error("Expected error for a single layer size")
	}
	if _, err := NewDenseNetwork([]int{2, 0}, nil); err == nil {
		t.Error("Expected error for a zero-width layer")
	}
	if _, err := NewDenseNetwork([]int{2, 1}, []float64{1, 2}); err == nil {
		t.Error("Expected error for a short weight slice")
	}
}

func TestDenseNetworkActivations(t *testing.T) {
	weights := make([]float64, DenseParameterCount([]int{2, 3, 1}))
	for i := range weights {
		weights[i] = 0.1 * float64(i%5-2)
	}

	net, err := NewDenseNetwork([]int{2, 3, 1}, weights)
	if err != nil {
		t.Fatalf("NewDenseNetwork failed: %v", err)
	}

	out := net.Activations([]float64{0.5, -0.25})
	if len(out) != 1 {
		t.Fatalf("Expected 1 output, got %d", len(out))
	}
	if math.IsNaN(out[0]) || out[0] < -1 || out[0] > 1 {
		t.Errorf("Tanh output out of range: %f", out[0])
	}

	// Same input, same weights: deterministic
	again := net.Activations([]float64{0.5, -0.25})
	if again[0] != out[0] {
		t.Errorf("Non-deterministic forward pass: %f vs %f", out[0], again[0])
	}
}
