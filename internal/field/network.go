package field

import (
	"fmt"

	"github.com/openfluke/loom/nn"
)

// Network is the neural-network capability consumed by the ensemble.
// Only the first activation is used.
type Network interface {
	Activations(inputs []float64) []float64
}

// NetworkFunc adapts a function to the Network interface.
type NetworkFunc func(inputs []float64) []float64

// Activations calls the function
func (f NetworkFunc) Activations(inputs []float64) []float64 { return f(inputs) }

// DenseParameterCount returns the number of weights needed by a fully connected network
// with the given layer sizes (input first, output last).
func DenseParameterCount(layerSizes []int) int {
	count := 0
	for i := 1; i < len(layerSizes); i++ {
		count += layerSizes[i-1]*layerSizes[i] + layerSizes[i]
	}
	return count
}

// DenseNetwork is a tanh multilayer perceptron backed by a loom network.
// Weights are fixed at construction.
type DenseNetwork struct {
	net        *nn.Network
	inputSize  int
	outputSize int
	input      []float32
}

// NewDenseNetwork builds a network with the given layer sizes and fills every layer's
// kernel (in*out, row-major by input) and bias (out) from weights, in layer order.
func NewDenseNetwork(layerSizes []int, weights []float64) (*DenseNetwork, error) {
	if len(layerSizes) < 2 {
		return nil, fmt.Errorf("dense network needs at least 2 layer sizes, got %d", len(layerSizes))
	}
	for _, size := range layerSizes {
		if size <= 0 {
			return nil, fmt.Errorf("layer sizes must be positive: %v", layerSizes)
		}
	}
	if want := DenseParameterCount(layerSizes); len(weights) != want {
		return nil, fmt.Errorf("dense network %v needs %d weights, got %d", layerSizes, want, len(weights))
	}

	numLayers := len(layerSizes) - 1
	net := nn.NewNetwork(layerSizes[0], 1, 1, numLayers)
	net.BatchSize = 1

	offset := 0
	for l := 0; l < numLayers; l++ {
		in, out := layerSizes[l], layerSizes[l+1]
		layer := nn.InitDenseLayer(in, out, nn.ActivationTanh)
		layer.Kernel = toFloat32(weights[offset : offset+in*out])
		offset += in * out
		layer.Bias = toFloat32(weights[offset : offset+out])
		offset += out
		net.SetLayer(0, 0, l, layer)
	}

	return &DenseNetwork{
		net:        net,
		inputSize:  layerSizes[0],
		outputSize: layerSizes[numLayers],
		input:      make([]float32, layerSizes[0]),
	}, nil
}

// Activations runs a forward pass. A DenseNetwork is not safe for concurrent use.
func (d *DenseNetwork) Activations(inputs []float64) []float64 {
	for i := range d.input {
		d.input[i] = float32(inputs[i])
	}
	output, _ := d.net.ForwardCPU(d.input)
	result := make([]float64, d.outputSize)
	for i := range result {
		if i < len(output) {
			result[i] = float64(output[i])
		}
	}
	return result
}

func toFloat32(values []float64) []float32 {
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return out
}
