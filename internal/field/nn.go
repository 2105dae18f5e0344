package field

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	scaleFactor = 3.46
	sqMean      = 1.0
)

var sqSD = math.Sqrt2

var (
	// ErrUnknownOutputType is returned for an output transform tag that is not recognized.
	ErrUnknownOutputType = errors.New("unknown output type")
	// ErrUnknownInputType is returned for an input encoding tag that is not recognized.
	ErrUnknownInputType = errors.New("unknown input type")
)

// InputType selects how raw (x, y) coordinates become a network feature vector.
type InputType string

const (
	InputPlain       InputType = "plain"
	InputQuadratic   InputType = "quadratic"
	InputQuadraticWP InputType = "quadratic_wp"
)

// OutputType selects the transform applied to the ensemble activation.
type OutputType string

const (
	OutputBinary          OutputType = "binary"
	OutputOpacity         OutputType = "opacity"
	OutputOpacityLogistic OutputType = "opacity_logistic"
	OutputBrightness      OutputType = "brightness"
	OutputAll             OutputType = "all"
)

// ParseInputType maps user input to a known InputType.
func ParseInputType(name string) (InputType, error) {
	t := InputType(strings.ToLower(strings.TrimSpace(name)))
	switch t {
	case InputPlain, InputQuadratic, InputQuadraticWP:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownInputType, name)
	}
}

// ParseOutputType maps user input to a known OutputType.
func ParseOutputType(name string) (OutputType, error) {
	t := OutputType(strings.ToLower(strings.TrimSpace(name)))
	switch t {
	case OutputBinary, OutputOpacity, OutputOpacityLogistic, OutputBrightness, OutputAll:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOutputType, name)
	}
}

// NumInputs returns the feature vector length produced by the encoding.
func NumInputs(t InputType) (int, error) {
	switch t {
	case InputPlain:
		return 2, nil
	case InputQuadratic:
		return 4, nil
	case InputQuadraticWP:
		return 5, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownInputType, t)
	}
}

// InputData builds the feature vector for already scaled coordinates.
func InputData(x, y float64, t InputType) []float64 {
	switch t {
	case InputPlain:
		return []float64{x, y}
	case InputQuadratic:
		return []float64{x, y, (x*x - sqMean) / sqSD, (y*y - sqMean) / sqSD}
	case InputQuadraticWP:
		return []float64{x, y, (x*x - sqMean) / sqSD, (y*y - sqMean) / sqSD, x * y}
	default:
		panic(fmt.Sprintf("%v: %q", ErrUnknownInputType, t))
	}
}

// Transform applies an output transform to a pre-transform activation.
func Transform(a float64, t OutputType) float64 {
	switch t {
	case OutputBinary:
		if a >= 0 {
			return math.NaN()
		}
		return 0
	case OutputOpacity:
		p := (a - 1) / 2
		if p < -1 {
			p = -1
		} else if p > 0 {
			p = 0
		}
		return p
	case OutputOpacityLogistic:
		return -sigmoid(a)
	case OutputBrightness:
		return sigmoid(a)
	case OutputAll:
		return sigmoid(a)*2 - 1
	default:
		panic(fmt.Sprintf("%v: %q", ErrUnknownOutputType, t))
	}
}

func sigmoid(a float64) float64 {
	return 1 / (1 + math.Exp(-a))
}

// NNField is an opacity/brightness field backed by an ensemble of networks.
// The ensemble value is the maximum first activation over all members.
type NNField struct {
	networks   []Network
	inputType  InputType
	outputType OutputType
	scale      float64
	bbox       Rect
	outputBias float64
}

// NewNNField creates an ensemble field over a width x height box centered at the origin.
func NewNNField(networks []Network, outputBias float64, inputType InputType, outputType OutputType, width, height float64) (*NNField, error) {
	inputType, err := ParseInputType(string(inputType))
	if err != nil {
		return nil, err
	}
	outputType, err = ParseOutputType(string(outputType))
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("field dimensions must be positive: %gx%g", width, height)
	}

	dim := math.Sqrt((width*width + height*height) / 2)
	return &NNField{
		networks:   networks,
		inputType:  inputType,
		outputType: outputType,
		scale:      scaleFactor / dim,
		bbox:       CenteredRect(width, height),
		outputBias: outputBias,
	}, nil
}

// FluxOrOpacity evaluates the ensemble at (x, y); z is unused by flat fields.
func (f *NNField) FluxOrOpacity(x, y, z float64) float64 {
	a := f.MaxActivation(InputData(x*f.scale, y*f.scale, f.inputType)) + f.outputBias
	return Transform(a, f.outputType)
}

// MaxActivation returns the largest first activation of any member, or -Inf for an
// empty ensemble.
func (f *NNField) MaxActivation(inputs []float64) float64 {
	best := math.Inf(-1)
	for _, nn := range f.networks {
		a := nn.Activations(inputs)[0]
		if a > best {
			best = a
		}
	}
	return best
}

// BoundingBox returns the field's box
func (f *NNField) BoundingBox() Rect { return f.bbox }

// Scale returns the coordinate scale factor
func (f *NNField) Scale() float64 { return f.scale }

// Networks returns the ensemble members
func (f *NNField) Networks() []Network { return f.networks }

// OutputBias returns the bias added to the ensemble activation
func (f *NNField) OutputBias() float64 { return f.outputBias }

// InputType returns the configured feature encoding
func (f *NNField) InputType() InputType { return f.inputType }

// OutputType returns the configured output transform
func (f *NNField) OutputType() OutputType { return f.outputType }
