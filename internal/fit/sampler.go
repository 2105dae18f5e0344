package fit

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/jhs/lcfit/internal/field"
	"github.com/jhs/lcfit/internal/lightcurve"
	"github.com/jhs/lcfit/internal/sim"
)

var (
	// ErrParameterCount is returned when a parameter vector has the wrong length.
	ErrParameterCount = errors.New("parameter vector has wrong length")
	// ErrInvalidConfig indicates a sampler or fitter configuration that cannot be used.
	ErrInvalidConfig = errors.New("invalid fit config")
)

// SamplerConfig describes the network topology and how parameters map to geometry
type SamplerConfig struct {
	NumNetworks      int              `yaml:"num_networks" json:"num_networks"`
	HiddenLayers     []int            `yaml:"hidden_layers" json:"hidden_layers"`
	InputType        field.InputType  `yaml:"input_type" json:"input_type"`
	OutputType       field.OutputType `yaml:"output_type" json:"output_type"`
	FieldWidth       float64          `yaml:"field_width" json:"field_width"`
	FieldHeight      float64          `yaml:"field_height" json:"field_height"`
	OrbitRadius      float64          `yaml:"orbit_radius" json:"orbit_radius"`
	OrbitRadiusLogSD float64          `yaml:"orbit_radius_log_sd" json:"orbit_radius_log_sd"`
	InitialSD        float64          `yaml:"initial_sd" json:"initial_sd"`
	ParameterBound   float64          `yaml:"parameter_bound" json:"parameter_bound"`
	TransitWeight    float64          `yaml:"transit_weight" json:"transit_weight"`
}

// DefaultSamplerConfig returns a small ensemble over a 2x2 field
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		NumNetworks:      2,
		HiddenLayers:     []int{3},
		InputType:        field.InputQuadratic,
		OutputType:       field.OutputOpacity,
		FieldWidth:       2.0,
		FieldHeight:      2.0,
		OrbitRadius:      10.0,
		OrbitRadiusLogSD: 0.3,
		InitialSD:        1.0,
		ParameterBound:   5.0,
		TransitWeight:    3.0,
	}
}

// Validate checks the topology and geometry values
func (c SamplerConfig) Validate() error {
	if c.NumNetworks < 1 {
		return fmt.Errorf("%w: need at least one network, got %d", ErrInvalidConfig, c.NumNetworks)
	}
	for _, h := range c.HiddenLayers {
		if h < 1 {
			return fmt.Errorf("%w: hidden layer sizes must be positive: %v", ErrInvalidConfig, c.HiddenLayers)
		}
	}
	if _, err := field.ParseInputType(string(c.InputType)); err != nil {
		return err
	}
	if _, err := field.ParseOutputType(string(c.OutputType)); err != nil {
		return err
	}
	if c.FieldWidth <= 0 || c.FieldHeight <= 0 {
		return fmt.Errorf("%w: field box must be positive, got %gx%g", ErrInvalidConfig, c.FieldWidth, c.FieldHeight)
	}
	if c.OrbitRadius <= 0 {
		return fmt.Errorf("%w: orbit radius must be positive", ErrInvalidConfig)
	}
	if c.InitialSD < 0 || c.ParameterBound <= 0 || c.TransitWeight < 0 {
		return fmt.Errorf("%w: initial SD, parameter bound and transit weight must not be negative", ErrInvalidConfig)
	}
	return nil
}

// layerSizes returns input, hidden and output sizes of one ensemble member
func (c SamplerConfig) layerSizes() []int {
	inputs, _ := field.NumInputs(c.InputType)
	sizes := append([]int{inputs}, c.HiddenLayers...)
	return append(sizes, 1)
}

// SolutionSampler maps parameter vectors to solutions bound to one simulator.
type SolutionSampler struct {
	config     SamplerConfig
	simulator  sim.Simulator
	layers     []int
	perNetwork int
}

// NewSolutionSampler validates config and binds it to a simulator. The simulator may be
// nil until WithSimulator is called; decoding still works, flux does not.
func NewSolutionSampler(config SamplerConfig, simulator sim.Simulator) (*SolutionSampler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.InputType, _ = field.ParseInputType(string(config.InputType))
	config.OutputType, _ = field.ParseOutputType(string(config.OutputType))
	layers := config.layerSizes()
	return &SolutionSampler{
		config:     config,
		simulator:  simulator,
		layers:     layers,
		perNetwork: field.DenseParameterCount(layers),
	}, nil
}

// WithSimulator returns a copy of the sampler bound to simulator
func (s *SolutionSampler) WithSimulator(simulator sim.Simulator) *SolutionSampler {
	clone := *s
	clone.simulator = simulator
	return &clone
}

// Config returns the sampler configuration
func (s *SolutionSampler) Config() SamplerConfig { return s.config }

// Simulator returns the bound simulator
func (s *SolutionSampler) Simulator() sim.Simulator { return s.simulator }

// NumParameters is the fixed vector length: every network's weights, the output bias
// and the orbit-radius coordinate.
func (s *SolutionSampler) NumParameters() int {
	return s.config.NumNetworks*s.perNetwork + 2
}

// ParametersAsSolution decodes a vector. The vector is copied.
func (s *SolutionSampler) ParametersAsSolution(params []float64) (*Solution, error) {
	if len(params) != s.NumParameters() {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrParameterCount, s.NumParameters(), len(params))
	}

	networks := make([]field.Network, s.config.NumNetworks)
	offset := 0
	for i := range networks {
		net, err := field.NewDenseNetwork(s.layers, params[offset:offset+s.perNetwork])
		if err != nil {
			return nil, fmt.Errorf("failed to build network %d: %w", i, err)
		}
		networks[i] = net
		offset += s.perNetwork
	}

	outputBias := params[offset]
	orbitCoord := params[offset+1]

	f, err := field.NewNNField(networks, outputBias, s.config.InputType, s.config.OutputType,
		s.config.FieldWidth, s.config.FieldHeight)
	if err != nil {
		return nil, err
	}

	return &Solution{
		params:      append([]float64(nil), params...),
		field:       f,
		outputBias:  outputBias,
		orbitRadius: s.config.OrbitRadius * math.Exp(orbitCoord*s.config.OrbitRadiusLogSD),
		simulator:   s.simulator,
	}, nil
}

// SolutionAsParameters encodes a solution back into its vector
func (s *SolutionSampler) SolutionAsParameters(solution *Solution) []float64 {
	return solution.Parameters()
}

// RandomParameters draws every entry from N(0, InitialSD)
func (s *SolutionSampler) RandomParameters(rng *rand.Rand) []float64 {
	params := make([]float64, s.NumParameters())
	for i := range params {
		params[i] = rng.NormFloat64() * s.config.InitialSD
	}
	return params
}

// Bounds returns the symmetric box used by bound-based optimizers
func (s *SolutionSampler) Bounds() (lower, upper []float64) {
	n := s.NumParameters()
	lower = make([]float64, n)
	upper = make([]float64, n)
	for i := 0; i < n; i++ {
		lower[i] = -s.config.ParameterBound
		upper[i] = s.config.ParameterBound
	}
	return lower, upper
}

// CreateFluxWeights weights each sample by how far it deviates from the median flux,
// so in-transit samples count more.
func (s *SolutionSampler) CreateFluxWeights(flux []float64) []float64 {
	weights := make([]float64, len(flux))
	if len(flux) == 0 {
		return weights
	}

	baseline := lightcurve.Median(flux)
	var maxDev float64
	for _, f := range flux {
		if d := math.Abs(f - baseline); d > maxDev {
			maxDev = d
		}
	}

	for i, f := range flux {
		weights[i] = 1
		if maxDev > 0 {
			weights[i] += s.config.TransitWeight * math.Abs(f-baseline) / maxDev
		}
	}
	return weights
}

// MinimalChangeThreshold returns, per parameter, the smallest shift considered a change.
func (s *SolutionSampler) MinimalChangeThreshold(point []float64, fraction float64) []float64 {
	threshold := make([]float64, len(point))
	for i, x := range point {
		threshold[i] = fraction * math.Max(math.Abs(x), 1)
	}
	return threshold
}
