package vm

import "fmt"

const (
	DefaultSampleCount   = 1000
	MaxSampleCount       = 1_000_000
	DefaultXYPointLength = 1000
	MinXYPointLength     = 10
	MaxXYPointLength     = 10_000
	DefaultSeed          = "default-seed"
)

// Environment holds the resource knobs shared by the reducer and builtins.
type Environment struct {
	SampleCount   int    `msgpack:"sample_count" toml:"sample_count"`
	XYPointLength int    `msgpack:"xy_point_length" toml:"xy_point_length"`
	Seed          string `msgpack:"seed" toml:"seed"`
}

func DefaultEnvironment() Environment {
	return Environment{
		SampleCount:   DefaultSampleCount,
		XYPointLength: DefaultXYPointLength,
		Seed:          DefaultSeed,
	}
}

// WithDefaults fills zero fields.
func (e Environment) WithDefaults() Environment {
	d := DefaultEnvironment()
	if e.SampleCount == 0 {
		e.SampleCount = d.SampleCount
	}
	if e.XYPointLength == 0 {
		e.XYPointLength = d.XYPointLength
	}
	if e.Seed == "" {
		e.Seed = d.Seed
	}
	return e
}

func (e Environment) Validate() error {
	if e.SampleCount < 1 || e.SampleCount > MaxSampleCount {
		return fmt.Errorf("sample count %d out of range [1, %d]", e.SampleCount, MaxSampleCount)
	}
	if e.XYPointLength < MinXYPointLength || e.XYPointLength > MaxXYPointLength {
		return fmt.Errorf("xy point length %d out of range [%d, %d]", e.XYPointLength, MinXYPointLength, MaxXYPointLength)
	}
	return nil
}

func (e Environment) String() string {
	return fmt.Sprintf("sampleCount=%d xyPointLength=%d seed=%q", e.SampleCount, e.XYPointLength, e.Seed)
}
