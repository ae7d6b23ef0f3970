package vm

import (
	"fmt"
	"math"
	"strings"

	"github.com/quill-lang/quill/errs"
)

// Domain is a closed numeric range used to constrain lambda parameters.
type Domain struct {
	tagged
	Min float64
	Max float64
}

func NewDomain(min, max float64) (*Domain, error) {
	if math.IsNaN(min) || math.IsNaN(max) || min > max {
		return nil, errs.Raise(errs.DomainViolation, "Invalid domain range [%s, %s]", FormatNumber(min), FormatNumber(max))
	}
	return &Domain{Min: min, Max: max}, nil
}

func (*Domain) Kind() Kind { return DomainKind }
func (*Domain) isValue()   {}

func (d *Domain) WithTags(t *Tags) Value {
	c := *d
	c.tags = t
	return &c
}

func (d *Domain) String() string {
	return fmt.Sprintf("Number.rangeDomain(%s, %s)", FormatNumber(d.Min), FormatNumber(d.Max))
}

func (d *Domain) Contains(v Value) bool {
	n, ok := v.(*Number)
	return ok && n.V >= d.Min && n.V <= d.Max
}

// Validate checks argument idx (zero based) against the domain.
func (d *Domain) Validate(idx int, v Value) error {
	if d.Contains(v) {
		return nil
	}
	return errs.Raise(errs.DomainViolation, "Parameter %d must be in domain %s, got %s", idx+1, d, v)
}

// DomainFromValue converts an annotation value to a domain: either a domain
// itself or a two-number list [min, max].
func DomainFromValue(v Value) (*Domain, error) {
	switch v := v.(type) {
	case *Domain:
		return v, nil
	case *Array:
		if len(v.Items) == 2 {
			lo, okLo := v.Items[0].(*Number)
			hi, okHi := v.Items[1].(*Number)
			if okLo && okHi {
				return NewDomain(lo.V, hi.V)
			}
		}
	}
	return nil, errs.Raise(errs.OtherError, "Expected a domain annotation such as [0, 10], got %s", v)
}

// SampleSet is an opaque distribution represented by samples.
type SampleSet struct {
	tagged
	Samples []float64
}

func NewSampleSet(samples []float64) *SampleSet {
	return &SampleSet{Samples: samples}
}

func (*SampleSet) Kind() Kind { return DistKind }
func (*SampleSet) isValue()   {}

func (s *SampleSet) WithTags(t *Tags) Value {
	c := *s
	c.tags = t
	return &c
}

func (s *SampleSet) Mean() float64 {
	if len(s.Samples) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, x := range s.Samples {
		sum += x
	}
	return sum / float64(len(s.Samples))
}

func (s *SampleSet) Stdev() float64 {
	if len(s.Samples) < 2 {
		return 0
	}
	mean := s.Mean()
	acc := 0.0
	for _, x := range s.Samples {
		acc += (x - mean) * (x - mean)
	}
	return math.Sqrt(acc / float64(len(s.Samples)-1))
}

func (s *SampleSet) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sample Set Distribution (n=%d, mean=%s)", len(s.Samples), FormatNumber(s.Mean()))
	return b.String()
}
