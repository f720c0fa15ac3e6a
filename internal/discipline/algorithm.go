package discipline

import (
	"fmt"
	"strings"
)

// MaxCorrection bounds every correction a law may return.
const MaxCorrection = 1000

// AlgorithmKind selects the correction law.
type AlgorithmKind int

const (
	Dankar AlgorithmKind = iota
	Fredzo
	EricH
)

var algorithmNames = []string{"dankar", "fredzo", "eric_h"}

func (k AlgorithmKind) String() string {
	if k < 0 || int(k) >= len(algorithmNames) {
		return fmt.Sprintf("AlgorithmKind(%d)", int(k))
	}
	return algorithmNames[k]
}

func ParseAlgorithm(s string) (AlgorithmKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	if s == "" {
		return Fredzo, nil
	}
	for i, n := range algorithmNames {
		if n == s {
			return AlgorithmKind(i), nil
		}
	}
	return Fredzo, fmt.Errorf("discipline: unknown correction algorithm %q", s)
}

func (k AlgorithmKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *AlgorithmKind) UnmarshalText(b []byte) error {
	v, err := ParseAlgorithm(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// DefaultFactor returns the gain factor a law is tuned for.
func DefaultFactor(k AlgorithmKind) int32 {
	if k == EricH {
		return 300
	}
	return 10
}

// Input is everything a law may look at for one control step.
type Input struct {
	// Error is the smoothed frequency error in timer ticks per second.
	Error int32
	// PPB is the smoothed frequency error in hundredths of a part per billion.
	PPB int32
	// Uptime counts local PPS output pulses since start.
	Uptime uint32
}

// Algorithm maps a control input to a correction with the same sign as the
// error. The controller subtracts it from the actuator register.
type Algorithm interface {
	Kind() AlgorithmKind
	Factor() int32
	Correct(in Input) int32
}

// NewAlgorithm returns the law for kind. factor <= 0 selects DefaultFactor.
func NewAlgorithm(kind AlgorithmKind, factor int32) (Algorithm, error) {
	if factor <= 0 {
		factor = DefaultFactor(kind)
	}
	switch kind {
	case Dankar:
		return dankar{factor: int64(factor)}, nil
	case Fredzo:
		return fredzo{factor: int64(factor)}, nil
	case EricH:
		return ericH{factor: int64(factor)}, nil
	default:
		return nil, fmt.Errorf("discipline: unknown correction algorithm %d", int(kind))
	}
}

// Errors beyond this saturate every law anyway; bounding them keeps the
// squared terms well inside int64.
const maxLawError = 1 << 16

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func sign64(v int64) int64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func bound(v int64) int32 {
	if v > MaxCorrection {
		return MaxCorrection
	}
	if v < -MaxCorrection {
		return -MaxCorrection
	}
	return int32(v)
}

func lawError(e int32) int64 {
	v := int64(e)
	if v > maxLawError {
		return maxLawError
	}
	if v < -maxLawError {
		return -maxLawError
	}
	return v
}

// finish keeps a nonzero error from being rounded away.
func finish(v, e int64) int32 {
	if v == 0 && e != 0 {
		v = sign64(e)
	}
	return bound(v)
}

// dankar squares the error outside a small dead band.
//
//	|e| > 10: 2·e·|e|·f/10
//	|e| > 2:  e·|e|·f/10
//	else:     e
type dankar struct{ factor int64 }

func (dankar) Kind() AlgorithmKind { return Dankar }
func (a dankar) Factor() int32     { return int32(a.factor) }

func (a dankar) Correct(in Input) int32 {
	e := lawError(in.Error)
	mag := abs64(e)
	var v int64
	switch {
	case mag > 10:
		v = 2 * e * mag * a.factor / 10
	case mag > 2:
		v = e * mag * a.factor / 10
	default:
		v = e
	}
	return finish(v, e)
}

// fredzo steps the gain in four bands.
//
//	|e| >= 16: e·|e|·(f+10)/10
//	|e| >= 8:  e·|e|·(f+5)/10
//	|e| >= 2:  e·|e|·f/10
//	else:      e·f/10
type fredzo struct{ factor int64 }

func (fredzo) Kind() AlgorithmKind { return Fredzo }
func (a fredzo) Factor() int32     { return int32(a.factor) }

func (a fredzo) Correct(in Input) int32 {
	e := lawError(in.Error)
	mag := abs64(e)
	var v int64
	switch {
	case mag >= 16:
		v = e * mag * (a.factor + 10) / 10
	case mag >= 8:
		v = e * mag * (a.factor + 5) / 10
	case mag >= 2:
		v = e * mag * a.factor / 10
	default:
		v = e * a.factor / 10
	}
	return finish(v, e)
}

// ericH is proportional on the PPB estimate. Below one step per factor it
// emits single steps, spaced factor/(|ppb| mod factor) pulses apart.
type ericH struct{ factor int64 }

func (ericH) Kind() AlgorithmKind { return EricH }
func (a ericH) Factor() int32     { return int32(a.factor) }

func (a ericH) Correct(in Input) int32 {
	ppb := int64(in.PPB)
	v := ppb / a.factor
	if v == 0 && ppb != 0 {
		rem := abs64(ppb) % a.factor
		if rem != 0 {
			every := a.factor / rem
			if every == 0 || int64(in.Uptime)%every == 0 {
				v = sign64(ppb)
			}
		}
	}
	return bound(v)
}
