package engine

import "math"

// Integer division and remainder. Division by zero always traps;
// dividing the minimum signed value by -1 overflows and traps, while the
// matching remainder is defined as zero.

func divS32(a, b int32) (int32, *Trap) {
	if b == 0 {
		return 0, NewTrap(TrapIntegerDivideByZero)
	}
	if a == math.MinInt32 && b == -1 {
		return 0, NewTrap(TrapIntegerOverflow)
	}
	return a / b, nil
}

func divU32(a, b uint32) (uint32, *Trap) {
	if b == 0 {
		return 0, NewTrap(TrapIntegerDivideByZero)
	}
	return a / b, nil
}

func remS32(a, b int32) (int32, *Trap) {
	if b == 0 {
		return 0, NewTrap(TrapIntegerDivideByZero)
	}
	if a == math.MinInt32 && b == -1 {
		return 0, nil
	}
	return a % b, nil
}

func remU32(a, b uint32) (uint32, *Trap) {
	if b == 0 {
		return 0, NewTrap(TrapIntegerDivideByZero)
	}
	return a % b, nil
}

func divS64(a, b int64) (int64, *Trap) {
	if b == 0 {
		return 0, NewTrap(TrapIntegerDivideByZero)
	}
	if a == math.MinInt64 && b == -1 {
		return 0, NewTrap(TrapIntegerOverflow)
	}
	return a / b, nil
}

func divU64(a, b uint64) (uint64, *Trap) {
	if b == 0 {
		return 0, NewTrap(TrapIntegerDivideByZero)
	}
	return a / b, nil
}

func remS64(a, b int64) (int64, *Trap) {
	if b == 0 {
		return 0, NewTrap(TrapIntegerDivideByZero)
	}
	if a == math.MinInt64 && b == -1 {
		return 0, nil
	}
	return a % b, nil
}

func remU64(a, b uint64) (uint64, *Trap) {
	if b == 0 {
		return 0, NewTrap(TrapIntegerDivideByZero)
	}
	return a % b, nil
}

// Float to integer truncation. NaN and out-of-range inputs trap; the
// saturating variants clamp instead.

func truncToI32(f float64) (int32, *Trap) {
	if math.IsNaN(f) {
		return 0, NewTrap(TrapInvalidConversionToInteger)
	}
	t := math.Trunc(f)
	if t < math.MinInt32 || t >= -math.MinInt32 {
		return 0, NewTrap(TrapIntegerOverflow)
	}
	return int32(t), nil
}

func truncToU32(f float64) (uint32, *Trap) {
	if math.IsNaN(f) {
		return 0, NewTrap(TrapInvalidConversionToInteger)
	}
	t := math.Trunc(f)
	if t <= -1 || t >= 1<<32 {
		return 0, NewTrap(TrapIntegerOverflow)
	}
	return uint32(t), nil
}

func truncToI64(f float64) (int64, *Trap) {
	if math.IsNaN(f) {
		return 0, NewTrap(TrapInvalidConversionToInteger)
	}
	t := math.Trunc(f)
	if t < math.MinInt64 || t >= -math.MinInt64 {
		return 0, NewTrap(TrapIntegerOverflow)
	}
	return int64(t), nil
}

func truncToU64(f float64) (uint64, *Trap) {
	if math.IsNaN(f) {
		return 0, NewTrap(TrapInvalidConversionToInteger)
	}
	t := math.Trunc(f)
	if t <= -1 || t >= 1<<64 {
		return 0, NewTrap(TrapIntegerOverflow)
	}
	return uint64(t), nil
}

func truncSatI32(f float64) int32 {
	if math.IsNaN(f) {
		return 0
	}
	t := math.Trunc(f)
	if t < math.MinInt32 {
		return math.MinInt32
	}
	if t >= -math.MinInt32 {
		return math.MaxInt32
	}
	return int32(t)
}

func truncSatU32(f float64) uint32 {
	if math.IsNaN(f) || f <= -1 {
		return 0
	}
	t := math.Trunc(f)
	if t >= 1<<32 {
		return math.MaxUint32
	}
	return uint32(t)
}

func truncSatI64(f float64) int64 {
	if math.IsNaN(f) {
		return 0
	}
	t := math.Trunc(f)
	if t < math.MinInt64 {
		return math.MinInt64
	}
	if t >= -math.MinInt64 {
		return math.MaxInt64
	}
	return int64(t)
}

func truncSatU64(f float64) uint64 {
	if math.IsNaN(f) || f <= -1 {
		return 0
	}
	t := math.Trunc(f)
	if t >= 1<<64 {
		return math.MaxUint64
	}
	return uint64(t)
}

// Float min/max propagate NaN and treat -0 as smaller than +0.

func fmin(a, b float64) float64 {
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		return math.NaN()
	case a == 0 && b == 0:
		if math.Signbit(a) {
			return a
		}
		return b
	case a < b:
		return a
	default:
		return b
	}
}

func fmax(a, b float64) float64 {
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		return math.NaN()
	case a == 0 && b == 0:
		if math.Signbit(a) {
			return b
		}
		return a
	case a > b:
		return a
	default:
		return b
	}
}

func fmin32(a, b float32) float32 {
	return float32(fmin(float64(a), float64(b)))
}

func fmax32(a, b float32) float32 {
	return float32(fmax(float64(a), float64(b)))
}

// nearest rounds to the closest integer, ties to even.
func nearest(f float64) float64 {
	return math.RoundToEven(f)
}

func nearest32(f float32) float32 {
	return float32(math.RoundToEven(float64(f)))
}
