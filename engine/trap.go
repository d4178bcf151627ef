package engine

// TrapCode identifies the cause of a runtime trap.
type TrapCode int

const (
	TrapUnreachable TrapCode = iota
	TrapIntegerDivideByZero
	TrapIntegerOverflow
	TrapInvalidConversionToInteger
	TrapOutOfBoundsMemoryAccess
	TrapOutOfBoundsTableAccess
	TrapIndirectCallTypeMismatch
	TrapUninitializedElement
	TrapCallStackExhausted
	TrapStackOverflow
	TrapBudgetExhausted
	TrapHostError
)

var trapNames = map[TrapCode]string{
	TrapUnreachable:                "unreachable executed",
	TrapIntegerDivideByZero:        "integer divide by zero",
	TrapIntegerOverflow:            "integer overflow",
	TrapInvalidConversionToInteger: "invalid conversion to integer",
	TrapOutOfBoundsMemoryAccess:    "out of bounds memory access",
	TrapOutOfBoundsTableAccess:     "out of bounds table access",
	TrapIndirectCallTypeMismatch:   "indirect call type mismatch",
	TrapUninitializedElement:       "uninitialized table element",
	TrapCallStackExhausted:         "call stack exhausted",
	TrapStackOverflow:              "stack limit exceeded",
	TrapBudgetExhausted:            "execution budget exhausted",
	TrapHostError:                  "host function error",
}

func (c TrapCode) String() string {
	if name, ok := trapNames[c]; ok {
		return name
	}
	return "unknown trap"
}

// Trap is a runtime trap raised during execution. It aborts the current
// invocation; the instance remains usable for further calls.
type Trap struct {
	Cause error
	Code  TrapCode
}

// NewTrap creates a trap with the given code.
func NewTrap(code TrapCode) *Trap {
	return &Trap{Code: code}
}

// HostTrap wraps an error returned by a host function.
func HostTrap(cause error) *Trap {
	return &Trap{Code: TrapHostError, Cause: cause}
}

func (t *Trap) Error() string {
	if t.Cause != nil {
		return "trap: " + t.Code.String() + ": " + t.Cause.Error()
	}
	return "trap: " + t.Code.String()
}

// Unwrap returns the wrapped host error, if any.
func (t *Trap) Unwrap() error {
	return t.Cause
}

// Is reports whether target is a trap with the same code.
func (t *Trap) Is(target error) bool {
	if other, ok := target.(*Trap); ok {
		return t.Code == other.Code
	}
	return false
}
