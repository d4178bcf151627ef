package engine_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/wippyai/microwasm/engine"
)

func TestTrapMessages(t *testing.T) {
	trap := engine.NewTrap(engine.TrapIntegerDivideByZero)
	if trap.Error() != "trap: integer divide by zero" {
		t.Errorf("Error() = %q", trap.Error())
	}

	cause := fmt.Errorf("uart timeout")
	host := engine.HostTrap(cause)
	if host.Error() != "trap: host function error: uart timeout" {
		t.Errorf("host Error() = %q", host.Error())
	}
	if !errors.Is(host, cause) {
		t.Error("host trap does not unwrap to its cause")
	}
}

func TestTrapIsMatchesByCode(t *testing.T) {
	trap := engine.NewTrap(engine.TrapUnreachable)

	if !errors.Is(trap, engine.NewTrap(engine.TrapUnreachable)) {
		t.Error("traps with the same code should match")
	}
	if errors.Is(trap, engine.NewTrap(engine.TrapIntegerOverflow)) {
		t.Error("traps with different codes should not match")
	}
	if errors.Is(trap, errors.New("trap: unreachable executed")) {
		t.Error("trap matched a non-trap error")
	}
}

func TestTrapCodeString(t *testing.T) {
	if engine.TrapBudgetExhausted.String() != "execution budget exhausted" {
		t.Errorf("budget = %q", engine.TrapBudgetExhausted.String())
	}
	if engine.TrapCode(999).String() != "unknown trap" {
		t.Errorf("unknown = %q", engine.TrapCode(999).String())
	}
}
