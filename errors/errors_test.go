package errors

import (
	"errors"
	"strings"
	"testing"

	"go.starlark.net/starlark"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:     PhaseEncode,
				Kind:      KindTypeMismatch,
				Path:      []string{"args", "0", "zip"},
				GoType:    "chan int",
				GuestType: "int",
				Detail:    "cannot convert",
			},
			contains: []string{"[encode]", "type_mismatch", "args.0.zip", "chan int", "guest type int", "cannot convert"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseDecode,
				Kind:  KindConversion,
			},
			contains: []string{"[decode]", "conversion"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseRuntime,
				Kind:   KindNotInitialized,
				Detail: "engine closed",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[runtime]", "not_initialized", "engine closed", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseEncode,
		Kind:  KindConversion,
		Cause: cause,
	}

	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := DeadReference(PhaseMember, 3)

	if !errors.Is(err, ErrDeadReference) {
		t.Error("sentinel without phase should match any phase")
	}
	if !errors.Is(err, &Error{Phase: PhaseMember, Kind: KindDeadReference}) {
		t.Error("Is should match same phase and kind")
	}
	if errors.Is(err, &Error{Phase: PhaseCall, Kind: KindDeadReference}) {
		t.Error("Is should not match different phase")
	}
	if errors.Is(err, ErrNotCallable) {
		t.Error("Is should not match different kind")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseEncode, KindTypeMismatch).
		Path("kwargs", "name").
		GoType("func()").
		GuestType("string").
		Origin(OriginGuest).
		Value(42).
		Cause(cause).
		Detail("expected %s, got %s", "string", "int").
		Build()

	if err.Phase != PhaseEncode || err.Kind != KindTypeMismatch {
		t.Errorf("Phase/Kind = %v/%v", err.Phase, err.Kind)
	}
	if len(err.Path) != 2 || err.Path[1] != "name" {
		t.Errorf("Path = %v, want [kwargs name]", err.Path)
	}
	if err.GoType != "func()" || err.GuestType != "string" {
		t.Errorf("GoType=%v GuestType=%v", err.GoType, err.GuestType)
	}
	if err.Origin != OriginGuest {
		t.Errorf("Origin = %v, want guest", err.Origin)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "expected string, got int" {
		t.Errorf("Detail = %v", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("AttributeNotFound", func(t *testing.T) {
		err := AttributeNotFound("module", "nope")
		if err.Kind != KindAttributeNotFound || err.Phase != PhaseMember {
			t.Errorf("Kind=%v Phase=%v", err.Kind, err.Phase)
		}
		if !strings.Contains(err.Error(), `"nope"`) {
			t.Errorf("message %q should name the member", err.Error())
		}
	})

	t.Run("NotCallable", func(t *testing.T) {
		err := NotCallable("int")
		if !errors.Is(err, ErrNotCallable) {
			t.Errorf("NotCallable should match sentinel")
		}
	})

	t.Run("Overflow", func(t *testing.T) {
		err := Overflow(PhaseDecode, nil, 1<<40, "int32")
		if err.Kind != KindOverflow {
			t.Errorf("Kind = %v, want %v", err.Kind, KindOverflow)
		}
	})

	t.Run("HostCallback", func(t *testing.T) {
		err := HostCallback("fetch", errors.New("boom"))
		if !err.FromHost() {
			t.Error("host callback errors originate on the host")
		}
	})
}

func TestFromGuest(t *testing.T) {
	thread := &starlark.Thread{Name: "test"}

	t.Run("guest failure keeps message", func(t *testing.T) {
		_, err := starlark.ExecFile(thread, "bad.star", "x = 1 // 0\n", nil)
		if err == nil {
			t.Fatal("expected guest failure")
		}
		converted := FromGuest(PhaseEval, err)

		var be *Error
		if !errors.As(converted, &be) {
			t.Fatalf("expected *Error, got %T", converted)
		}
		if be.Kind != KindGuestRuntime || be.Origin != OriginGuest {
			t.Errorf("Kind=%v Origin=%v", be.Kind, be.Origin)
		}
		if be.GuestMessage != err.Error() {
			t.Errorf("GuestMessage = %q, want %q", be.GuestMessage, err.Error())
		}
		if !strings.Contains(be.Traceback, "bad.star") {
			t.Errorf("traceback %q should mention the file", be.Traceback)
		}
	})

	t.Run("host failure through guest", func(t *testing.T) {
		fail := starlark.NewBuiltin("fail_host", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			return nil, HostCallback("fail_host", errors.New("disk full"))
		})
		_, err := starlark.ExecFile(thread, "cb.star", "fail_host()\n", starlark.StringDict{"fail_host": fail})
		if err == nil {
			t.Fatal("expected failure")
		}
		var be *Error
		if !errors.As(FromGuest(PhaseCall, err), &be) {
			t.Fatal("expected *Error")
		}
		if be.Origin != OriginHost {
			t.Errorf("Origin = %v, want host", be.Origin)
		}
		if !strings.Contains(be.GuestMessage, "disk full") {
			t.Errorf("GuestMessage %q lost the host message", be.GuestMessage)
		}
	})

	t.Run("bridge errors pass through", func(t *testing.T) {
		in := DeadReference(PhaseCall, 9)
		if got := FromGuest(PhaseCall, in); got != in {
			t.Errorf("FromGuest rewrapped a bridge error: %v", got)
		}
	})

	t.Run("nil", func(t *testing.T) {
		if FromGuest(PhaseCall, nil) != nil {
			t.Error("nil should stay nil")
		}
	})
}
