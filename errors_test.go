package taskpoll

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestErrorKind_String(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want string
	}{
		{KindWork, "work_error"},
		{KindCapacity, "request_capacity_reached"},
		{ErrorKind(99), "ErrorKind(99)"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("ErrorKind(%d).String() = %q, want %q", int(tt.kind), got, tt.want)
		}
	}
}

func TestWorkError_WrapsCause(t *testing.T) {
	cause := errors.New("backend unavailable")
	err := newWorkError[string](cause)

	if err.Kind != KindWork {
		t.Errorf("Kind = %v, want KindWork", err.Kind)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
	if !strings.Contains(err.Error(), "backend unavailable") {
		t.Errorf("Error() = %q, want the cause embedded", err.Error())
	}
	if err.Request != nil {
		t.Error("work errors are aggregate, Request must be nil")
	}
	if err.Timeout() {
		t.Error("Timeout() = true for a plain work error")
	}
}

func TestTimeoutError(t *testing.T) {
	err := newTimeoutError[string](200 * time.Millisecond)

	if err.Kind != KindWork {
		t.Errorf("Kind = %v, want KindWork", err.Kind)
	}
	if !errors.Is(err, ErrWorkTimeout) {
		t.Error("errors.Is(err, ErrWorkTimeout) = false, want true")
	}
	if !err.Timeout() {
		t.Error("Timeout() = false, want true")
	}
	if !strings.Contains(err.Error(), "200ms") {
		t.Errorf("Error() = %q, want the timeout duration embedded", err.Error())
	}
}

func TestCapacityError_CarriesRequest(t *testing.T) {
	req := Argument("payload-42")
	err := newCapacityError(req, 2)

	if err.Kind != KindCapacity {
		t.Errorf("Kind = %v, want KindCapacity", err.Kind)
	}
	if err.Request == nil {
		t.Fatal("Request must carry the rejected request")
	}
	if v, ok := err.Request.Payload(); !ok || v != "payload-42" {
		t.Errorf("rejected payload = %q (ok=%v), want payload-42", v, ok)
	}
	if err.Cause != nil {
		t.Errorf("Cause = %v, want nil for capacity rejections", err.Cause)
	}
	if !strings.Contains(err.Error(), "capacity") {
		t.Errorf("Error() = %q, want a capacity message", err.Error())
	}
}

func TestRequest_Variants(t *testing.T) {
	n := Nudge[int]()
	if !n.IsNudge() {
		t.Error("Nudge().IsNudge() = false, want true")
	}
	if _, ok := n.Payload(); ok {
		t.Error("nudge Payload() ok = true, want false")
	}

	a := Argument(7)
	if a.IsNudge() {
		t.Error("Argument().IsNudge() = true, want false")
	}
	if v, ok := a.Payload(); !ok || v != 7 {
		t.Errorf("Payload() = %d (ok=%v), want 7", v, ok)
	}

	var zero Request[int]
	if !zero.IsNudge() {
		t.Error("zero Request must be a nudge")
	}
}
