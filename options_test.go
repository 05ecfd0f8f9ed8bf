package taskpoll

import (
	"testing"
	"time"
)

func TestWithInterval_Validation(t *testing.T) {
	tests := []struct {
		name    string
		d       time.Duration
		wantErr bool
	}{
		{"positive", time.Second, false},
		{"zero", 0, true},
		{"negative", -time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithInterval(tt.d)(&settings{})
			if (err != nil) != tt.wantErr {
				t.Errorf("WithInterval(%v) error = %v, wantErr %v", tt.d, err, tt.wantErr)
			}
		})
	}
}

func TestWithIntervalVar_Validation(t *testing.T) {
	if err := WithIntervalVar(nil)(&settings{}); err == nil {
		t.Error("expected error for nil var")
	}
	if err := WithIntervalVar(NewDurationVar(0))(&settings{}); err == nil {
		t.Error("expected error for non-positive initial value")
	}
	if err := WithIntervalVar(NewDurationVar(time.Second))(&settings{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWithIntervalDelay_Validation(t *testing.T) {
	if err := WithIntervalDelay(-time.Second)(&settings{}); err == nil {
		t.Error("expected error for negative delay")
	}
	// zero delay is a valid, explicit "no delay"
	if err := WithIntervalDelay(0)(&settings{}); err != nil {
		t.Errorf("unexpected error for zero delay: %v", err)
	}
}

func TestWithBufferCapacity_Validation(t *testing.T) {
	if err := WithBufferCapacity(0)(&settings{}); err == nil {
		t.Error("expected error for zero capacity")
	}
	if err := WithBufferCapacity(-1)(&settings{}); err == nil {
		t.Error("expected error for negative capacity")
	}

	var cfg settings
	if err := WithBufferCapacity(4)(&cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.bufferCapacity != 4 {
		t.Errorf("bufferCapacity = %d, want 4", cfg.bufferCapacity)
	}
}

func TestWithWorkTimeout_Validation(t *testing.T) {
	if err := WithWorkTimeout(0)(&settings{}); err == nil {
		t.Error("expected error for zero timeout")
	}
	if err := WithWorkTimeout(time.Second)(&settings{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWithCapacityFunc_Validation(t *testing.T) {
	if err := WithCapacityFunc(nil)(&settings{}); err == nil {
		t.Error("expected error for nil capacity func")
	}
}

func TestWithLogger_Validation(t *testing.T) {
	if err := WithLogger(nil)(&settings{}); err == nil {
		t.Error("expected error for nil logger")
	}
	if err := WithLogger(testLogger())(&settings{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWithResultsBuffer_Validation(t *testing.T) {
	if err := WithResultsBuffer(-1)(&settings{}); err == nil {
		t.Error("expected error for negative buffer")
	}
	// zero is valid: unbuffered results channel
	if err := WithResultsBuffer(0)(&settings{}); err != nil {
		t.Errorf("unexpected error for zero buffer: %v", err)
	}
}
