package commands

import (
	"errors"
	"fmt"
	"testing"

	"github.com/openfroyo/scopekeeper/pkg/scope"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"generic error", errors.New("boom"), exitError},
		{"partial failure", errPartialFailure, exitPartial},
		{"wrapped partial failure", fmt.Errorf("finalize: %w", errPartialFailure), exitPartial},
		{"lock contention", scope.NewLockTimeoutError("acme/test", nil), exitLocked},
		{"protected stage", scope.NewProtectedStageError("acme/prod"), exitProtected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
