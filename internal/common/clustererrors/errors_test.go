package clustererrors

import (
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestExitCodeFromError(t *testing.T) {
	tests := map[string]struct {
		err  error
		want int
	}{
		"nil":                           {nil, ExitOK},
		"ErrStructural":                 {&ErrStructural{Source: "topology"}, ExitStructural},
		"ErrInvalidArgument":            {&ErrInvalidArgument{Name: "target_instances"}, ExitStructural},
		"ErrNotFound":                   {&ErrNotFound{Type: "device"}, ExitStructural},
		"ErrPersistence":                {&ErrPersistence{Op: "read"}, ExitPersistence},
		"ErrCancellation":               {&ErrCancellation{JobId: "1"}, ExitDrain},
		"pkg.Error => ErrStructural":    {errors.WithMessage(&ErrStructural{}, "foo"), ExitStructural},
		"pkg.Error => ErrPersistence":   {errors.Wrap(&ErrPersistence{}, "foo"), ExitPersistence},
		"multierror => ErrCancellation": {multierror.Append(nil, &ErrCancellation{}, errors.New("x")), ExitDrain},
		"pkg.Error":                     {errors.New("foo"), ExitUnknown},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExitCodeFromError(tc.err))
		})
	}
}

func TestErrorMessages_CarryIdentity(t *testing.T) {
	err := &ErrSubmission{Device: "l40-8", Workload: "llama8b", Cause: errors.New("sbatch: error")}
	assert.Contains(t, err.Error(), "l40-8:llama8b")
	assert.Contains(t, err.Error(), "sbatch: error")

	cancelErr := &ErrCancellation{JobId: "123", Key: "l40-8:llama8b", Cause: errors.New("boom")}
	assert.Contains(t, cancelErr.Error(), "123")
	assert.Contains(t, cancelErr.Error(), "l40-8:llama8b")

	expansionErr := &ErrExpansion{Pattern: "h100-*", Workload: "vllm"}
	assert.Contains(t, expansionErr.Error(), "h100-*")
	assert.Contains(t, expansionErr.Error(), "vllm")
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := errors.Wrap(&ErrPersistence{Path: "/tmp/state.json", Op: "write", Cause: cause}, "saving state")
	assert.True(t, errors.Is(err, cause))

	var perr *ErrPersistence
	assert.True(t, errors.As(err, &perr))
	assert.Equal(t, "/tmp/state.json", perr.Path)
}

func TestIsStructural(t *testing.T) {
	assert.True(t, IsStructural(errors.WithStack(&ErrStructural{Source: "catalog"})))
	assert.False(t, IsStructural(errors.New("foo")))
}
