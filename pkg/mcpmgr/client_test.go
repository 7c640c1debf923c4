package mcpmgr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMethodNotFound(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"json-rpc reply", errors.New("method not found"), true},
		{"wrapped with method", fmt.Errorf("calling %q: %w", "prompts/list", errors.New("Method not found")), true},
		{"unsupported feature", errors.New("unsupported cursor format"), false},
		{"not implemented", errors.New("resources/list: not implemented yet"), false},
		{"transport", errors.New("connection reset by peer"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isMethodNotFound(tc.err))
		})
	}
}
