package session

import (
	"strings"
	"testing"

	"github.com/matheus3301/chatsync/internal/errors"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		input string
		ok    bool
	}{
		{"default", true},
		{"work-2", true},
		{"alt_account", true},
		{"9", true},
		{strings.Repeat("s", MaxNameLen), true},
		{"", false},
		{strings.Repeat("s", MaxNameLen+1), false},
		{"-flag", false},
		{"Work", false},
		{"two words", false},
		{"../escape", false},
		{"a.b", false},
		{"café", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.ok {
				if err != nil {
					t.Errorf("ValidateName(%q) = %v, want nil", tt.input, err)
				}
				return
			}
			if errors.GetCode(err) != errors.CodeInvalidInput {
				t.Errorf("ValidateName(%q) code = %v, want invalid input", tt.input, errors.GetCode(err))
			}
		})
	}
}
