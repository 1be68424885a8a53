package identity

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aroudaki/app-builder-sub001/pkg/sandbox"
)

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{name: "ksuid", id: NewSessionID()},
		{name: "mixed case", id: "Session_1.a-b"},
		{name: "single char", id: "a"},
		{name: "empty", id: "", wantErr: true},
		{name: "leading dash", id: "-abc", wantErr: true},
		{name: "slash", id: "a/b", wantErr: true},
		{name: "space", id: "a b", wantErr: true},
		{name: "traversal", id: "../etc", wantErr: true},
		{name: "too long", id: strings.Repeat("a", 129), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSessionID(tt.id)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, sandbox.ErrInvalidSessionID))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNewSessionIDIsLowercaseAndUnique(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	assert.NotEqual(t, a, b)
	assert.Equal(t, strings.ToLower(a), a)
	assert.Len(t, a, 27)
}

func TestContainerNameRoundTrip(t *testing.T) {
	name := ContainerName("", "abc123")
	assert.Equal(t, "app-builder-abc123", name)

	id, ok := SessionFromName("", "/"+name)
	require.True(t, ok)
	assert.Equal(t, "abc123", id)

	assert.Equal(t, "custom-x", ContainerName("custom", "x"))
	_, ok = SessionFromName("custom", "other-x")
	assert.False(t, ok)
	_, ok = SessionFromName("custom", "custom-")
	assert.False(t, ok)
}
