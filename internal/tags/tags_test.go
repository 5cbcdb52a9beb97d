package tags

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeclarationOrder(t *testing.T) {
	assert.Equal(t, []Tag{Chronological, General, Confidential, Secret, UltraSecret}, All())
}

func TestRanks(t *testing.T) {
	want := map[Tag]int{Chronological: 2, General: 1, Confidential: 3, Secret: 4, UltraSecret: 5}
	for tag, rank := range want {
		assert.Equal(t, rank, tag.Rank(), tag)
	}
	assert.Equal(t, 0, Tag("bogus").Rank())
}

func TestAllowedSets(t *testing.T) {
	tests := []struct {
		scope    Scope
		unlocked bool
		want     []Tag
	}{
		{ScopeSelf, false, []Tag{Chronological, General, Confidential}},
		{ScopeSelf, true, []Tag{Chronological, General, Confidential, Secret}},
		{ScopeDepartment, false, []Tag{Chronological, General}},
		{ScopeDepartment, true, []Tag{Chronological, General}},
		{ScopeTenant, false, []Tag{General}},
		{ScopeTenant, true, []Tag{General}},
	}
	for _, tt := range tests {
		got := Allowed(tt.scope, tt.unlocked)
		assert.Equal(t, tt.want, got.Slice(), "%s unlocked=%v", tt.scope, tt.unlocked)
		assert.False(t, got.Has(UltraSecret))
	}
}

func TestParse(t *testing.T) {
	for in, want := range map[string]Tag{
		"secret":       Secret,
		"Ultra Secret": UltraSecret,
		"ultra-secret": UltraSecret,
		"ultrasecret":  UltraSecret,
		"GENERAL":      General,
	} {
		got, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := Parse("top")
	assert.Error(t, err)
}

func TestParseScope(t *testing.T) {
	s, err := ParseScope("dept")
	require.NoError(t, err)
	assert.Equal(t, ScopeDepartment, s)

	s, err = ParseScope("")
	require.NoError(t, err)
	assert.Equal(t, ScopeSelf, s)

	_, err = ParseScope("galaxy")
	assert.Error(t, err)
}

func TestPolicyFlags(t *testing.T) {
	assert.True(t, Secret.RequiresUnlock())
	assert.True(t, UltraSecret.RequiresUnlock())
	assert.False(t, Confidential.RequiresUnlock())
	assert.True(t, UltraSecret.SealAtRest())
	assert.False(t, Secret.SealAtRest())
}
