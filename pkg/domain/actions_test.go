package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringListUnmarshal(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  StringList
	}{
		{"array", `["r1","r2"]`, StringList{"r1", "r2"}},
		{"comma joined string", `"r1, r2,r3"`, StringList{"r1", "r2", "r3"}},
		{"single value", `"r1"`, StringList{"r1"}},
		{"empty elements dropped", `["r1","", "  "]`, StringList{"r1"}},
		{"empty string", `""`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got StringList
			require.NoError(t, json.Unmarshal([]byte(tt.input), &got))
			assert.Equal(t, tt.want, got)
		})
	}

	var got StringList
	assert.Error(t, json.Unmarshal([]byte(`42`), &got))
}

func TestActionSpecRoleIDs(t *testing.T) {
	var spec ActionSpec
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"add-role","guildId":"g1","userId":"u1","roleIds":"r1,r2"}`), &spec))
	assert.Equal(t, ActionAddRole, spec.Kind)
	assert.Equal(t, StringList{"r1", "r2"}, spec.RoleIDs)
}

func TestCredentialsIdentity(t *testing.T) {
	creds := Credentials{ClientID: "abc", Token: "tok"}
	assert.Equal(t, "bot-abc", creds.Identity())
	assert.True(t, creds.Valid())
	assert.False(t, Credentials{ClientID: "abc"}.Valid())
	assert.False(t, Credentials{Token: "tok"}.Valid())
}
