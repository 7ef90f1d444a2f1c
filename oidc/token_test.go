package oidc

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokens_Redacted(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		token fmt.Stringer
		want  string
	}{
		{name: "access", token: AccessToken("secret"), want: RedactedAccessToken},
		{name: "refresh", token: RefreshToken("secret"), want: RedactedRefreshToken},
		{name: "id", token: IDToken("secret"), want: RedactedIDToken},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			assert.Equal(tt.want, tt.token.String())
			assert.Equal(tt.want, fmt.Sprintf("%v", tt.token))
			got, err := json.Marshal(tt.token)
			require.NoError(err)
			assert.Equal(fmt.Sprintf("%q", tt.want), string(got))
		})
	}
	t.Run("snapshot", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := Snapshot{AccessToken: "a", RefreshToken: "r", IDToken: "i"}
		got, err := json.Marshal(s)
		require.NoError(err)
		assert.NotContains(string(got), `"a"`)
		assert.Contains(string(got), RedactedAccessToken)
	})
}
