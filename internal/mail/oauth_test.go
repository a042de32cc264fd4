package mail

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/Veraticus/receipt-reconciler/internal/common"
)

func TestOAuth2Config_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     OAuth2Config
		wantErr bool
	}{
		{"complete", OAuth2Config{ClientID: "id", ClientSecret: "secret", TokenFile: "/tmp/t.json"}, false},
		{"missing secret", OAuth2Config{ClientID: "id", TokenFile: "/tmp/t.json"}, true},
		{"missing token file", OAuth2Config{ClientID: "id", ClientSecret: "secret"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, common.ErrMissingConfig))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	token := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC),
	}
	require.NoError(t, saveToken(path, token))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "access", loaded.AccessToken)
	assert.Equal(t, "refresh", loaded.RefreshToken)
	assert.True(t, token.Expiry.Equal(loaded.Expiry))
}

func TestLoadToken_RejectsEmptyToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"token_type":"Bearer"}`), 0600))

	_, err := LoadToken(path)
	assert.Error(t, err)
}

// rotatingSource hands out a new access token on every call.
type rotatingSource struct{ tokens []string }

func (r *rotatingSource) Token() (*oauth2.Token, error) {
	next := r.tokens[0]
	if len(r.tokens) > 1 {
		r.tokens = r.tokens[1:]
	}
	return &oauth2.Token{AccessToken: next, RefreshToken: "refresh"}, nil
}

func TestSavingTokenSource_PersistsRefreshedTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	src := &savingTokenSource{
		base: &rotatingSource{tokens: []string{"old", "new"}},
		path: path,
		last: "old",
	}

	_, err := src.Token()
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "an unchanged token is not written")

	_, err = src.Token()
	require.NoError(t, err)
	saved, err := LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "new", saved.AccessToken)
}
