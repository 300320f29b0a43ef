package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAccount_SetPassword_HasPassword(t *testing.T) {
	t.Parallel()

	a := NewAccount("alice", "a@x.com")
	require.Empty(t, a.Salt())
	require.False(t, a.HasPassword(""))

	require.NoError(t, a.SetPassword("pw"))
	require.NotEmpty(t, a.Salt())
	require.NotEmpty(t, a.PasswordHash())
	require.True(t, a.HasPassword("pw"))
	require.False(t, a.HasPassword("nope"))

	oldSalt := a.Salt()
	require.NoError(t, a.SetPassword("pw"))
	require.NotEqual(t, oldSalt, a.Salt(), "each SetPassword draws a fresh salt")
}

func TestRestore_AssignsCredentialsVerbatim(t *testing.T) {
	t.Parallel()

	created := time.UnixMilli(1_700_000_000_000)
	a := Restore(StoredAccount{
		Username:         "alice",
		Email:            "a@x.com",
		PreferredLocales: "fr,en-US",
		Salt:             "salt",
		PasswordHash:     "hash",
		CreatedAt:        created,
		UpdatedAt:        created,
	})

	require.Equal(t, "alice", a.Username)
	require.Equal(t, "a@x.com", a.Email)
	require.Equal(t, []string{"fr", "en-US"}, a.PreferredLocales)
	require.Equal(t, "salt", a.Salt())
	require.Equal(t, "hash", a.PasswordHash())
	require.True(t, a.CreatedAt.Equal(created))
	require.Equal(t, "/service/users/alice", a.ID())
}

func TestWithUsername(t *testing.T) {
	t.Parallel()

	a := WithUsername("bob")
	require.Equal(t, "bob", a.Username)
	require.Empty(t, a.Email)
	require.Empty(t, a.PasswordHash())
}

func TestLocales(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []string
		want string
	}{
		{name: "canonical case", in: []string{"en-us", "FR"}, want: "en-US,fr"},
		{name: "drops invalid and blank", in: []string{"en", "", "not a tag!", " de "}, want: "en,de"},
		{name: "dedupes keeping order", in: []string{"fr", "en", "fr"}, want: "fr,en"},
		{name: "empty", in: nil, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := WithUsername("u")
			a.SetPreferredLocales(tt.in...)
			require.Equal(t, tt.want, a.PreferredLocalesString())
			require.Equal(t, a.PreferredLocales, ParseLocales(a.PreferredLocalesString()))
		})
	}
}

func TestSplitLocales(t *testing.T) {
	t.Parallel()

	valid, invalid := SplitLocales([]string{"en_us", "xx-notreal-!!", "FR", " ", "en-US"})
	require.Equal(t, []string{"en-US", "fr"}, valid)
	require.Equal(t, []string{"xx-notreal-!!"}, invalid)

	a := WithUsername("u")
	require.Equal(t, []string{"not a tag!"}, a.SetPreferredLocales("de", "not a tag!"))
	require.Equal(t, []string{"de"}, a.PreferredLocales)
	require.Empty(t, a.SetPreferredLocales("de"))
}

func TestForgotPasswordToken(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1_700_000_000_000)

	empty := EmptyForgotPasswordToken()
	require.True(t, empty.IsEmpty())
	require.True(t, empty.IsExpired(now))
	require.False(t, empty.Matches("", now))
	require.True(t, NewForgotPasswordToken("", now.Add(time.Hour)).IsEmpty())

	tok := NewForgotPasswordToken("abc", now.Add(time.Hour))
	require.False(t, tok.IsEmpty())
	require.Equal(t, "abc", tok.Token())
	require.True(t, tok.ExpiresAt().Equal(now.Add(time.Hour)))

	require.True(t, tok.Matches("abc", now))
	require.False(t, tok.Matches("abd", now))
	require.False(t, tok.Matches("", now))
	require.False(t, tok.Matches("abc", now.Add(time.Hour)), "expiry instant is exclusive")
	require.True(t, tok.IsExpired(now.Add(2*time.Hour)))
}
