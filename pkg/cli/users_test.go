package cli

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lightbox/pkg/app"
	"github.com/platinummonkey/lightbox/pkg/audit"
	"github.com/platinummonkey/lightbox/pkg/auth"
)

func inspect(t *testing.T, env *Env, fn func(ctx context.Context, a *app.App)) {
	t.Helper()
	require.NoError(t, withApp(env, func(ctx context.Context, a *app.App) error {
		fn(ctx, a)
		return nil
	}))
}

func TestCreateAdmin(t *testing.T) {
	env, out := testEnv(t)
	root := NewRootCommand(env)

	err := root.Execute([]string{"create-admin", "--username", "alice", "--email", "alice@example.com",
		"--password", "correct-horse-battery"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Created admin alice")
	assert.NotContains(t, out.String(), "Generated password")

	inspect(t, env, func(ctx context.Context, a *app.App) {
		u, err := a.Auth.GetUserByLogin(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, auth.RoleAdmin, u.Role)

		res, err := a.Auth.Login(ctx, "alice@example.com", "correct-horse-battery", auth.ClientMeta{})
		require.NoError(t, err)
		assert.NotNil(t, res.Session)

		events, _, err := a.AuditDB.List(ctx, audit.Filter{EventTypes: []audit.EventType{audit.EventAdminUserCreated}, Limit: 10})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "cli", events[0].Metadata["source"])
	})

	err = root.Execute([]string{"create-admin", "--username", "alice", "--email", "other@example.com",
		"--password", "correct-horse-battery"})
	assert.ErrorIs(t, err, auth.ErrUsernameTaken)
}

func TestCreateAdmin_GeneratedPassword(t *testing.T) {
	env, out := testEnv(t)

	require.NoError(t, NewRootCommand(env).Execute([]string{"create-admin", "--username", "bob", "--email", "bob@example.com"}))

	var password string
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.HasPrefix(line, "Generated password: ") {
			password = strings.TrimPrefix(line, "Generated password: ")
		}
	}
	require.NotEmpty(t, password)

	inspect(t, env, func(ctx context.Context, a *app.App) {
		_, err := a.Auth.Login(ctx, "bob", password, auth.ClientMeta{})
		assert.NoError(t, err)
	})
}

func TestCreateAdmin_Validation(t *testing.T) {
	env, _ := testEnv(t)
	root := NewRootCommand(env)

	err := root.Execute([]string{"create-admin", "--username", "carol"})
	assert.EqualError(t, err, "username and email are required")

	err = root.Execute([]string{"create-admin", "--username", "carol", "--email", "carol@example.com", "--password", "short"})
	assert.ErrorIs(t, err, auth.ErrWeakPassword)
}

func TestResetPassword(t *testing.T) {
	env, out := testEnv(t)
	root := NewRootCommand(env)
	require.NoError(t, root.Execute([]string{"create-admin", "--username", "alice", "--email", "alice@example.com",
		"--password", "correct-horse-battery"}))

	var token string
	inspect(t, env, func(ctx context.Context, a *app.App) {
		res, err := a.Auth.Login(ctx, "alice", "correct-horse-battery", auth.ClientMeta{})
		require.NoError(t, err)
		token = res.Session.Token
	})

	env.Getenv = func(key string) string {
		if key == passwordEnv {
			return "a-fresh-long-passphrase"
		}
		return ""
	}
	require.NoError(t, root.Execute([]string{"reset-password", "--user", "alice@example.com"}))
	assert.Contains(t, out.String(), "Password updated for alice")

	inspect(t, env, func(ctx context.Context, a *app.App) {
		_, err := a.Auth.ValidateSession(ctx, token)
		assert.Error(t, err)
		_, err = a.Auth.Login(ctx, "alice", "a-fresh-long-passphrase", auth.ClientMeta{})
		assert.NoError(t, err)
	})

	err := root.Execute([]string{"reset-password", "--user", "nobody"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `user "nobody" not found`)

	err = root.Execute([]string{"reset-password"})
	assert.EqualError(t, err, "--user is required")
}

func TestDisableMFA(t *testing.T) {
	env, out := testEnv(t)
	root := NewRootCommand(env)
	require.NoError(t, root.Execute([]string{"create-admin", "--username", "alice", "--email", "alice@example.com",
		"--password", "correct-horse-battery"}))

	require.NoError(t, root.Execute([]string{"disable-mfa", "--user", "alice"}))
	assert.Contains(t, out.String(), "does not have two-factor authentication enabled")

	var userID int64
	inspect(t, env, func(ctx context.Context, a *app.App) {
		u, err := a.Auth.GetUserByLogin(ctx, "alice")
		require.NoError(t, err)
		userID = u.ID

		setup, err := a.Auth.BeginTOTPSetup(ctx, u)
		require.NoError(t, err)
		code, err := totp.GenerateCode(setup.Secret, time.Now())
		require.NoError(t, err)
		_, err = a.Auth.ConfirmTOTPSetup(ctx, u, setup.ChallengeID, code)
		require.NoError(t, err)
	})

	require.NoError(t, root.Execute([]string{"disable-mfa", "--user", strconv.FormatInt(userID, 10)}))
	assert.Contains(t, out.String(), "Two-factor authentication disabled for alice")

	inspect(t, env, func(ctx context.Context, a *app.App) {
		u, err := a.Auth.GetUser(ctx, userID)
		require.NoError(t, err)
		assert.False(t, u.MFAEnabled)

		res, err := a.Auth.Login(ctx, "alice", "correct-horse-battery", auth.ClientMeta{})
		require.NoError(t, err)
		assert.Nil(t, res.Challenge)
	})
}
