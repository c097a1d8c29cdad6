package cli

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"strconv"

	"github.com/platinummonkey/lightbox/pkg/app"
	"github.com/platinummonkey/lightbox/pkg/audit"
	"github.com/platinummonkey/lightbox/pkg/auth"
)

// passwordEnv supplies a password without putting it on the command line
const passwordEnv = "LIGHTBOX_ADMIN_PASSWORD"

func newCreateAdminCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "create-admin",
		Description: "Create an administrator account",
		Flags:       flag.NewFlagSet("create-admin", flag.ContinueOnError),
	}
	cmd.Flags.SetOutput(env.Out)
	cmd.Flags.String("username", "", "Username")
	cmd.Flags.String("email", "", "Email address")
	cmd.Flags.String("display-name", "", "Display name")
	cmd.Flags.String("password", "", "Password (or set "+passwordEnv+"; generated when empty)")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		username := stringFlag(cmd.Flags, "username")
		email := stringFlag(cmd.Flags, "email")
		if username == "" || email == "" {
			return errors.New("username and email are required")
		}

		password, generated, err := resolvePassword(env, stringFlag(cmd.Flags, "password"))
		if err != nil {
			return err
		}

		return withApp(env, func(ctx context.Context, a *app.App) error {
			u, err := a.Auth.CreateUser(ctx, auth.NewUser{
				Username:    username,
				Email:       email,
				DisplayName: stringFlag(cmd.Flags, "display-name"),
				Role:        auth.RoleAdmin,
				Password:    password,
			})
			if err != nil {
				return fmt.Errorf("failed to create admin: %w", err)
			}
			recordCLI(ctx, a, audit.EventAdminUserCreated, u, "admin created from the command line")

			fmt.Fprintf(env.Out, "Created admin %s (id %d)\n", u.Username, u.ID)
			if generated {
				fmt.Fprintf(env.Out, "Generated password: %s\n", password)
			}
			return nil
		})
	}
	return cmd
}

func newResetPasswordCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "reset-password",
		Description: "Set a new password for a user and sign them out",
		Flags:       flag.NewFlagSet("reset-password", flag.ContinueOnError),
	}
	cmd.Flags.SetOutput(env.Out)
	cmd.Flags.String("user", "", "Username, email or numeric id")
	cmd.Flags.String("password", "", "New password (or set "+passwordEnv+"; generated when empty)")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		password, generated, err := resolvePassword(env, stringFlag(cmd.Flags, "password"))
		if err != nil {
			return err
		}

		return withApp(env, func(ctx context.Context, a *app.App) error {
			u, err := lookupUser(ctx, a.Auth, stringFlag(cmd.Flags, "user"))
			if err != nil {
				return err
			}
			if err := a.Auth.SetUserPassword(ctx, u.ID, password); err != nil {
				return fmt.Errorf("failed to set password: %w", err)
			}
			recordCLI(ctx, a, audit.EventAuthPasswordReset, u, "password reset from the command line")

			fmt.Fprintf(env.Out, "Password updated for %s; all sessions revoked\n", u.Username)
			if generated {
				fmt.Fprintf(env.Out, "Generated password: %s\n", password)
			}
			return nil
		})
	}
	return cmd
}

func newDisableMFACommand(env *Env) *Command {
	cmd := &Command{
		Name:        "disable-mfa",
		Description: "Turn off two-factor authentication for a locked out user",
		Flags:       flag.NewFlagSet("disable-mfa", flag.ContinueOnError),
	}
	cmd.Flags.SetOutput(env.Out)
	cmd.Flags.String("user", "", "Username, email or numeric id")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return withApp(env, func(ctx context.Context, a *app.App) error {
			u, err := lookupUser(ctx, a.Auth, stringFlag(cmd.Flags, "user"))
			if err != nil {
				return err
			}
			if !u.MFAEnabled {
				fmt.Fprintf(env.Out, "%s does not have two-factor authentication enabled\n", u.Username)
				return nil
			}
			if err := a.Auth.ResetUserMFA(ctx, u.ID); err != nil {
				return fmt.Errorf("failed to disable MFA: %w", err)
			}
			recordCLI(ctx, a, audit.EventAdminMFAReset, u, "MFA disabled from the command line")

			fmt.Fprintf(env.Out, "Two-factor authentication disabled for %s\n", u.Username)
			return nil
		})
	}
	return cmd
}

// lookupUser accepts a numeric id, a username or an email
func lookupUser(ctx context.Context, svc *auth.Service, ref string) (*auth.User, error) {
	if ref == "" {
		return nil, errors.New("--user is required")
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if u, err := svc.GetUser(ctx, id); err == nil {
			return u, nil
		}
	}
	u, err := svc.GetUserByLogin(ctx, ref)
	if errors.Is(err, auth.ErrNotFound) {
		return nil, fmt.Errorf("user %q not found", ref)
	}
	return u, err
}

// resolvePassword prefers the flag, then the environment, then generates one
func resolvePassword(env *Env, flagValue string) (password string, generated bool, err error) {
	if flagValue != "" {
		return flagValue, false, nil
	}
	if env.Getenv != nil {
		if v := env.Getenv(passwordEnv); v != "" {
			return v, false, nil
		}
	}
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", false, fmt.Errorf("failed to generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), true, nil
}

func recordCLI(ctx context.Context, a *app.App, eventType audit.EventType, u *auth.User, message string) {
	event := audit.NewEvent(ctx, eventType, audit.StatusSuccess).
		Target(audit.TargetUser, strconv.FormatInt(u.ID, 10)).
		With("source", "cli").
		Msg(message)
	if err := a.Audit.Log(ctx, event); err != nil {
		a.Logger.WithError(err).Warn("failed to record audit event")
	}
}
