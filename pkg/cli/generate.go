package cli

import (
	"encoding/json"
	"flag"
	"fmt"

	"github.com/platinummonkey/lightbox/pkg/i18n"
	"github.com/platinummonkey/lightbox/pkg/notifications"
)

func newGenerateVAPIDKeysCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "generate-vapid-keys",
		Description: "Print a new VAPID key pair for web push",
		Flags:       flag.NewFlagSet("generate-vapid-keys", flag.ContinueOnError),
	}
	cmd.Flags.SetOutput(env.Out)
	cmd.Flags.Bool("json", false, "Print the keys as JSON")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		public, private, err := notifications.GenerateVAPIDKeys()
		if err != nil {
			return fmt.Errorf("failed to generate VAPID keys: %w", err)
		}

		if stringFlag(cmd.Flags, "json") == "true" {
			return json.NewEncoder(env.Out).Encode(map[string]string{
				"public_key":  public,
				"private_key": private,
			})
		}
		fmt.Fprintf(env.Out, "LIGHTBOX_VAPID_PUBLIC_KEY=%s\n", public)
		fmt.Fprintf(env.Out, "LIGHTBOX_VAPID_PRIVATE_KEY=%s\n", private)
		return nil
	}
	return cmd
}

func newGenerateLocalesCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "generate-locales",
		Description: "Sync every locale file with the English source",
		Flags:       flag.NewFlagSet("generate-locales", flag.ContinueOnError),
	}
	cmd.Flags.SetOutput(env.Out)
	cmd.Flags.String("dir", "./web/locales", "Directory containing en.json")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		reports, err := i18n.GenerateLocales(stringFlag(cmd.Flags, "dir"))
		if err != nil {
			return err
		}
		for _, r := range reports {
			state := "updated"
			if r.Created {
				state = "created"
			}
			fmt.Fprintf(env.Out, "%-6s %-8s %d keys, %d added, %d removed\n",
				r.Locale, state, r.Keys, r.Added, r.Removed)
		}
		return nil
	}
	return cmd
}
