package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/platinummonkey/lightbox/pkg/app"
	"github.com/platinummonkey/lightbox/pkg/config"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// Env is what commands need from the outside world
type Env struct {
	Out io.Writer
	// Open connects to the configured database and storage. Commands that
	// only generate files never call it.
	Open func(ctx context.Context) (*app.App, error)
	// Getenv looks up environment variables
	Getenv func(string) string
}

// DefaultEnv writes to stdout and opens the application from LIGHTBOX_*
// configuration
func DefaultEnv() *Env {
	return &Env{
		Out: os.Stdout,
		Open: func(ctx context.Context) (*app.App, error) {
			cfg, err := config.LoadConfig()
			if err != nil {
				return nil, err
			}
			return app.New(ctx, cfg, nil, app.WithSyncNotifications())
		},
		Getenv: os.Getenv,
	}
}

// NewRootCommand creates the root command
func NewRootCommand(env *Env) *Command {
	root := &Command{
		Name:        "lightbox-admin",
		Description: "Lightbox - administration tasks",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("lightbox-admin", flag.ContinueOnError),
	}

	for _, cmd := range []*Command{
		newCreateAdminCommand(env),
		newResetPasswordCommand(env),
		newDisableMFACommand(env),
		newGenerateVAPIDKeysCommand(env),
		newGenerateLocalesCommand(env),
	} {
		root.Subcommands[cmd.Name] = cmd
	}

	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	switch strings.ToLower(args[0]) {
	case "-h", "--help", "help":
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	fmt.Printf("Usage: %s <command> [args]\n\n", c.Name)
	fmt.Printf("Commands:\n")
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-22s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// withApp opens the application for one command and closes it afterwards
func withApp(env *Env, fn func(ctx context.Context, a *app.App) error) error {
	ctx := context.Background()
	a, err := env.Open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func stringFlag(fs *flag.FlagSet, name string) string {
	return fs.Lookup(name).Value.String()
}
