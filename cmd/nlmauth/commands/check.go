package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/solorunner/nlm-auth-broker/internal/broker"
	"github.com/solorunner/nlm-auth-broker/internal/credstore"
)

// ErrNotAuthenticated makes check exit non-zero when no cookies are stored.
var ErrNotAuthenticated = errors.New("not authenticated")

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "report whether cookies are stored for a profile",
		Flags: []cli.Flag{
			credentialsStorageFlag(),
			profileFlag(),
		},
		Action: checkAction,
	}
}

func checkAction(ctx context.Context, cmd *cli.Command) error {
	cfg, shutdown, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer flush(shutdown)

	creds, err := cfg.Credentials.NewCredentialStore()
	if err != nil {
		return fmt.Errorf("failed to create credential store: %w", err)
	}

	out := cmd.Root().Writer
	value, err := creds.Read(ctx, cfg.Credentials.Profile)
	if errors.Is(err, credstore.ErrNotFound) {
		fmt.Fprintf(out, "Profile %q: no stored cookies.\n", cfg.Credentials.Profile)
		return ErrNotAuthenticated
	}
	if err != nil {
		return err
	}

	cookies, err := broker.ParseCookies(value)
	if err != nil {
		return fmt.Errorf("profile %q: %w", cfg.Credentials.Profile, err)
	}

	fmt.Fprintf(out, "Profile %q: %d cookies stored.\n", cfg.Credentials.Profile, len(cookies))
	if missing := cookies.Missing(broker.RequiredGoogleCookies...); len(missing) > 0 {
		fmt.Fprintf(out, "Missing: %s\n", strings.Join(missing, ", "))
	}
	return nil
}
