package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/pkg/browser"
	"github.com/urfave/cli/v3"

	"github.com/solorunner/nlm-auth-broker/internal/app"
	"github.com/solorunner/nlm-auth-broker/internal/client"
	"github.com/solorunner/nlm-auth-broker/internal/credstore"
)

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "authenticate through a running broker and store the cookies",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "client--base-url",
				Usage: "URL of the running broker",
			},
			&cli.DurationFlag{
				Name:  "client--timeout",
				Usage: "how long to wait for the extension",
				Value: app.DefaultConfigClientTimeout,
			},
			&cli.BoolFlag{
				Name:  "client--no-browser",
				Usage: "print the sign-in URL instead of opening a browser",
			},
			credentialsStorageFlag(),
			profileFlag(),
		},
		Action: loginAction,
	}
}

// loginAction runs the agent side of the handshake from a separate process,
// so polling the broker over HTTP never blocks the broker itself.
func loginAction(ctx context.Context, cmd *cli.Command) error {
	cfg, shutdown, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer flush(shutdown)

	creds, err := cfg.Credentials.NewCredentialStore()
	if err != nil {
		return fmt.Errorf("failed to create credential store: %w", err)
	}

	c, err := client.New(cfg.Client.BaseURL, client.WithPollInterval(cfg.Client.PollInterval))
	if err != nil {
		return err
	}

	token, err := c.Token(ctx)
	if err != nil {
		return fmt.Errorf("requesting token from %s: %w", cfg.Client.BaseURL, err)
	}
	if err := c.RegisterToken(ctx, token); err != nil {
		return fmt.Errorf("offering token for auto-fill: %w", err)
	}

	out := cmd.Root().Writer
	fmt.Fprintf(out, "Token: %s\n", token)
	fmt.Fprintf(out, "Sign in at %s, then click Authenticate in the extension.\n", cfg.Client.OpenURL)

	if !cfg.Client.NoBrowser {
		if err := browser.OpenURL(cfg.Client.OpenURL); err != nil {
			fmt.Fprintf(out, "Could not open a browser: %v\n", err)
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, cfg.Client.Timeout)
	defer cancel()

	cookies, err := c.WaitForCookies(waitCtx, token)
	if err != nil {
		return fmt.Errorf("waiting for cookies: %w", err)
	}

	err = creds.Write(ctx, cfg.Credentials.Profile, cookies.Header())
	if errors.Is(err, credstore.ErrReadOnly) {
		// The broker already dropped them; this is the only copy left.
		fmt.Fprintf(out, "Credential storage is read-only, cookies were not stored:\nCookie: %s\n", cookies.Header())
		return nil
	}
	if err != nil {
		fmt.Fprintf(out, "Cookie: %s\n", cookies.Header())
		return fmt.Errorf("storing cookies: %w", err)
	}

	fmt.Fprintf(out, "Stored %d cookies for profile %q.\n", len(cookies), cfg.Credentials.Profile)
	return nil
}
