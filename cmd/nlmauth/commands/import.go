package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/solorunner/nlm-auth-broker/internal/broker"
)

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "store cookies pasted from a cURL command or Cookie header",
		ArgsUsage: "[cookies]",
		Flags: []cli.Flag{
			credentialsStorageFlag(),
			profileFlag(),
		},
		Action: importAction,
	}
}

func importAction(ctx context.Context, cmd *cli.Command) error {
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
	input := strings.Join(cmd.Args().Slice(), " ")
	if input == "" {
		input, err = readCookieInput(cmd.Root().Reader, out)
		if err != nil {
			return err
		}
	}

	cookies, err := broker.ParseCookies(input)
	if err != nil {
		return err
	}

	if err := creds.Write(ctx, cfg.Credentials.Profile, cookies.Header()); err != nil {
		return fmt.Errorf("storing cookies: %w", err)
	}

	fmt.Fprintf(out, "Stored %d cookies for profile %q.\n", len(cookies), cfg.Credentials.Profile)
	if missing := cookies.Missing(broker.RequiredGoogleCookies...); len(missing) > 0 {
		fmt.Fprintf(out, "Missing: %s\n", strings.Join(missing, ", "))
	}
	return nil
}

// readCookieInput reads without echo from a terminal, or everything from a pipe.
func readCookieInput(r io.Reader, out io.Writer) (string, error) {
	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(out, "Paste cookies: ")
		data, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("reading cookies: %w", err)
		}
		return string(data), nil
	}

	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading cookies: %w", err)
	}
	return string(data), nil
}
