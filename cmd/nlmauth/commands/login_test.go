package commands

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/solorunner/nlm-auth-broker/internal/broker"
	"github.com/solorunner/nlm-auth-broker/internal/server"
)

// extension delivers cookies for whichever token is offered for auto-fill.
func extension(ctx context.Context, b *broker.Broker, cookies broker.Cookies) <-chan error {
	done := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				done <- ctx.Err()
				return
			case <-ticker.C:
				if token, ok := b.LatestToken(); ok {
					done <- b.Deliver(ctx, broker.DeliverRequest{Token: token, Cookies: cookies})
					return
				}
			}
		}
	}()
	return done
}

func TestLogin_ReadOnlyStoragePrintsCookies(t *testing.T) {
	t.Setenv("NLMAUTH_LOG_LEVEL", "error")

	b, err := broker.New(broker.NewStore())
	require.NoError(t, err)
	s, err := server.New(b)
	require.NoError(t, err)
	ts := httptest.NewServer(s)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	delivered := extension(ctx, b, broker.Cookies{"SID": "a", "HSID": "b"})

	var out bytes.Buffer
	root := &cli.Command{
		Name:     "nlmauth",
		Writer:   &out,
		Flags:    []cli.Flag{&cli.StringFlag{Name: "config"}},
		Commands: []*cli.Command{loginCommand()},
	}
	err = root.Run(ctx, []string{"nlmauth", "login",
		"--client--base-url", ts.URL,
		"--client--no-browser",
		"--credentials--storage", "none",
	})
	require.NoError(t, err)
	require.NoError(t, <-delivered)

	assert.Contains(t, out.String(), "read-only")
	assert.Contains(t, out.String(), "Cookie: HSID=b; SID=a", "the only copy is printed")
	assert.Equal(t, 0, b.Store().Len())
}
