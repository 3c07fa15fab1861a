package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/panyam/reelauth"
)

func keygenCmd() *cli.Command {
	var size int
	return &cli.Command{
		Name:  "keygen",
		Usage: "Print a random secret suitable for REELAUTH_SESSION_SECRET",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "bytes",
				Usage:       "Number of random bytes",
				Value:       48,
				Destination: &size,
			},
		},
		Action: func(ctx *cli.Context) error {
			if size < reelauth.MinSecretKeyLength {
				return fmt.Errorf("secret must be at least %d bytes", reelauth.MinSecretKeyLength)
			}
			buf := make([]byte, size)
			if _, err := rand.Read(buf); err != nil {
				return err
			}
			fmt.Fprintln(ctx.App.Writer, base64.RawURLEncoding.EncodeToString(buf))
			return nil
		},
	}
}

func hashCmd() *cli.Command {
	var cost int
	return &cli.Command{
		Name:  "hash",
		Usage: "Hash a password read from stdin",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "cost",
				Value:       reelauth.MinHashCost,
				Destination: &cost,
			},
		},
		Action: func(ctx *cli.Context) error {
			password, err := readSecret()
			if err != nil {
				return err
			}
			digest, err := reelauth.NewHasher(cost).Hash(ctx.Context, password)
			if err != nil {
				return err
			}
			fmt.Fprintln(ctx.App.Writer, digest)
			return nil
		},
	}
}

func accountsCmd() *cli.Command {
	var limit int
	return &cli.Command{
		Name:  "accounts",
		Usage: "Inspect accounts in the configured store",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List accounts, oldest first",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:        "limit",
						Value:       100,
						Destination: &limit,
					},
				},
				Action: func(ctx *cli.Context) error {
					cfg, err := reelauth.LoadConfig()
					if err != nil {
						return err
					}
					accounts, closeStore, err := openStore(ctx.Context, cfg)
					if err != nil {
						return err
					}
					defer closeStore()

					list, err := accounts.ListAccounts(ctx.Context, limit)
					if err != nil {
						return err
					}
					for _, a := range list {
						providers := make([]string, 0, len(a.Providers))
						for _, l := range a.Providers {
							providers = append(providers, string(l.Provider))
						}
						if a.HasPassword() {
							providers = append(providers, string(reelauth.ProviderLocal))
						}
						fmt.Fprintf(ctx.App.Writer, "%s\t%s\t%s\t%s\n", a.ID, a.Email,
							a.CreatedAt.UTC().Format(time.RFC3339), strings.Join(providers, ","))
					}
					return nil
				},
			},
		},
	}
}

// readSecret reads a single line from stdin
func readSecret() (string, error) {
	sc := bufio.NewScanner(os.Stdin)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", errors.New("missing password from stdin")
	}
	secret := strings.TrimRight(sc.Text(), "\r\n")
	if secret == "" {
		return "", errors.New("missing password from stdin")
	}
	return secret, nil
}
