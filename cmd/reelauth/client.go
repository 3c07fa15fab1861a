package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/panyam/reelauth"
	"github.com/panyam/reelauth/client"
	"github.com/panyam/reelauth/client/stores/fs"
)

func clientCmd() *cli.Command {
	var serverURL string
	var credsPath string
	var authClient *client.AuthClient
	return &cli.Command{
		Name:  "client",
		Usage: "Talk to a running reelauth server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "server",
				Aliases:     []string{"s"},
				Value:       "http://localhost:8080",
				EnvVars:     []string{"REELAUTH_SERVER"},
				Destination: &serverURL,
			},
			&cli.StringFlag{
				Name:        "credentials",
				Usage:       "Credentials file, defaults to the user config directory",
				Destination: &credsPath,
			},
		},
		Before: func(ctx *cli.Context) error {
			store, err := fs.NewFSCredentialStore(credsPath, "reelauth")
			if err != nil {
				return err
			}
			authClient = client.NewAuthClient(serverURL, store)
			return nil
		},
		Subcommands: []*cli.Command{
			registerCmd(&authClient),
			loginCmd(&authClient),
			{
				Name:  "whoami",
				Usage: "Show the account behind the stored session",
				Action: func(ctx *cli.Context) error {
					info, err := authClient.Session(ctx.Context)
					if err != nil {
						return err
					}
					fmt.Fprintf(ctx.App.Writer, "%s\t%s\texpires %s\n", info.User.ID, info.User.Email, info.ExpiresAt.Format(time.RFC3339))
					return nil
				},
			},
			uploadGrantCmd(&authClient),
			{
				Name:  "logout",
				Usage: "Forget the stored session",
				Action: func(ctx *cli.Context) error {
					return authClient.Logout(ctx.Context)
				},
			},
		},
	}
}

func uploadGrantCmd(c **client.AuthClient) *cli.Command {
	var file, kind string
	return &cli.Command{
		Name:  "upload-grant",
		Usage: "Request an upload grant and print it as JSON",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "Check this file against the upload limits first",
				Destination: &file,
			},
			&cli.StringFlag{
				Name:        "kind",
				Usage:       "image or video",
				Value:       string(reelauth.MediaVideo),
				Destination: &kind,
			},
		},
		Action: func(ctx *cli.Context) error {
			var grant *reelauth.UploadGrant
			var err error
			if file == "" {
				grant, err = (*c).UploadGrant(ctx.Context)
			} else {
				var contentType string
				var size int64
				contentType, size, err = describeFile(file)
				if err != nil {
					return err
				}
				grant, err = (*c).UploadGrantFor(ctx.Context, reelauth.MediaKind(kind), contentType, size)
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(ctx.App.Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(grant)
		},
	}
}

// describeFile returns the MIME type and size of path. The extension decides
// the type when it is known, otherwise the first 512 bytes are sniffed.
func describeFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	if contentType := mime.TypeByExtension(filepath.Ext(path)); contentType != "" {
		return contentType, info.Size(), nil
	}
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", 0, err
	}
	return http.DetectContentType(head[:n]), info.Size(), nil
}

func emailFlag(email *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "email",
		Aliases:     []string{"e"},
		Destination: email,
		Required:    true,
	}
}

func registerCmd(c **client.AuthClient) *cli.Command {
	var email string
	return &cli.Command{
		Name:  "register",
		Usage: "Create an account (password is read from stdin)",
		Flags: []cli.Flag{emailFlag(&email)},
		Action: func(ctx *cli.Context) error {
			password, err := readSecret()
			if err != nil {
				return err
			}
			if err := (*c).Register(ctx.Context, email, password); err != nil {
				return err
			}
			fmt.Fprintln(ctx.App.Writer, "registered", email)
			return nil
		},
	}
}

func loginCmd(c **client.AuthClient) *cli.Command {
	var email string
	return &cli.Command{
		Name:  "login",
		Usage: "Log in and store the session (password is read from stdin)",
		Flags: []cli.Flag{emailFlag(&email)},
		Action: func(ctx *cli.Context) error {
			password, err := readSecret()
			if err != nil {
				return err
			}
			cred, err := (*c).Login(ctx.Context, email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(ctx.App.Writer, "logged in as %s until %s\n", cred.UserEmail, cred.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
}
