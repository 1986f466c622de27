package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newLinkCmd() *cobra.Command {
	var (
		identity string
		code     string
	)

	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link a Google calendar to an identity",
		Long: `Link a Google calendar to an identity from the command line.

Without --code the consent URL is printed and the authorization code is read
from standard input. The code is exchanged once; the refresh token is kept in
the configured token store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if identity == "" {
				return errors.New("--identity is required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, newLogger(cfg, false), nil)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			if err := a.requireDelegated(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if code == "" {
				fmt.Fprintf(out, "Visit this URL in your browser and grant access:\n\n  %s\n\n", a.delegated.AuthURL(identity))
				if stdinIsTerminal() {
					fmt.Fprint(out, "Enter the authorization code: ")
				}
				code, err = readLine(cmd.InOrStdin())
				if err != nil {
					return err
				}
			}

			if err := a.delegated.Link(cmd.Context(), identity, code); err != nil {
				return fmt.Errorf("failed to link calendar: %w", err)
			}
			fmt.Fprintf(out, "Google calendar linked for %s\n", identity)
			return nil
		},
	}

	cmd.Flags().StringVar(&identity, "identity", "", "Identity to link the calendar to")
	cmd.Flags().StringVar(&code, "code", "", "Authorization code from the consent redirect")

	return cmd
}

func newUnlinkCmd() *cobra.Command {
	var identity string

	cmd := &cobra.Command{
		Use:   "unlink",
		Short: "Remove the stored Google credential of an identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if identity == "" {
				return errors.New("--identity is required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, newLogger(cfg, false), nil)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			if err := a.requireDelegated(); err != nil {
				return err
			}

			if err := a.delegated.Unlink(cmd.Context(), identity); err != nil {
				return fmt.Errorf("failed to unlink calendar: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Google calendar unlinked for %s\n", identity)
			return nil
		},
	}

	cmd.Flags().StringVar(&identity, "identity", "", "Identity to unlink")

	return cmd
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		if err != nil {
			return "", fmt.Errorf("failed to read authorization code: %w", err)
		}
		return "", errors.New("authorization code is empty")
	}
	return line, nil
}

// stdinIsTerminal reports whether stdin looks interactive.
func stdinIsTerminal() bool {
	fi, err := os.Stdin.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
