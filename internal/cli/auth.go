package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"taskflow/internal/credential"
	"taskflow/internal/models"
)

func loginCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := opts.app
			out := cmd.OutOrStdout()

			if d := a.gate.Guest(); d.Redirect != "" {
				fmt.Fprintln(out, "Already signed in. Run `taskflow logout` to switch accounts.")
				return nil
			}

			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				var err error
				password, err = readPassword(cmd)
				if err != nil {
					return err
				}
			}

			in := models.SignIn{Username: username, Password: password}
			if err := in.Validate(); err != nil {
				return err
			}

			token, err := a.client.Login(cmd.Context(), in)
			if err != nil {
				return fmt.Errorf("failed to sign in: %w", err)
			}
			if err := a.gate.SignIn(credential.Credential(token.AccessToken)); err != nil {
				return err
			}

			fmt.Fprintf(out, "Signed in as %s\n", username)
			return nil
		},
	}

	cmd.Flags().StringP("username", "u", "", "Account username")
	cmd.Flags().StringP("password", "p", "", "Account password (prompted when omitted)")
	cmd.MarkFlagRequired("username")

	return cmd
}

func logoutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.app.gate.SignOut(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func registerCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account on the task service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := models.Registration{}
			in.Username, _ = cmd.Flags().GetString("username")
			in.Email, _ = cmd.Flags().GetString("email")
			in.Password, _ = cmd.Flags().GetString("password")
			if in.Password == "" {
				var err error
				in.Password, err = readPassword(cmd)
				if err != nil {
					return err
				}
			}

			if err := in.Validate(); err != nil {
				return err
			}

			account, err := opts.app.client.Register(cmd.Context(), in)
			if err != nil {
				return fmt.Errorf("failed to register: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s <%s>. Sign in with `taskflow login -u %s`.\n",
				account.Username, account.Email, account.Username)
			return nil
		},
	}

	cmd.Flags().StringP("username", "u", "", "Account username")
	cmd.Flags().StringP("email", "e", "", "Account email")
	cmd.Flags().StringP("password", "p", "", "Account password (prompted when omitted)")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("email")

	return cmd
}

func whoamiCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ok := opts.app.holder.Get()
			if !ok {
				return errNotSignedIn
			}

			subject, err := c.Subject()
			if err != nil {
				// Opaque tokens carry no claims; the session is still usable.
				fmt.Fprintln(cmd.OutOrStdout(), "Signed in")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", subject)
			return nil
		},
	}
}

// readPassword prompts on a terminal without echo, or reads one line from
// piped input.
func readPassword(cmd *cobra.Command) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
