package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/metamax/dashboard/internal/session"
)

type credentials struct {
	email    string
	password string
	name     string
}

func addCredentialFlags(cmd *cobra.Command, c *credentials) {
	cmd.Flags().StringVar(&c.email, "email", "", "account email")
	cmd.Flags().StringVar(&c.password, "password", "", "account password (read from stdin when omitted)")
}

// resolvePassword reads the password from the first stdin line when the flag
// was not given.
func (c *credentials) resolvePassword(in io.Reader) error {
	if c.password != "" {
		return nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("read password: %w", err)
	}
	c.password = strings.TrimRight(line, "\r\n")
	return nil
}

func newSignupCommand() *cobra.Command {
	var creds credentials
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		Long: `Create a MetaMax account and sign in with it.

The account is confirmed immediately. Signing up with an email that is
already registered simply signs you in if the password matches.

Examples:
  metamax signup --email user@example.com --name "Jane Doe"
  echo "$PASSWORD" | metamax signup --email user@example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := creds.resolvePassword(cmd.InOrStdin()); err != nil {
				return err
			}
			return withSession(cmd, func(s *clientSession) error {
				if err := s.provider.SignUp(cmd.Context(), creds.email, creds.password, creds.name); err != nil {
					return userFacing(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Account ready. Signed in as %s\n", s.provider.Identity().Email)
				return nil
			})
		},
	}
	addCredentialFlags(cmd, &creds)
	cmd.Flags().StringVar(&creds.name, "name", "", "display name")
	return cmd
}

func newLoginCommand() *cobra.Command {
	var creds credentials
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Long: `Sign in to MetaMax. The session is kept until you run "metamax logout".

Examples:
  metamax login --email user@example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := creds.resolvePassword(cmd.InOrStdin()); err != nil {
				return err
			}
			return withSession(cmd, func(s *clientSession) error {
				if err := s.provider.SignIn(cmd.Context(), creds.email, creds.password); err != nil {
					return userFacing(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", s.provider.Identity().Email)
				return nil
			})
		},
	}
	addCredentialFlags(cmd, &creds)
	return cmd
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(s *clientSession) error {
				if err := s.provider.SignOut(cmd.Context()); err != nil {
					return userFacing(err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
				return nil
			})
		},
	}
}

func newWhoamiCommand() *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Long: `Show the signed-in account.

With --remote the dashboard summary is fetched from the API as well, which
also proves the stored token is still accepted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(s *clientSession) error {
				out := cmd.OutOrStdout()
				snap := s.provider.Snapshot()
				if snap.State != session.StateAuthenticated {
					fmt.Fprintln(out, "Not signed in.")
					fmt.Fprintln(out, "Use 'metamax login' to authenticate.")
					return nil
				}

				fmt.Fprintf(out, "Email:    %s\n", snap.Identity.Email)
				if snap.Identity.DisplayName != "" {
					fmt.Fprintf(out, "Name:     %s\n", snap.Identity.DisplayName)
				}
				fmt.Fprintf(out, "User ID:  %s\n", snap.Identity.ID)

				if !remote {
					return nil
				}
				token, err := s.provider.AccessToken(cmd.Context())
				if err != nil {
					return userFacing(err)
				}
				sum, err := s.api.DashboardSummary(cmd.Context(), token)
				if err != nil {
					return userFacing(err)
				}
				fmt.Fprintf(out, "Campaigns: %d (%d active)\n", sum.Summary.TotalCampaigns, sum.Summary.ActiveCampaigns)
				fmt.Fprintf(out, "Spend:     %.2f\n", sum.Summary.TotalSpend)
				fmt.Fprintf(out, "CTR:       %.2f%%\n", sum.Summary.CTR)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "also fetch the dashboard summary")
	return cmd
}
