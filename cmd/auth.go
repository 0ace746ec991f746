package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sealpost/sealpost-cli/client"
	"github.com/sealpost/sealpost-cli/credentials"
)

// Auth command flags.
var (
	authUsername       string
	authNonInteractive bool
)

// AuthCommandDeps holds the dependencies for auth commands.
type AuthCommandDeps struct {
	// Mock function overrides for testing
	LoginFn  func(ctx context.Context, username, password string) (*client.Session, error)
	NewStore func() (*credentials.Store, error)
}

var authDeps AuthCommandDeps

// AuthCmd represents the auth command group.
var AuthCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage authentication",
	Long: `Manage authentication for the Registra backend.

Login stores the session token and the hardware token serial registered for
your account in ~/.sealpost/credentials.yaml, encrypted at rest. The serial is
what the submit command compares against the token inserted in this machine.

Environment variables (SEALPOST_TOKEN, SEALPOST_TOKEN_SERIAL) take precedence
over stored credentials.`,
}

// loginCmd handles authentication login.
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Login to the Registra backend",
	Long: `Login to the Registra backend and store the session credentials.

Examples:
  # Interactive login (prompts for username and password)
  sealpost auth login

  # Username from flag, password prompted
  sealpost auth login --user operator@example.com`,
	RunE: runLogin,
}

// logoutCmd clears stored credentials.
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Logout and clear stored credentials",
	Long: `Clear the stored session credentials.

Environment variables (SEALPOST_TOKEN) are not affected.

Examples:
  sealpost auth logout`,
	RunE: runLogout,
}

// authStatusCmd shows authentication status.
var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current authentication status",
	Long: `Display the current authentication status.

Shows the credential source (stored or environment), the masked session
token, the registered hardware token serial, and the token expiry.

Examples:
  sealpost auth status`,
	RunE: runAuthStatus,
}

func init() {
	loginCmd.Flags().StringVar(&authUsername, "user", "", "Username for authentication")
	loginCmd.Flags().BoolVar(&authNonInteractive, "non-interactive", false, "Fail instead of prompting for input")

	AuthCmd.AddCommand(loginCmd)
	AuthCmd.AddCommand(logoutCmd)
	AuthCmd.AddCommand(authStatusCmd)
}

func newCredentialStore() (*credentials.Store, error) {
	if authDeps.NewStore != nil {
		return authDeps.NewStore()
	}
	return credentials.NewStore()
}

func runLogin(c *cobra.Command, args []string) error {
	cfg := effectiveConfig()

	username := authUsername
	if username == "" {
		if authNonInteractive {
			return fmt.Errorf("--user is required in non-interactive mode")
		}
		fmt.Fprint(os.Stderr, "Username: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading username: %w", err)
		}
		username = strings.TrimSpace(line)
	}
	if username == "" {
		return fmt.Errorf("username must not be empty")
	}

	password := os.Getenv("SEALPOST_PASSWORD")
	if password == "" {
		if authNonInteractive {
			return fmt.Errorf("set SEALPOST_PASSWORD for non-interactive login")
		}
		fmt.Fprint(os.Stderr, "Password: ")
		pw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		password = string(pw)
	}

	loginFn := authDeps.LoginFn
	if loginFn == nil {
		backend := client.New(cfg.BackendAddress, "", cfg.Timeout, newLogger(cfg))
		loginFn = backend.Login
	}

	session, err := loginFn(c.Context(), username, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	store, err := newCredentialStore()
	if err != nil {
		return fmt.Errorf("initializing credential store: %w", err)
	}
	if err := store.Save(&credentials.Credentials{
		Token:         session.Token,
		TokenSerial:   session.TokenSerial,
		ServerAddress: cfg.BackendAddress,
		Subject:       session.Subject,
		ExpiresAt:     session.ExpiresAt,
	}); err != nil {
		return fmt.Errorf("storing credentials: %w", err)
	}

	fmt.Fprintf(c.OutOrStdout(), "Logged in as %s", session.Subject)
	if session.TokenSerial != "" {
		fmt.Fprintf(c.OutOrStdout(), " (registered token serial %s)", session.TokenSerial)
	}
	fmt.Fprintln(c.OutOrStdout())
	return nil
}

func runLogout(c *cobra.Command, args []string) error {
	store, err := newCredentialStore()
	if err != nil {
		return fmt.Errorf("initializing credential store: %w", err)
	}
	if err := store.Delete(); err != nil {
		return fmt.Errorf("clearing credentials: %w", err)
	}
	fmt.Fprintln(c.OutOrStdout(), "Logged out")
	return nil
}

func runAuthStatus(c *cobra.Command, args []string) error {
	out := c.OutOrStdout()

	if token := os.Getenv("SEALPOST_TOKEN"); token != "" {
		fmt.Fprintln(out, "Source:  environment (SEALPOST_TOKEN)")
		fmt.Fprintf(out, "Token:   %s\n", credentials.MaskToken(token))
		if serial := os.Getenv("SEALPOST_TOKEN_SERIAL"); serial != "" {
			fmt.Fprintf(out, "Serial:  %s\n", serial)
		}
		return nil
	}

	store, err := newCredentialStore()
	if err != nil {
		return fmt.Errorf("initializing credential store: %w", err)
	}
	creds, err := store.Load()
	if err != nil {
		fmt.Fprintln(out, "Not logged in")
		return nil
	}

	fmt.Fprintln(out, "Source:  stored credentials")
	fmt.Fprintf(out, "Subject: %s\n", creds.Subject)
	fmt.Fprintf(out, "Token:   %s\n", credentials.MaskToken(creds.Token))
	if creds.TokenSerial != "" {
		fmt.Fprintf(out, "Serial:  %s\n", creds.TokenSerial)
	}
	fmt.Fprintf(out, "Expires: %s\n", credentials.FormatExpiry(creds.ExpiresAt))
	return nil
}
