package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/devilmonastery/authgate/internal/identity"
)

// formatDuration formats a duration in a human-friendly way (e.g., "2 days, 3 hours and 45 minutes")
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}

	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	var parts []string
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if len(parts) == 0 && seconds > 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	switch len(parts) {
	case 0:
		return "0 seconds"
	case 1:
		return parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func newAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication commands",
		Long:  `Sign in, sign up, change password and inspect the stored session`,
	}

	cmd.AddCommand(newAuthLoginCommand())
	cmd.AddCommand(newAuthSignupCommand())
	cmd.AddCommand(newAuthLogoutCommand())
	cmd.AddCommand(newAuthStatusCommand())
	cmd.AddCommand(newAuthTokenCommand())
	cmd.AddCommand(newAuthPasswordCommand())

	return cmd
}

func newAuthLoginCommand() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Long: `Exchange email and password for a session token and store it.

Examples:
  # Prompt for email and password
  authgate auth login

  # Sign in against another context
  AUTHGATE_CONTEXT=prod authgate auth login --email user@example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := getCliContext(cmd)
			client, err := cliCtx.identityClient()
			if err != nil {
				return err
			}

			email, password, err = promptCredentials(email, password, false)
			if err != nil {
				return err
			}

			res, err := exchangeAndLogin(cmd.Context(), cliCtx, func(ctx context.Context) (*identity.Result, error) {
				return client.SignIn(ctx, email, password)
			})
			if err != nil {
				return describeExchangeError("login failed", err)
			}

			printLoggedIn(res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email (if not provided, will prompt)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (if not provided, will prompt)")

	return cmd
}

func newAuthSignupCommand() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := getCliContext(cmd)
			client, err := cliCtx.identityClient()
			if err != nil {
				return err
			}

			email, password, err = promptCredentials(email, password, true)
			if err != nil {
				return err
			}

			res, err := exchangeAndLogin(cmd.Context(), cliCtx, func(ctx context.Context) (*identity.Result, error) {
				return client.SignUp(ctx, email, password)
			})
			if err != nil {
				return describeExchangeError("sign up failed", err)
			}

			fmt.Println("✓ Account created")
			printLoggedIn(res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Account email (if not provided, will prompt)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (if not provided, will prompt)")

	return cmd
}

func newAuthPasswordCommand() *cobra.Command {
	var newPassword string

	cmd := &cobra.Command{
		Use:   "password",
		Short: "Change the password of the signed-in account",
		Long:  `Change the password. The provider issues a new token, which replaces the stored one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := getCliContext(cmd)
			client, err := cliCtx.identityClient()
			if err != nil {
				return err
			}

			token, ok := cliCtx.Store.Token()
			if !ok {
				return fmt.Errorf("not logged in\nPlease run 'authgate auth login' first")
			}

			if newPassword == "" {
				newPassword, err = promptNewPassword("New password")
				if err != nil {
					return err
				}
			}

			res, err := exchangeAndLogin(cmd.Context(), cliCtx, func(ctx context.Context) (*identity.Result, error) {
				return client.ChangePassword(ctx, token, newPassword)
			})
			if err != nil {
				return describeExchangeError("password change failed", err)
			}

			fmt.Println("✓ Password changed")
			fmt.Printf("  Token expires: %s\n", res.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
			return nil
		},
	}

	cmd.Flags().StringVar(&newPassword, "new-password", "", "New password (if not provided, will prompt)")

	return cmd
}

// exchangeAndLogin runs one provider exchange and logs its token in, unless the
// session changed (logout, expiry, another login) while the call was in flight
func exchangeAndLogin(ctx context.Context, cliCtx *CliContext, call func(context.Context) (*identity.Result, error)) (*identity.Result, error) {
	epoch := cliCtx.Store.Epoch()

	res, err := call(ctx)
	if err != nil {
		return nil, err
	}

	applied, err := cliCtx.Store.LoginIfEpoch(ctx, epoch, res.Token, res.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, fmt.Errorf("session changed while the request was in flight; result discarded")
	}

	cliCtx.Logger.Info("logged in",
		slog.String("email", res.Email),
		slog.Time("expires_at", res.ExpiresAt))
	return res, nil
}

// describeExchangeError turns exchange failures into the message shown to the user.
// Rejections carry the provider's message verbatim.
func describeExchangeError(prefix string, err error) error {
	var (
		rejected *identity.RejectedError
		network  *identity.NetworkError
	)
	switch {
	case errors.As(err, &rejected):
		return fmt.Errorf("%s: %s", prefix, rejected.Message)
	case errors.As(err, &network):
		return fmt.Errorf("%s: could not reach the identity provider: %w", prefix, network.Err)
	default:
		return fmt.Errorf("%s: %w", prefix, err)
	}
}

func printLoggedIn(res *identity.Result) {
	who := res.Email
	if who == "" {
		who = res.UserID
	}
	fmt.Printf("✓ Successfully logged in as %s\n", who)
	fmt.Printf("  Token expires: %s (in %s)\n",
		res.ExpiresAt.Local().Format("2006-01-02 15:04:05"),
		formatDuration(res.ExpiresIn))
}

func newAuthLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := getCliContext(cmd)
			wasLoggedIn := cliCtx.Store.IsLoggedIn()

			cliCtx.Store.Logout(cmd.Context())

			if wasLoggedIn {
				fmt.Println("✓ Successfully logged out")
			} else {
				fmt.Println("Not logged in")
			}
			return nil
		},
	}
}

func newAuthStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := getCliContext(cmd)

			if !cliCtx.Store.IsLoggedIn() {
				fmt.Println("Not logged in")
				return nil
			}

			sess := cliCtx.Store.Snapshot()
			fmt.Printf("Context: %s\n", cliCtx.ContextName)
			if info, err := identity.DescribeToken(sess.Token); err == nil {
				if info.Email != "" {
					fmt.Printf("Logged in as: %s\n", info.Email)
				}
				if info.UserID != "" {
					fmt.Printf("User ID: %s\n", info.UserID)
				}
			} else {
				fmt.Println("Logged in")
			}

			fmt.Printf("Session expires: %s\n", sess.ExpiresAt.Local().Format("2006-01-02 15:04:05 MST"))
			fmt.Printf("✓  Valid for %s\n", formatDuration(sess.Remaining(time.Now())))
			return nil
		},
	}
}

func newAuthTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Display the current session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, ok := getCliContext(cmd).Store.Token()
			if !ok {
				return fmt.Errorf("not logged in")
			}

			fmt.Println(token)
			return nil
		},
	}
}

// promptCredentials asks for whatever was not given on the command line.
// With confirm set the password is asked twice.
func promptCredentials(email, password string, confirm bool) (string, string, error) {
	var err error
	if email == "" {
		fmt.Print("Email: ")
		email, err = readLine()
		if err != nil {
			return "", "", fmt.Errorf("failed to read email: %w", err)
		}
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return "", "", fmt.Errorf("email is required")
	}

	if password == "" {
		if confirm {
			password, err = promptNewPassword("Password")
		} else {
			password, err = readPassword("Password")
		}
		if err != nil {
			return "", "", err
		}
	}

	return email, password, nil
}

func promptNewPassword(label string) (string, error) {
	password, err := readPassword(label)
	if err != nil {
		return "", err
	}
	again, err := readPassword("Confirm " + strings.ToLower(label))
	if err != nil {
		return "", err
	}
	if password != again {
		return "", fmt.Errorf("passwords do not match")
	}
	return password, nil
}

var stdin = bufio.NewReader(os.Stdin)

func readLine() (string, error) {
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readPassword reads without echo on a terminal and falls back to a plain line
// when stdin is piped
func readPassword(label string) (string, error) {
	fmt.Printf("%s: ", label)

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		password, err := readLine()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return password, nil
	}

	passwordBytes, err := term.ReadPassword(fd)
	fmt.Println() // newline after password input
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if len(passwordBytes) == 0 {
		return "", fmt.Errorf("password is required")
	}
	return string(passwordBytes), nil
}
