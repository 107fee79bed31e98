package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/crawlctl/internal/formatter"
	"github.com/desertthunder/crawlctl/internal/models"
	"github.com/desertthunder/crawlctl/internal/services"
	"github.com/desertthunder/crawlctl/internal/shared"
)

func credentialsFrom(cmd *cli.Command) (string, string, error) {
	username, password := cmd.String("username"), cmd.String("password")
	if password == "" {
		return "", "", fmt.Errorf("%w: --password (or CRAWLCTL_PASSWORD) is required", shared.ErrMissingArgument)
	}
	return username, password, nil
}

// AuthLogin exchanges a username and password for an access token and stores it.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	username, password, err := credentialsFrom(cmd)
	if err != nil {
		return err
	}
	client, err := r.api()
	if err != nil {
		return err
	}

	r.logger.Info("logging in", "username", username)

	resp, err := client.Login(ctx, models.LoginRequest{Username: username, Password: password})
	if err != nil {
		return apiError(err, "Login failed")
	}

	r.logger.Info("authentication successful", "expires_in", resp.ExpiresIn)
	return r.writePlain("✓ Logged in as %s\n", username)
}

// AuthRegister creates an account. The caller still has to log in.
func (r *Runner) AuthRegister(ctx context.Context, cmd *cli.Command) error {
	username, password, err := credentialsFrom(cmd)
	if err != nil {
		return err
	}
	req := models.RegisterRequest{Username: username, Email: cmd.String("email"), Password: password}
	if err := shared.ValidateStruct(req); err != nil {
		return err
	}
	client, err := r.api()
	if err != nil {
		return err
	}

	user, err := client.Register(ctx, req)
	if err != nil {
		return apiError(err, "Registration failed")
	}

	r.writePlain("✓ Registered %s (%s)\n", user.Username, user.ID)
	return r.writePlain("Run `crawlctl auth login -u %s` to start a session\n", user.Username)
}

// AuthLogout ends the session. The stored token is cleared even when the platform call fails.
func (r *Runner) AuthLogout(ctx context.Context, cmd *cli.Command) error {
	client, err := r.api()
	if err != nil {
		return err
	}

	if err := client.Logout(ctx); err != nil {
		r.logger.Warn("logout request failed", "error", err)
	}
	return r.writePlain("✓ Logged out\n")
}

// AuthStatus reports the locally held token and whether the platform is reachable.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	client, err := r.api()
	if err != nil {
		return err
	}

	r.writePlain("Platform: %s\n", client.Origin())
	if health, err := client.Health(ctx); err != nil {
		r.writePlain("Health: ✗ %s\n", services.Detail(err, err.Error()))
	} else {
		r.writePlain("Health: %s\n", health.Status)
	}

	info, err := client.TokenInfo()
	switch {
	case errors.Is(err, shared.ErrNotAuthenticated):
		return r.writePlain("Authentication: ✗ Not logged in\n")
	case err != nil:
		return r.writePlain("Authentication: ✗ %v\n", err)
	case info.Expired(time.Now()):
		return r.writePlain("Authentication: ✗ Token expired at %s\n", info.ExpiresAt.Format(time.RFC3339))
	}

	r.writePlain("Authentication: ✓ %s\n", info.Subject)
	if !info.ExpiresAt.IsZero() {
		r.writePlain("Expires: %s (in %s)\n", info.ExpiresAt.Format(time.RFC3339), time.Until(info.ExpiresAt).Round(time.Second))
	}
	return nil
}

// AuthWhoami shows the account behind the current token.
func (r *Runner) AuthWhoami(ctx context.Context, cmd *cli.Command) error {
	f, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	client, err := r.api()
	if err != nil {
		return err
	}

	user, err := client.Me(ctx)
	if err != nil {
		return apiError(err, "Not logged in")
	}

	if f == formatter.FormatJSON || f == formatter.FormatYAML {
		return formatter.WriteValue(r.output, user, f)
	}
	role := "user"
	if user.IsAdmin {
		role = "admin"
	}
	return r.writePlain("%s (%s) %s\n", user.Username, user.ID, role)
}
