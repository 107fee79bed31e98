package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/crawlctl/internal/models"
	"github.com/desertthunder/crawlctl/internal/server"
	"github.com/desertthunder/crawlctl/internal/shared"
)

// DevServer runs the in-memory platform until interrupted.
func (r *Runner) DevServer(ctx context.Context, cmd *cli.Command) error {
	cfg := r.config.DevServer
	addr := cmd.String("addr")
	if addr == "" {
		addr = cfg.Addr()
	}
	tick := cmd.Duration("tick")
	if tick <= 0 {
		tick = cfg.Tick
	}

	opts := server.Options{
		Addr:   addr,
		Tick:   tick,
		Secret: cfg.Secret,
		Logger: r.logger,
	}
	if user := cmd.String("admin-user"); user != "" {
		password := cmd.String("admin-password")
		if password == "" {
			return fmt.Errorf("%w: --admin-password (or CRAWLCTL_ADMIN_PASSWORD) is required with --admin-user", shared.ErrMissingArgument)
		}
		opts.Admin = &models.RegisterRequest{Username: user, Password: password}
	}

	srv, err := server.New(opts)
	if err != nil {
		return err
	}

	r.writePlain("Dev platform listening on http://%s\n", addr)
	r.writePlain("Point the client at it with --api-url http://%s\n", addr)
	return srv.ListenAndServe(ctx)
}
