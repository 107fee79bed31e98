// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func formatFlag(value string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format (table, json, yaml, csv, markdown, text)",
		Value:   value,
	}
}

// setupCommand handles setup operations for the local database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Create the config file if missing, initialize the database and run migrations",
				Action: r.SetupDatabase,
			},
		},
	}
}

// authCommand handles authentication operations
func authCommand(r *Runner) *cli.Command {
	credentials := func() []cli.Flag {
		return []cli.Flag{
			&cli.StringFlag{
				Name:     "username",
				Aliases:  []string{"u"},
				Usage:    "Account username",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "password",
				Aliases: []string{"p"},
				Usage:   "Account password",
				Sources: cli.EnvVars("CRAWLCTL_PASSWORD"),
			},
		}
	}

	return &cli.Command{
		Name:  "auth",
		Usage: "Manage the platform session",
		Commands: []*cli.Command{
			{
				Name:   "login",
				Usage:  "Log in and store the access token",
				Flags:  credentials(),
				Action: r.AuthLogin,
			},
			{
				Name:  "register",
				Usage: "Create an account",
				Flags: append(credentials(), &cli.StringFlag{
					Name:  "email",
					Usage: "Account email",
				}),
				Action: r.AuthRegister,
			},
			{
				Name:   "logout",
				Usage:  "End the session and clear the stored token",
				Action: r.AuthLogout,
			},
			{
				Name:   "status",
				Usage:  "Show the stored token and platform health",
				Action: r.AuthStatus,
			},
			{
				Name:   "whoami",
				Usage:  "Show the logged in account",
				Flags:  []cli.Flag{formatFlag("text")},
				Action: r.AuthWhoami,
			},
		},
	}
}

// crawlersCommand lists and runs crawlers
func crawlersCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "crawlers",
		Aliases: []string{"crawler"},
		Usage:   "List and run crawlers",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List available crawlers",
				Flags:  []cli.Flag{formatFlag("table")},
				Action: r.CrawlersList,
			},
			{
				Name:  "info",
				Usage: "Show a crawler's parameters",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "type"},
				},
				Flags:  []cli.Flag{formatFlag("text")},
				Action: r.CrawlerInfo,
			},
			{
				Name:  "run",
				Usage: "Start a crawl",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "type"},
				},
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "param",
						Aliases: []string{"p"},
						Usage:   "Crawler parameter as key=value (repeatable)",
					},
					&cli.BoolFlag{
						Name:    "watch",
						Aliases: []string{"w"},
						Usage:   "Follow the task until it finishes",
					},
				},
				Action: r.CrawlerRun,
			},
		},
	}
}

// tasksCommand handles task queries, actions, live watching and result export
func tasksCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tasks",
		Aliases: []string{"task"},
		Usage:   "Inspect and manage crawl tasks",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List tasks",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "page", Usage: "Page number", Value: 1},
					&cli.IntFlag{Name: "page-size", Usage: "Tasks per page", Value: 20},
					&cli.StringFlag{Name: "status", Usage: "Filter by status"},
					&cli.StringFlag{Name: "crawler-type", Usage: "Filter by crawler type"},
					&cli.BoolFlag{Name: "cached", Usage: "Read the local snapshot cache instead of the platform"},
					formatFlag("table"),
				},
				Action: r.TasksList,
			},
			{
				Name:  "get",
				Usage: "Show one task",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags: []cli.Flag{
					formatFlag("text"),
					&cli.BoolFlag{
						Name:  "cached",
						Usage: "Read the task from the local snapshot cache",
					},
				},
				Action: r.TaskGet,
			},
			{
				Name:  "cancel",
				Usage: "Cancel a pending or running task",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.TaskCancel,
			},
			{
				Name:  "delete",
				Usage: "Delete a task",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.TaskDelete,
			},
			{
				Name:      "watch",
				Usage:     "Follow tasks over live channels until they finish",
				ArgsUsage: "[id ...]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "poll",
						Usage: "Also refresh over REST on a jittered interval",
					},
				},
				Action: r.TasksWatch,
			},
			{
				Name:      "export",
				Usage:     "Save the results of completed tasks",
				ArgsUsage: "[id ...]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dir", Aliases: []string{"o"}, Usage: "Output directory (default: export.dir)"},
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "json or yaml (default: export.format)"},
					&cli.FloatFlag{Name: "rate", Usage: "Result fetches per second (default: export.rate)"},
					&cli.IntFlag{Name: "workers", Usage: "Concurrent writers", Value: 5},
				},
				Action: r.TasksExport,
			},
		},
	}
}

// monitorCommand handles platform monitoring
func monitorCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "monitor",
		Usage: "Platform statistics and health",
		Commands: []*cli.Command{
			{
				Name:   "stats",
				Usage:  "Show task statistics",
				Flags:  []cli.Flag{formatFlag("text")},
				Action: r.MonitorStats,
			},
			{
				Name:   "health",
				Usage:  "Show detailed health checks",
				Flags:  []cli.Flag{formatFlag("text")},
				Action: r.MonitorHealth,
			},
		},
	}
}

// adminCommand handles administrator endpoints
func adminCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "admin",
		Usage: "Administrator operations",
		Commands: []*cli.Command{
			{
				Name:  "users",
				Usage: "List accounts",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "skip", Usage: "Accounts to skip"},
					&cli.IntFlag{Name: "limit", Usage: "Maximum accounts to return", Value: 100},
					formatFlag("table"),
				},
				Action: r.AdminUsers,
			},
			{
				Name:  "delete-user",
				Usage: "Delete an account",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.AdminDeleteUser,
			},
			{
				Name:  "tasks",
				Usage: "List every account's tasks",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "page", Usage: "Page number", Value: 1},
					&cli.IntFlag{Name: "page-size", Usage: "Tasks per page", Value: 20},
					formatFlag("table"),
				},
				Action: r.AdminTasks,
			},
			{
				Name:  "delete-task",
				Usage: "Delete any account's task",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.AdminDeleteTask,
			},
		},
	}
}

// apiCommand handles direct API calls
func apiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Direct calls to the platform API",
		Commands: []*cli.Command{
			{
				Name:  "get",
				Usage: "Direct GET, prints the raw JSON",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "path",
					},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "pretty",
						Usage: "Pretty-print output",
						Value: true,
					},
				},
				Action: r.APIGet,
			},
			{
				Name:  "post",
				Usage: "Direct POST with JSON body",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "path",
					},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "data",
						Aliases:  []string{"d"},
						Usage:    "JSON body to send",
						Required: true,
					},
				},
				Action: r.APIPost,
			},
			{
				Name:  "dump",
				Usage: "Platform state dump (health, stats, crawlers, tasks)",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "save",
						Usage: "Save dump to api_dump.json",
					},
				},
				Action: r.APIDump,
			},
		},
	}
}

// dashboardCommand returns the top-level TUI command for the live task dashboard.
func dashboardCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "dashboard",
		Aliases: []string{"tui", "ui"},
		Usage:   "Launch the interactive live task dashboard",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "poll",
				Usage: "Also refresh over REST on a jittered interval",
				Value: true,
			},
		},
		Action: r.Dashboard,
	}
}

// devServerCommand runs the in-memory development platform
func devServerCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "dev-server",
		Usage: "Run an in-memory crawler platform for local development",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Listen address (default: dev_server host and port)"},
			&cli.DurationFlag{Name: "tick", Usage: "Simulated crawl step interval (default: dev_server.tick)"},
			&cli.StringFlag{Name: "admin-user", Usage: "Seed an administrator with this username"},
			&cli.StringFlag{
				Name:    "admin-password",
				Usage:   "Password for the seeded administrator",
				Sources: cli.EnvVars("CRAWLCTL_ADMIN_PASSWORD"),
			},
		},
		Action: r.DevServer,
	}
}
