package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/husio/sqlsafe/accounts"
	"github.com/husio/sqlsafe/pkg/surf"
	"github.com/husio/sqlsafe/pkg/surf/sqldb"
)

var version = "dev"

var (
	verbosity int
	logFile   string
	traceCall bool
)

func main() {
	env := surf.NewEnvConf()
	cfg := sqldb.ConfigFromEnv(env)
	logFile = env.Str("LOG_FILE", "", "Rotated log file. When empty, logs are written to stderr only.")

	rootCmd := &cobra.Command{
		Use:           "sqlsafe",
		Short:         "Inspect and manage an accounts database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := env.Err(); err != nil {
				return fmt.Errorf("invalid environment: %w", err)
			}
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v info messages)")
	pf.StringVar(&logFile, "log-file", logFile, "Rotated log file")
	pf.BoolVar(&traceCall, "trace", false, "Print timing of every database call")
	pf.StringVar(&cfg.Driver, "driver", cfg.Driver, "Database backend: sqlite, postgres or mysql")
	pf.StringVar(&cfg.Host, "host", cfg.Host, "Database server host")
	pf.IntVar(&cfg.Port, "port", cfg.Port, "Database server port")
	pf.StringVarP(&cfg.Database, "database", "d", cfg.Database, "Database name, or file path for sqlite")
	pf.StringVar(&cfg.User, "user", cfg.User, "Database user")
	pf.StringVar(&cfg.Encoding, "encoding", cfg.Encoding, "Client character set")
	pf.StringVar(&cfg.SSLMode, "sslmode", cfg.SSLMode, "TLS mode")
	pf.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Connect timeout")
	pf.DurationVar(&cfg.QueryTimeout, "query-timeout", cfg.QueryTimeout, "Statement timeout")

	rootCmd.AddCommand(
		pingCmd(&cfg),
		migrateCmd(&cfg),
		usersCmd(&cfg),
		counterCmd(&cfg),
		&cobra.Command{
			Use:   "env",
			Short: "List environment variables",
			Run: func(cmd *cobra.Command, args []string) {
				env.PrintHelp(cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "sqlsafe %s\n", version)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func pingCmd(cfg *sqldb.ConnectionConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Connect to the database and print the server version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConn(cmd, cfg, func(ctx context.Context, conn *sqldb.Conn) error {
				if err := conn.Ping(ctx); err != nil {
					return fmt.Errorf("cannot ping: %w", err)
				}
				v, err := conn.ServerVersion(ctx)
				if err != nil {
					return fmt.Errorf("cannot read server version: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", conn.Dialect().Name(), v)
				return nil
			})
		},
	}
}

func migrateCmd(cfg *sqldb.ConnectionConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConn(cmd, cfg, accounts.EnsureSchema)
		},
	}
}

func usersCmd(cfg *sqldb.ConnectionConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user accounts",
	}

	var password string
	add := &cobra.Command{
		Use:   "add NAME EMAIL",
		Short: "Register a new user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConn(cmd, cfg, func(ctx context.Context, conn *sqldb.Conn) error {
				u, err := accounts.NewStore(conn).Register(ctx, accounts.NewUser{
					Name:     args[0],
					Email:    args[1],
					Password: password,
				})
				if err != nil {
					return fmt.Errorf("cannot register user: %w", err)
				}
				printUsers(cmd.OutOrStdout(), u)
				return nil
			})
		},
	}
	add.Flags().StringVar(&password, "password", "", "Password of the new user")
	_ = add.MarkFlagRequired("password")

	get := &cobra.Command{
		Use:   "get EMAIL",
		Short: "Show a single user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConn(cmd, cfg, func(ctx context.Context, conn *sqldb.Conn) error {
				u, err := accounts.NewStore(conn).UserByEmail(ctx, args[0])
				if err != nil {
					return fmt.Errorf("cannot get user: %w", err)
				}
				printUsers(cmd.OutOrStdout(), u)
				return nil
			})
		},
	}

	imp := &cobra.Command{
		Use:   "import FILE",
		Short: "Create all users listed in a JSON file, or none of them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := readUsers(args[0])
			if err != nil {
				return err
			}
			return withConn(cmd, cfg, func(ctx context.Context, conn *sqldb.Conn) error {
				created, err := accounts.NewStore(conn).Import(ctx, users)
				if err != nil {
					return err
				}
				printUsers(cmd.OutOrStdout(), created...)
				return nil
			})
		},
	}

	var page, pageSize int
	list := &cobra.Command{
		Use:   "list",
		Short: "List users, page by page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConn(cmd, cfg, func(ctx context.Context, conn *sqldb.Conn) error {
				users, pag, err := accounts.NewStore(conn).ListUsers(ctx, page, pageSize)
				if err != nil {
					return fmt.Errorf("cannot list users: %w", err)
				}
				printUsers(cmd.OutOrStdout(), users...)
				fmt.Fprintf(cmd.OutOrStdout(), "page %d of %d, %d users\n", pag.Page, pag.PageCount(), pag.Total)
				return nil
			})
		},
	}
	list.Flags().IntVar(&page, "page", 1, "Page number")
	list.Flags().IntVar(&pageSize, "page-size", 20, "Users per page")

	cmd.AddCommand(add, get, list, imp)
	return cmd
}

func readUsers(path string) ([]accounts.NewUser, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open: %w", err)
	}
	defer fd.Close()

	var users []accounts.NewUser
	dec := json.NewDecoder(fd)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&users); err != nil {
		return nil, fmt.Errorf("cannot decode %s: %w", path, err)
	}
	return users, nil
}

func printUsers(w io.Writer, users ...*accounts.User) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tCREATED")
	for _, u := range users {
		created := "-"
		if !u.Created.IsZero() {
			created = u.Created.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", u.UserID, u.Name, u.Email, created)
	}
	tw.Flush()
}

func counterCmd(cfg *sqldb.ConnectionConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "counter",
		Short: "Manage named counters",
	}

	var delta int64
	incr := &cobra.Command{
		Use:   "incr NAME",
		Short: "Increment a counter and print its new value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConn(cmd, cfg, func(ctx context.Context, conn *sqldb.Conn) error {
				value, err := accounts.NewStore(conn).Increment(ctx, args[0], delta)
				if err != nil {
					return fmt.Errorf("cannot increment %q: %w", args[0], err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			})
		},
	}
	incr.Flags().Int64Var(&delta, "by", 1, "Value to add, may be negative")

	get := &cobra.Command{
		Use:   "get NAME",
		Short: "Print the value of a counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConn(cmd, cfg, func(ctx context.Context, conn *sqldb.Conn) error {
				value, err := accounts.NewStore(conn).Counter(ctx, args[0])
				if err != nil {
					return fmt.Errorf("cannot read %q: %w", args[0], err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			})
		},
	}

	cmd.AddCommand(incr, get)
	return cmd
}

// withConn prepares logging and tracing, opens a connection and passes it
// to fn. The connection is closed once fn returns.
func withConn(cmd *cobra.Command, cfg *sqldb.ConnectionConfig, fn func(context.Context, *sqldb.Conn) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, closeLogs := setupLogging(ctx, cmd.ErrOrStderr())
	defer closeLogs()

	var tr *surf.Trace
	if traceCall {
		ctx, tr = surf.WithTrace(ctx, cmd.CommandPath())
	}

	err := sqldb.WithConn(ctx, *cfg, func(conn *sqldb.Conn) error {
		return fn(ctx, conn)
	})
	if err != nil {
		surf.LogError(ctx, err, "command failed",
			"command", cmd.CommandPath(),
			"kind", sqldb.KindOf(err).String())
	}

	if tr != nil {
		tr.Finish()
		printTrace(cmd.ErrOrStderr(), tr)
	}
	return err
}

// setupLogging attaches loggers to the context. Console output is always
// present, a rotated JSON log file is added when configured.
func setupLogging(ctx context.Context, console io.Writer) (context.Context, func()) {
	if verbosity > 0 {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}

	ctx = surf.WithLogger(ctx, surf.NewConsoleLogger(console))
	if logFile == "" {
		return ctx, func() {}
	}

	fileWriter := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
	ctx = surf.WithLogger(ctx, surf.NewLogger(fileWriter, "app", "sqlsafe"))
	return ctx, func() { _ = fileWriter.Close() }
}

func printTrace(w io.Writer, tr *surf.Trace) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, s := range tr.Spans() {
		fmt.Fprintf(tw, "%s\t%s\t%v\n", s.Description, s.Duration.Round(time.Microsecond), s.Args)
	}
	tw.Flush()
}
