package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	authclient "github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-auth-client/activitymap"
	"github.com/goliatone/go-auth-client/repository"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type app struct {
	service *authclient.Service
	logger  glog.Logger
	db      *bun.DB
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	configPath := os.Getenv("AUTHCTL_CONFIG")
	if configPath == "" {
		configPath = "authctl.yaml"
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "login":
		err = a.cmdLogin(ctx, args)
	case "register":
		err = a.cmdRegister(ctx, args)
	case "logout":
		err = a.report(a.service.Logout(ctx))
	case "status":
		err = a.cmdStatus(ctx)
	case "refresh":
		err = a.report(a.service.RefreshToken(ctx, nil))
	case "profile":
		err = a.cmdProfile(ctx)
	case "request-password":
		err = a.cmdRequestPassword(ctx, args)
	case "reset-password":
		err = a.cmdResetPassword(ctx, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		a.logger.Error("command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func newApp(ctx context.Context, cfg *fileConfig) (*app, error) {
	opts := []glog.Option{
		glog.WithName("authctl"),
		glog.WithLevel(cfg.Logging.Level),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
		glog.WithWriter(os.Stderr),
	}
	if cfg.Logging.Pretty {
		opts = append(opts, glog.WithLoggerTypePretty())
	} else {
		opts = append(opts, glog.WithLoggerTypeJSON())
	}
	logger := glog.NewLogger(opts...)

	a := &app{logger: logger}

	var storage authclient.Storage = authclient.NewMemoryStorage()
	if cfg.Storage.Path != "" {
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("opening token database: %w", err)
		}
		a.db = bun.NewDB(sqldb, sqlitedialect.New())

		entries := repository.NewTokenEntries(a.db)
		if err := entries.CreateTable(ctx); err != nil {
			a.close()
			return nil, fmt.Errorf("creating token table: %w", err)
		}
		storage = entries
	}

	store := authclient.NewTokenStore(storage,
		authclient.WithStoreKey(cfg.Client.Token.StorageKey),
		authclient.WithStoreDecoder(cfg.Client.Token.Decoder),
		authclient.WithStoreLoggerProvider(logger),
	)
	requester := authclient.NewHTTPRequester(cfg.Client,
		authclient.WithRequesterLoggerProvider(logger),
	)

	a.service = authclient.NewService(cfg.Client, store, requester,
		authclient.WithLoggerProvider(logger),
		authclient.WithActivitySink(authclient.ActivitySinkFunc(func(_ context.Context, event authclient.ActivityEvent) error {
			record := activitymap.Normalize(event, activitymap.WithDefaultChannel("authctl"))
			logger.Debug("activity", "record", print.MaybeSecureJSON(record))
			return nil
		})),
	)
	return a, nil
}

func (a *app) close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

func (a *app) cmdLogin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", os.Getenv("AUTHCTL_PASSWORD"), "account password (defaults to $AUTHCTL_PASSWORD)")
	_ = fs.Parse(args)

	return a.report(a.service.Authenticate(ctx, map[string]any{
		"email":    *email,
		"password": *password,
	}))
}

func (a *app) cmdRegister(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	name := fs.String("name", "", "full name")
	password := fs.String("password", os.Getenv("AUTHCTL_PASSWORD"), "account password (defaults to $AUTHCTL_PASSWORD)")
	_ = fs.Parse(args)

	return a.report(a.service.Register(ctx, map[string]any{
		"email":           *email,
		"fullName":        *name,
		"password":        *password,
		"confirmPassword": *password,
	}))
}

func (a *app) cmdStatus(ctx context.Context) error {
	authenticated := a.service.IsAuthenticatedOrRefresh(ctx)
	token := a.service.Token(ctx)

	if authenticated {
		color.Green("authenticated")
	} else {
		color.Yellow("not authenticated")
	}

	if token.IsEmpty() {
		return nil
	}

	fmt.Printf("token:   %s\n", token)
	if exp := token.Expiry(); exp != nil {
		fmt.Printf("expires: %s\n", exp.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Println(print.MaybeSecureJSON(token.Payload()))
	return nil
}

func (a *app) cmdProfile(ctx context.Context) error {
	result := a.service.Profile(ctx)
	if result.Failed() {
		return a.report(result)
	}
	fmt.Println(print.MaybeHighlightJSON(result.Response.Body))
	return nil
}

func (a *app) cmdRequestPassword(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("request-password", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	_ = fs.Parse(args)

	return a.report(a.service.RequestPasswordReset(ctx, map[string]any{"email": *email}))
}

func (a *app) cmdResetPassword(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset-password", flag.ExitOnError)
	link := fs.String("link", "", "reset link received by email")
	password := fs.String("password", os.Getenv("AUTHCTL_PASSWORD"), "new password (defaults to $AUTHCTL_PASSWORD)")
	_ = fs.Parse(args)

	var query url.Values
	if *link != "" {
		u, err := url.Parse(*link)
		if err != nil {
			return fmt.Errorf("parsing reset link: %w", err)
		}
		query = u.Query()
	}

	return a.report(a.service.ResetPassword(ctx, map[string]any{
		"password":        *password,
		"confirmPassword": *password,
	}, query))
}

func (a *app) report(result authclient.AuthResult) error {
	if result.Success {
		for _, msg := range result.Messages {
			color.Green("%s", msg)
		}
		if result.Redirect != "" {
			a.logger.Debug("redirect", "to", result.Redirect)
		}
		return nil
	}

	for _, msg := range result.Errors {
		color.Red("%s", msg)
	}
	if result.Err != nil {
		return result.Err
	}
	return fmt.Errorf("request failed with status %d", result.StatusCode())
}

func printUsage() {
	fmt.Println(`Usage: authctl <command> [flags]

Commands:
  login             authenticate with -email and -password
  register          create an account with -email, -name and -password
  logout            end the session and clear the stored token
  status            show the session state, refreshing an expired token
  refresh           exchange the stored token for a new one
  profile           print the authenticated profile
  request-password  send reset instructions to -email
  reset-password    set -password using the -link received by email

Environment:
  AUTHCTL_CONFIG    config file path (default authctl.yaml)
  AUTHCTL_PASSWORD  default value for -password`)
}
