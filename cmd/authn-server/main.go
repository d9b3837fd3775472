// Command authn-server runs the auth endpoints against a user directory.
//
// Usage:
//
//	authn-server serve
//	authn-server hash <password>
//	authn-server seed <username> <password> [email]
//
// Auth definitions are read from AUTH_* variables, server settings from
// AUTHN_SERVER_* variables. A .env file in the working directory is loaded
// when present.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-authn"
	"github.com/goliatone/go-authn/activitymap"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logs   *glog.BaseLogger
	Logger glog.Logger
	Defs   *authn.Definitions
	Server ServerConfig
}

func main() {
	logs := initLogger()
	logger := logs.GetLogger("authn-server")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	name := os.Args[1]
	cmd, ok := commands()[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		printUsage()
		os.Exit(2)
	}

	server, err := LoadServerConfig(envFiles...)
	if err != nil {
		logger.Error("load server config", "error", err)
		os.Exit(1)
	}

	defs, err := authn.LoadDefinitions(authn.LoadOptions{EnvFiles: envFiles})
	if err != nil {
		logger.Error("load auth definitions", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmdCtx := &commandContext{
		Ctx:    ctx,
		Logs:   logs,
		Logger: logger,
		Defs:   defs,
		Server: server,
	}

	if err := cmd.run(cmdCtx, os.Args[2:]); err != nil {
		logger.Error("command failed", "command", name, "error", err)
		os.Exit(1)
	}
}

var envFiles = []string{".env"}

func initLogger() *glog.BaseLogger {
	level := glog.Info
	if os.Getenv("AUTHN_SERVER_DEBUG") == "true" {
		level = glog.Trace
	}

	return glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(level),
		glog.WithName("authn-server"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)
}

func commands() map[string]command {
	list := []command{
		{name: "serve", description: "run the HTTP server", run: runServe},
		{name: "hash", description: "print the hash of a password", run: runHash},
		{name: "seed", description: "create a user in the directory", run: runSeed},
	}

	out := make(map[string]command, len(list))
	for _, c := range list {
		out[c.name] = c
	}
	return out
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: authn-server <command> [args]")
	fmt.Fprintln(os.Stderr)

	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", name, cmds[name].description)
	}
}

func runServe(c *commandContext, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", c.Server.Addr, "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := OpenStore(c.Ctx, c.Server)
	if err != nil {
		return err
	}
	defer store.Close()

	srv, err := NewApp(c.Defs, store.Directory, c.Server, c.Logs)
	if err != nil {
		return err
	}

	c.Logger.Info("auth definitions", "summary", print.MaybePrettyJSON(definitionsSummary(c.Defs)))

	errc := make(chan error, 1)
	go func() {
		c.Logger.Info("authn server started", "addr", *addr, "driver", c.Server.DBDriver)
		errc <- srv.Serve(*addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-c.Ctx.Done():
	}

	c.Logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), c.Server.ShutdownTimeout)
	defer cancel()

	return srv.WrappedRouter().ShutdownWithContext(ctx)
}

func runHash(c *commandContext, args []string) error {
	if len(args) != 1 || args[0] == "" {
		return errors.New("usage: authn-server hash <password>")
	}

	hasher, err := authn.NewHasher(c.Defs)
	if err != nil {
		return err
	}

	hash, err := hasher.Hash(args[0])
	if err != nil {
		return err
	}

	fmt.Println(hash)
	return nil
}

func runSeed(c *commandContext, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: authn-server seed <username> <password> [email]")
	}

	hasher, err := authn.NewHasher(c.Defs)
	if err != nil {
		return err
	}

	hash, err := hasher.Hash(args[1])
	if err != nil {
		return err
	}

	user := &authn.User{
		Username:     args[0],
		PasswordHash: hash,
	}
	if len(args) > 2 {
		user.Email = args[2]
	}

	store, err := OpenStore(c.Ctx, c.Server)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(c.Ctx, 10*time.Second)
	defer cancel()

	created, err := store.Create(ctx, user)
	if err != nil {
		return err
	}

	c.Logger.Info("user created", "id", created.ID, "username", created.Username)
	return nil
}

// NewApp builds the server with the guard middleware and auth routes. Each
// component logs under its own name.
func NewApp(defs *authn.Definitions, directory authn.UserDirectory, server ServerConfig, logs *glog.BaseLogger) (router.Server[*fiber.App], error) {
	routes := authn.NewRouteTable().
		Public(fiber.MethodGet, "/healthz")

	if defs.BasicEnabled() {
		routes.InternalOnly("*", "/internal/**")
	}

	auth, err := authn.NewAuthenticator(defs, directory, nil,
		authn.WithLogger(logs.GetLogger("authn")),
		authn.WithRoutes(routes),
		authn.WithActivitySink(activitymap.LogSink(logs.GetLogger("activity"))),
	)
	if err != nil {
		return nil, err
	}

	httpAuth := authn.NewHTTPAuthenticator(auth)

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		app := router.DefaultFiberOptions(fiber.New(fiber.Config{
			AppName:               "authn-server",
			DisableStartupMessage: true,
			ReadTimeout:           server.ReadTimeout,
			WriteTimeout:          server.WriteTimeout,
		}))
		app.Use(httpAuth.CookieMiddleware())
		return app
	})

	r := srv.Router()
	r.WithLogger(logs.GetLogger("router"))
	r.Use(httpAuth.GuardMiddleware())

	r.Get("/healthz", func(c router.Context) error {
		return c.JSON(router.StatusOK, map[string]string{"status": "ok"})
	}).SetName("healthz")

	if defs.BasicEnabled() {
		r.Get("/internal/status", func(c router.Context) error {
			return c.JSON(router.StatusOK, map[string]any{"status": "ok", "transfer_mode": defs.TransferMode})
		}).SetName("internal.status")
	}

	authn.RegisterAuthRoutes(r, httpAuth, authn.WithControllerDebug(server.Debug))

	return srv, nil
}

// definitionsSummary is safe to log, it carries no secrets
func definitionsSummary(defs *authn.Definitions) map[string]any {
	return map[string]any{
		"transfer_mode":  defs.TransferMode,
		"hasher":         defs.Hasher,
		"access_expiry":  defs.JWT.AccessExpiry.String(),
		"refresh_expiry": defs.JWT.RefreshExpiry.String(),
		"ignored_routes": defs.GetIgnoredRoutes(),
		"redacted":       defs.GetRedactedFields(),
		"impersonation":  defs.Impersonation.Enabled,
		"basic":          defs.BasicEnabled(),
		"cookie_signed":  defs.Cookie.Signed,
	}
}
