package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/atvirokodosprendimai/pcbuilder/internal/adapters/catalogapi"
	sqliteadapter "github.com/atvirokodosprendimai/pcbuilder/internal/adapters/db/sqlite"
	httpadapter "github.com/atvirokodosprendimai/pcbuilder/internal/adapters/http"
	rpcadapter "github.com/atvirokodosprendimai/pcbuilder/internal/adapters/rpcjson"
	"github.com/atvirokodosprendimai/pcbuilder/internal/application"
	"github.com/atvirokodosprendimai/pcbuilder/internal/domain"
	"github.com/atvirokodosprendimai/pcbuilder/internal/logging"
	"github.com/atvirokodosprendimai/pcbuilder/internal/metrics"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func main() {
	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}

	root := &cli.Command{
		Name:  "pcbuilder",
		Usage: "PC build compatibility verifier and build wizard",
		Commands: []*cli.Command{
			serverCommand(),
			configCommand(),
			sessionCommand(),
			brandCommand(),
			selectCommand(),
			fanCommand(),
			candidatesCommand(),
			refreshCommand(),
			draftCommand(),
			submitCommand(),
			historyCommand(),
			buildCommand(),
		},
	}

	if err := root.Run(context.Background(), args); err != nil {
		log.Fatal(err)
	}
}

type serverConfig struct {
	Addr           string
	RPCSocket      string
	DBPath         string
	CatalogURL     string
	CatalogToken   string
	RequestTimeout time.Duration
	Logging        logging.Config
}

func serverCommand() *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "Run HTTP and JSON-RPC server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":8080", Usage: "HTTP listen address", Sources: cli.EnvVars("PCBUILDER_ADDR")},
			&cli.StringFlag{Name: "rpc-socket", Value: defaultSocket, Usage: "JSON-RPC unix socket path", Sources: cli.EnvVars("PCBUILDER_RPC_SOCKET")},
			&cli.StringFlag{Name: "db-path", Value: "pcbuilder.db", Usage: "SQLite database path", Sources: cli.EnvVars("PCBUILDER_DB_PATH")},
			&cli.StringFlag{Name: "catalog-url", Required: true, Usage: "parts catalog base URL", Sources: cli.EnvVars("PCBUILDER_CATALOG_URL")},
			&cli.StringFlag{Name: "catalog-token", Usage: "bearer token for the parts catalog", Sources: cli.EnvVars("PCBUILDER_CATALOG_TOKEN")},
			&cli.DurationFlag{Name: "request-timeout", Value: 10 * time.Second, Usage: "timeout for each catalog request", Sources: cli.EnvVars("PCBUILDER_REQUEST_TIMEOUT")},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn or error", Sources: cli.EnvVars("PCBUILDER_LOG_LEVEL")},
			&cli.StringFlag{Name: "log-format", Value: "json", Usage: "json or console", Sources: cli.EnvVars("PCBUILDER_LOG_FORMAT")},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return runServer(ctx, serverConfig{
				Addr:           c.String("addr"),
				RPCSocket:      c.String("rpc-socket"),
				DBPath:         c.String("db-path"),
				CatalogURL:     c.String("catalog-url"),
				CatalogToken:   c.String("catalog-token"),
				RequestTimeout: c.Duration("request-timeout"),
				Logging:        logging.Config{Level: c.String("log-level"), Format: c.String("log-format")},
			})
		},
	}
}

func runServer(ctx context.Context, cfg serverConfig) error {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	db, err := sqliteadapter.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	if err := sqliteadapter.RunMigrations(ctx, db); err != nil {
		return err
	}

	recorder := metrics.NewRecorder()
	catalog := catalogapi.New(cfg.CatalogURL,
		catalogapi.WithToken(cfg.CatalogToken),
		catalogapi.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout + 5*time.Second}),
		catalogapi.WithLogger(logger.Named("catalog")),
		catalogapi.WithRecorder(recorder),
	)
	service := application.NewBuilderService(catalog, sqliteadapter.NewBuildRepository(db),
		application.WithServiceLogger(logger.Named("builder")),
		application.WithServiceRecorder(recorder),
		application.WithCatalogTimeout(cfg.RequestTimeout),
	)
	defer service.Close()

	router := httpadapter.NewRouter(service, logger.Named("http"))
	srv := &http.Server{Addr: cfg.Addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	rpcSrv, err := rpcadapter.Start(cfg.RPCSocket, service, logger.Named("rpc"))
	if err != nil {
		return err
	}

	defer func() {
		_ = rpcSrv.Close()
	}()
	logger.Info("json-rpc listening", zap.String("socket", "unix://"+cfg.RPCSocket))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr), zap.String("catalog", cfg.CatalogURL))
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Client connection settings",
		Commands: []*cli.Command{
			{
				Name:  "set",
				Usage: "Choose transport and endpoints",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "transport", Usage: "uds or http"},
					&cli.StringFlag{Name: "server", Usage: "HTTP server URL"},
					&cli.StringFlag{Name: "socket", Usage: "JSON-RPC unix socket path"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					if c.IsSet("transport") {
						transport := strings.ToLower(c.String("transport"))
						if transport != "uds" && transport != "http" {
							return fmt.Errorf("unknown transport %q", transport)
						}
						cfg.Transport = transport
					}
					if c.IsSet("server") {
						cfg.Server = c.String("server")
					}
					if c.IsSet("socket") {
						cfg.Socket = c.String("socket")
					}
					if err := saveConfig(cfg); err != nil {
						return err
					}
					printConfig(cfg)
					return nil
				},
			},
			{
				Name:  "show",
				Usage: "Print client settings",
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					printConfig(cfg)
					return nil
				},
			},
		},
	}
}

func printConfig(cfg cliConfig) {
	printKV([][2]string{{"transport", cfg.Transport}, {"server", cfg.Server}, {"socket", cfg.Socket}, {"session", orDash(cfg.Session)}})
}

func sessionFlag() cli.Flag {
	return &cli.StringFlag{Name: "session", Usage: "session id (defaults to the current session)"}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{Name: "json", Usage: "output raw JSON"}
}

// sessionAction loads the client config and resolves the target session.
func sessionAction(fn func(ctx context.Context, c *cli.Command, cfg cliConfig, id string) error) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		id, err := cfg.sessionID(c.String("session"))
		if err != nil {
			return err
		}
		return fn(ctx, c, cfg, id)
	}
}

func showView(c *cli.Command, view application.SessionView) error {
	if c.Bool("json") {
		return printJSON(view)
	}
	printSession(view)
	return nil
}

func sessionCommand() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Build session commands",
		Commands: []*cli.Command{
			{
				Name:  "new",
				Usage: "Start a build session and make it current",
				Flags: []cli.Flag{jsonFlag()},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var view application.SessionView
					if err := doSessionCreate(ctx, cfg, &view); err != nil {
						return err
					}
					cfg.Session = view.ID
					if err := saveConfig(cfg); err != nil {
						return err
					}
					return showView(c, view)
				},
			},
			{
				Name:  "list",
				Usage: "List stored sessions",
				Flags: []cli.Flag{&cli.IntFlag{Name: "limit", Value: 50}, jsonFlag()},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var items []domain.BuildSession
					if err := doSessionList(ctx, cfg, int(c.Int("limit")), &items); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(items)
					}
					printSessions(items, cfg.Session)
					return nil
				},
			},
			{
				Name:  "show",
				Usage: "Show selections, totals and verdict",
				Flags: []cli.Flag{sessionFlag(), &cli.BoolFlag{Name: "wait", Value: true, Usage: "wait for in-flight catalog requests"}, jsonFlag()},
				Action: sessionAction(func(ctx context.Context, c *cli.Command, cfg cliConfig, id string) error {
					var view application.SessionView
					if err := doSessionShow(ctx, cfg, id, c.Bool("wait"), &view); err != nil {
						return err
					}
					return showView(c, view)
				}),
			},
			{
				Name:      "use",
				Usage:     "Make a session current",
				ArgsUsage: "<session-id>",
				Action: func(ctx context.Context, c *cli.Command) error {
					id := strings.TrimSpace(c.Args().First())
					if id == "" {
						return errors.New("session id is required")
					}
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					cfg.Session = id
					if err := saveConfig(cfg); err != nil {
						return err
					}
					fmt.Printf("current session %s\n", id)
					return nil
				},
			},
			{
				Name:  "close",
				Usage: "Close a session on the server",
				Flags: []cli.Flag{sessionFlag()},
				Action: sessionAction(func(ctx context.Context, c *cli.Command, cfg cliConfig, id string) error {
					if err := doSessionClose(ctx, cfg, id); err != nil {
						return err
					}
					if cfg.Session == id {
						cfg.Session = ""
						if err := saveConfig(cfg); err != nil {
							return err
						}
					}
					fmt.Printf("closed session %s\n", id)
					return nil
				}),
			},
		},
	}
}

func brandCommand() *cli.Command {
	return &cli.Command{
		Name:      "brand",
		Usage:     "Choose the CPU brand",
		ArgsUsage: "<brand>",
		Flags:     []cli.Flag{sessionFlag(), jsonFlag()},
		Action: sessionAction(func(ctx context.Context, c *cli.Command, cfg cliConfig, id string) error {
			brand := strings.TrimSpace(c.Args().First())
			if brand == "" {
				return errors.New("brand is required")
			}
			var view application.SessionView
			if err := doSelectBrand(ctx, cfg, id, brand, &view); err != nil {
				return err
			}
			return showView(c, view)
		}),
	}
}

func selectCommand() *cli.Command {
	return &cli.Command{
		Name:      "select",
		Usage:     "Select a part for a category",
		ArgsUsage: "<category> <product-id>",
		Flags:     []cli.Flag{sessionFlag(), &cli.BoolFlag{Name: "clear", Usage: "clear the category instead"}, jsonFlag()},
		Action: sessionAction(func(ctx context.Context, c *cli.Command, cfg cliConfig, id string) error {
			category := c.Args().Get(0)
			productID := c.Args().Get(1)
			if category == "" || (productID == "" && !c.Bool("clear")) {
				return errors.New("usage: pcbuilder select <category> <product-id>")
			}
			if c.Bool("clear") {
				productID = ""
			}
			var view application.SessionView
			if err := doSelectPart(ctx, cfg, id, category, productID, &view); err != nil {
				return err
			}
			return showView(c, view)
		}),
	}
}

func fanCommand() *cli.Command {
	fanAction := func(remove bool) cli.ActionFunc {
		return sessionAction(func(ctx context.Context, c *cli.Command, cfg cliConfig, id string) error {
			productID := strings.TrimSpace(c.Args().First())
			if productID == "" {
				return errors.New("product id is required")
			}
			var view application.SessionView
			var err error
			if remove {
				err = doFanRemove(ctx, cfg, id, productID, &view)
			} else {
				err = doFanAdd(ctx, cfg, id, productID, &view)
			}
			if err != nil {
				return err
			}
			return showView(c, view)
		})
	}
	return &cli.Command{
		Name:  "fan",
		Usage: "Manage case fans",
		Commands: []*cli.Command{
			{Name: "add", Usage: "Add a fan", ArgsUsage: "<product-id>", Flags: []cli.Flag{sessionFlag(), jsonFlag()}, Action: fanAction(false)},
			{Name: "remove", Usage: "Remove a fan", ArgsUsage: "<product-id>", Flags: []cli.Flag{sessionFlag(), jsonFlag()}, Action: fanAction(true)},
		},
	}
}

func candidatesCommand() *cli.Command {
	return &cli.Command{
		Name:      "candidates",
		Usage:     "List selectable parts for a category",
		ArgsUsage: "<category>",
		Flags:     []cli.Flag{sessionFlag(), &cli.StringFlag{Name: "q", Usage: "filter by brand, model or product id"}, jsonFlag()},
		Action: sessionAction(func(ctx context.Context, c *cli.Command, cfg cliConfig, id string) error {
			category := strings.TrimSpace(c.Args().First())
			if category == "" {
				return errors.New("category is required")
			}
			var list application.CandidateList
			if err := doCandidates(ctx, cfg, id, category, c.String("q"), &list); err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(list)
			}
			printCandidates(list)
			return nil
		}),
	}
}

func refreshCommand() *cli.Command {
	return &cli.Command{
		Name:      "refresh",
		Usage:     "Refetch candidate lists",
		ArgsUsage: "[category...]",
		Flags:     []cli.Flag{sessionFlag(), jsonFlag()},
		Action: sessionAction(func(ctx context.Context, c *cli.Command, cfg cliConfig, id string) error {
			var view application.SessionView
			if err := doRefresh(ctx, cfg, id, c.Args().Slice(), &view); err != nil {
				return err
			}
			return showView(c, view)
		}),
	}
}

func draftCommand() *cli.Command {
	return &cli.Command{
		Name:  "draft",
		Usage: "Save the verified build as a draft",
		Flags: []cli.Flag{sessionFlag(), jsonFlag()},
		Action: sessionAction(func(ctx context.Context, c *cli.Command, cfg cliConfig, id string) error {
			var draft domain.DraftBuild
			if err := doSaveDraft(ctx, cfg, id, &draft); err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(draft)
			}
			printKV([][2]string{{"build", draft.BuildID}, {"total", draft.Totals.Total.StringFixed(2)}, {"saved_at", formatTime(draft.SavedAt)}})
			return nil
		}),
	}
}

func submitCommand() *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "Submit the saved draft for review",
		Flags: []cli.Flag{sessionFlag(), &cli.StringFlag{Name: "build-id", Usage: "draft build id (defaults to the session draft)"}},
		Action: sessionAction(func(ctx context.Context, c *cli.Command, cfg cliConfig, id string) error {
			var out struct {
				Message string `json:"message"`
			}
			if err := doSubmit(ctx, cfg, id, c.String("build-id"), &out); err != nil {
				return err
			}
			fmt.Println(out.Message)
			return nil
		}),
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show verification runs and drafts of a session",
		Flags: []cli.Flag{sessionFlag(), &cli.IntFlag{Name: "limit", Value: 20}, jsonFlag()},
		Action: sessionAction(func(ctx context.Context, c *cli.Command, cfg cliConfig, id string) error {
			var history domain.SessionHistory
			if err := doHistory(ctx, cfg, id, int(c.Int("limit")), &history); err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(history)
			}
			printHistory(history)
			return nil
		}),
	}
}

func buildCommand() *cli.Command {
	return &cli.Command{
		Name:  "build",
		Usage: "Persisted build commands",
		Commands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "Show a persisted build",
				ArgsUsage: "<build-id>",
				Flags:     []cli.Flag{jsonFlag()},
				Action: func(ctx context.Context, c *cli.Command) error {
					buildID := strings.TrimSpace(c.Args().First())
					if buildID == "" {
						return errors.New("build id is required")
					}
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					var build domain.BuildSnapshot
					if err := doBuildShow(ctx, cfg, buildID, &build); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(build)
					}
					printBuild(build)
					return nil
				},
			},
		},
	}
}
