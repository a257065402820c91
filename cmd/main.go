package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"eventhub/internal/app"
	"eventhub/internal/chatbot"
	"eventhub/internal/config"
	"eventhub/internal/feed"
	"eventhub/internal/google"
	"eventhub/internal/icloud"
	"eventhub/internal/ics"
	"eventhub/internal/models"
	"eventhub/internal/provider"
	"eventhub/internal/redisstore"
	"eventhub/internal/session"
	"eventhub/internal/shell"
	"eventhub/internal/syncer"
)

const syncTimeout = 30 * time.Second

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cliApp := &cli.App{
		Name:  "eventhub",
		Usage: "Browse, post and publish campus events.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				EnvVars: []string{"EVENTHUB_CONFIG"},
				Usage:   "Path to a YAML config file. Environment variables override it.",
			},
		},
		Commands: []*cli.Command{
			authCommand(),
			shellCommand(),
			serveCommand(),
			publishCommand(),
			exportCommand(),
			askCommand(),
		},
	}

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	return cfg, setupLogger(cfg.LogLevel), nil
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get a Firestore token.",
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger.Info("Starting Google authentication flow.")

			oauthConfig, err := google.GetOAuthConfigForAuthFlow(cfg.Firestore.ClientID, cfg.Firestore.ClientSecret)
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			if err := google.SaveToken(cfg.Firestore.TokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", cfg.Firestore.TokenFile)
			return nil
		},
	}
}

func shellCommand() *cli.Command {
	return &cli.Command{
		Name:  "shell",
		Usage: "Sign in and manage events interactively.",
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			a, closeFn, err := openApp(c.Context, cfg, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			return shell.New(logger, a, os.Stdin, os.Stdout).Run(c.Context)
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the event listing as JSON and an iCalendar feed.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Listen address. Overrides FEED_ADDR."},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			if c.IsSet("addr") {
				cfg.Feed.Addr = c.String("addr")
			}
			a, closeFn, err := openApp(c.Context, cfg, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			return feed.NewServer(logger, a).ListenAndServe(c.Context, cfg.Feed.Addr)
		},
	}
}

func publishCommand() *cli.Command {
	return &cli.Command{
		Name:  "publish",
		Usage: "Mirror an organizer's events into a CalDAV calendar.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "once", Usage: "Run the publish cycle once and exit."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be published without making changes."},
			&cli.BoolFlag{Name: "watch", Usage: "Publish on the cron schedule until interrupted. Overrides --once."},
			&cli.StringFlag{Name: "cron", Usage: "Cron schedule for --watch. Overrides PUBLISH_CRON."},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			if c.IsSet("cron") {
				cfg.Publish.Cron = c.String("cron")
			}
			if cfg.Publish.Email == "" {
				return errors.New("PUBLISH_EMAIL environment variable not set")
			}
			if c.Bool("dry-run") {
				logger.Info("Performing a dry run. No changes will be made.")
			}

			a, closeFn, err := openApp(c.Context, cfg, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			if _, err := a.SignIn(c.Context, models.RoleOrganizer, cfg.Publish.Email, cfg.Publish.Password); err != nil {
				return fmt.Errorf("failed to sign in as %s: %w", cfg.Publish.Email, err)
			}

			calendar, err := icloud.NewClient(c.Context, logger, icloud.Options{
				Endpoint: cfg.CalDAV.Endpoint,
				Username: cfg.CalDAV.Username,
				Password: cfg.CalDAV.Password,
				Calendar: cfg.CalDAV.Calendar,
			})
			if err != nil {
				return fmt.Errorf("failed to create caldav client: %w", err)
			}

			source := func() []models.Event { return a.Views().Mine.Events }
			s, err := syncer.NewSyncer(logger, source, calendar, cfg.Publish.StateFile, c.Bool("dry-run"))
			if err != nil {
				return fmt.Errorf("failed to create syncer: %w", err)
			}

			// --watch flag takes precedence
			if c.Bool("watch") {
				return watch(c.Context, logger, cfg.Publish.Cron, s)
			}
			logger.Info("Running a single publish cycle.")
			if _, err := s.Sync(c.Context); err != nil {
				return fmt.Errorf("single publish cycle failed: %w", err)
			}
			return nil
		},
	}
}

// watch runs s on schedule until ctx ends. A run still in progress when ctx ends is
// allowed to finish.
func watch(ctx context.Context, logger *slog.Logger, schedule string, s *syncer.Syncer) error {
	sched := cron.New()
	_, err := sched.AddFunc(schedule, func() {
		if _, err := s.Sync(ctx); err != nil {
			logger.Error("Publish cycle failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}

	logger.Info("Starting publisher.", "schedule", schedule)
	if _, err := s.Sync(ctx); err != nil {
		logger.Error("Publish cycle failed", "error", err)
	}
	sched.Start()
	<-ctx.Done()
	<-sched.Stop().Done()
	logger.Info("Publisher stopped.")
	return nil
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write the student event listing as an iCalendar file.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Value: string(models.FilterAll), Usage: "Event type to export, or All."},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file. Defaults to stdout."},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			filter, err := models.ParseFilter(c.String("type"))
			if err != nil {
				return err
			}

			a, closeFn, err := openApp(c.Context, cfg, logger)
			if err != nil {
				return err
			}
			defer closeFn()
			a.SetFilter(filter)

			var buf bytes.Buffer
			n, err := ics.Encode(&buf, cfg.CalDAV.Calendar, a.Views().Student.Events, time.Now())
			if errors.Is(err, ics.ErrNoEvents) {
				logger.Info("No events to export.", "count", 0, "filter", filter)
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to encode calendar: %w", err)
			}

			var w io.Writer = os.Stdout
			if path := c.String("out"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", path, err)
				}
				defer f.Close()
				w = f
			}
			if _, err := buf.WriteTo(w); err != nil {
				return fmt.Errorf("failed to write calendar: %w", err)
			}
			logger.Info("Exported events.", "count", n, "filter", filter)
			return nil
		},
	}
}

func askCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Ask the help assistant a question.",
		ArgsUsage: "<question>",
		Action: func(c *cli.Context) error {
			question := strings.Join(c.Args().Slice(), " ")
			if question == "" {
				fmt.Println(chatbot.Greeting())
				return nil
			}
			fmt.Println(chatbot.Answer(question))
			return nil
		},
	}
}

// openApp connects the configured provider, starts the event subscription and waits
// for the first snapshot. The returned func releases everything.
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app.App, func(), error) {
	scheme, err := session.ParsePasswordScheme(cfg.PasswordScheme)
	if err != nil {
		return nil, nil, err
	}
	p, closeProvider, err := newProvider(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", models.ErrInitFailed, err)
	}

	a := app.New(logger, p, app.Options{
		AppID:  cfg.AppID,
		Scheme: scheme,
		OnError: func(err error) {
			logger.Error("Event updates stopped", "error", err)
		},
	})
	closeFn := func() {
		if err := a.Close(); err != nil {
			logger.Warn("Failed to close event subscription", "error", err)
		}
		if err := closeProvider(); err != nil {
			logger.Warn("Failed to close provider", "error", err)
		}
	}
	if err := a.Start(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}

	select {
	case <-a.Synced():
	case <-time.After(syncTimeout):
		closeFn()
		return nil, nil, fmt.Errorf("%w: no events received after %s", models.ErrInitFailed, syncTimeout)
	case <-ctx.Done():
		closeFn()
		return nil, nil, ctx.Err()
	}
	logger.Info("Connected to event store.", "provider", cfg.Provider, "app_id", cfg.AppID)
	return a, closeFn, nil
}

func newProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (provider.Provider, func() error, error) {
	switch cfg.Provider {
	case config.ProviderFirestore:
		opts, err := google.ClientOptions(ctx, logger, google.Credentials{
			Endpoint:        cfg.Firestore.Endpoint,
			TokenFile:       cfg.Firestore.TokenFile,
			ClientID:        cfg.Firestore.ClientID,
			ClientSecret:    cfg.Firestore.ClientSecret,
			CredentialsFile: cfg.Firestore.CredentialsFile,
		})
		if err != nil {
			return nil, nil, err
		}
		fs, err := google.NewFirestore(ctx, logger, google.FirestoreOptions{
			ProjectID:    cfg.Firestore.Project,
			DatabaseID:   cfg.Firestore.Database,
			PollInterval: cfg.Firestore.PollInterval,
		}, opts...)
		if err != nil {
			return nil, nil, err
		}
		return fs, fs.Close, nil

	case config.ProviderRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		store := redisstore.New(logger, client)
		return store, func() error {
			return errors.Join(store.Close(), client.Close())
		}, nil

	default:
		logger.Warn("Using the in-memory provider. Data is lost on exit.")
		m := provider.NewMemory()
		return m, m.Close, nil
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
