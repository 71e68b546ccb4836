package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lowcarbdev/goipwatch/internal"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

var logger *slog.Logger

func main() {
	// Parse CLI flags
	configPath := pflag.String("config", os.Getenv("GOIPWATCH_CONFIG"), "Path to the YAML config file")
	setPassword := pflag.String("set-operator-password", "", "Create the operator or reset its password")
	listOperators := pflag.Bool("list-operators", false, "List all operators")
	journalMode := pflag.Bool("journal", false, "Use rollback journal mode instead of WAL (for network filesystems)")
	pflag.Parse()

	// Use WAL mode by default, unless --journal flag is set
	internal.UseWALMode = !*journalMode

	settings, err := internal.LoadSettings(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var logCloser interface{ Close() error }
	logger, logCloser, err = internal.SetupLogger(settings.LogLevel, settings.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	dbPath := filepath.Join(settings.DBPathPrefix, "goipwatch.db")
	db, dbErr := internal.OpenDB(dbPath)

	// Operator management commands need the database
	if *setPassword != "" || *listOperators {
		if dbErr != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", dbErr)
			os.Exit(1)
		}
		operators := internal.NewOperatorStore(db)
		if *setPassword != "" {
			err = handleSetPassword(operators, *setPassword)
		} else {
			err = handleListOperators(operators)
		}
		db.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if dbErr != nil {
		logger.Error("Failed to open database, counters are kept in memory", "path", dbPath, "error", dbErr)
	}
	if db != nil {
		defer db.Close()
	}
	store := internal.OpenCounterStore(db, dbErr)
	defer store.Close()

	clock := internal.RealClock()
	notifier := newNotifier(settings)
	accounting := internal.NewAccounting(store, clock)
	queue := internal.NewRequestQueue(clock)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var events internal.Events = internal.NopEvents{}
	if settings.NATS.URL != "" {
		bridge, err := internal.ConnectNATS(settings.NATS.URL, settings.NATS.EventPrefix)
		if err != nil {
			logger.Error("Failed to connect to NATS, continuing without it", "error", err)
		} else {
			defer bridge.Close()
			events = bridge
			if err := bridge.ServeRequests(ctx, settings.NATS.RequestSubject, queue); err != nil {
				logger.Error("Failed to subscribe to operator requests", "error", err)
			}
		}
	}

	parser, err := internal.NewUSSDParser(settings.USSD.Patterns)
	if err != nil {
		logger.Error("Invalid USSD patterns", "error", err)
		os.Exit(1)
	}

	health := internal.NewHealthMonitor(
		settings.HealthConfig(), accounting, notifier, events, clock,
		internal.NewHTTPSessionFactory(settings.Device.Sections, settings.Device.Timeout),
		internal.NewGoIPGatewayFactory(settings.GatewayConfig(), notifier, clock),
	)
	reporter := internal.NewReporter(settings.ReporterConfig(), parser, accounting, health.Gateway, events, clock)
	monitor := internal.NewCallMonitor(settings.MonitorConfig(), health, reporter, accounting, queue, notifier, events, clock)
	service := internal.NewMonitorService(monitor, health, notifier)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.IdleTimeout = 2 * time.Minute

	if db != nil {
		operators := internal.NewOperatorStore(db)
		if err := operators.CleanExpiredSessions(); err != nil {
			logger.Warn("Failed to clean expired sessions", "error", err)
		}
		server := internal.NewServer(settings.ServerConfig(), operators, queue, accounting, monitor, notifier, clock)
		server.Register(e)

		go func() {
			logger.Info("Server starting", "port", settings.Port)
			if err := e.Start(":" + settings.Port); err != nil && err != http.ErrServerClosed {
				logger.Error("Server failed to start", "error", err)
			}
		}()
	} else {
		logger.Warn("Operator API disabled without a database")
	}

	exitCode := 0
	if err := service.Start(); err != nil {
		logger.Error("Failed to start monitor", "error", err)
		exitCode = 1
	} else {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received")
		case <-service.Done():
			logger.Error("Monitor stopped unexpectedly")
			exitCode = 1
		}
		service.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	logger.Info("Shutdown done")

	if exitCode != 0 {
		stop()
		store.Close()
		logCloser.Close()
		os.Exit(exitCode)
	}
}

func newNotifier(settings internal.Settings) internal.Notifier {
	if settings.Telegram.Token == "" {
		logger.Warn("Telegram is not configured, notifications go to the log")
		return &internal.LogNotifier{}
	}
	n, err := internal.NewTelegramNotifier(settings.Telegram.Token, settings.Telegram.ChatID, settings.IsProduction())
	if err != nil {
		logger.Error("Failed to start Telegram notifier, notifications go to the log", "error", err)
		return &internal.LogNotifier{}
	}
	return n
}

// handleSetPassword prompts for a password and sets it for the given operator
func handleSetPassword(operators *internal.OperatorStore, username string) error {
	fmt.Print("Enter new password: ")
	passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	fmt.Print("Confirm new password: ")
	confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password confirmation: %w", err)
	}

	password := string(passwordBytes)
	if password != string(confirmBytes) {
		return fmt.Errorf("passwords do not match")
	}

	if len(password) < 6 {
		return fmt.Errorf("password must be at least 6 characters")
	}

	created, err := operators.SetPassword(username, password)
	if err != nil {
		return err
	}

	if created {
		fmt.Printf("Operator '%s' created\n", username)
	} else {
		fmt.Printf("Password reset successfully for operator '%s'\n", username)
	}
	return nil
}

// handleListOperators lists all operators with their usernames and UUIDs
func handleListOperators(operators *internal.OperatorStore) error {
	list, err := operators.ListOperators()
	if err != nil {
		return fmt.Errorf("failed to list operators: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No operators found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tUUID\tCREATED")
	fmt.Fprintln(w, "--------\t----\t-------")

	for _, operator := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\n", operator.Username, operator.ID, operator.CreatedAt.Format(time.DateTime))
	}

	w.Flush()
	return nil
}
