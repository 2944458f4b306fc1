// parcelctl exercises the session subsystem against a live parcel-delivery
// deployment: log in, inspect the session, force a profile refresh, watch for
// credential changes made by other processes, and log out.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/reduanahmadswe/parcel-delivery-client/api"
	"github.com/reduanahmadswe/parcel-delivery-client/internal/config"
	"github.com/reduanahmadswe/parcel-delivery-client/metrics"
	"github.com/reduanahmadswe/parcel-delivery-client/session"
	"github.com/reduanahmadswe/parcel-delivery-client/token"
	"github.com/reduanahmadswe/parcel-delivery-client/token/filestore"
	"github.com/reduanahmadswe/parcel-delivery-client/token/redisstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	cfg := config.New()
	log := newLogger(cfg)

	command := "whoami"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}
	if command == "help" || command == "-h" || command == "--help" {
		displayAppname(cfg.GetAppName())
		usage()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coordinator, err := bootstrap(ctx, cfg, log)
	if err != nil {
		return err
	}

	switch command {
	case "login":
		return login(ctx, coordinator)
	case "logout":
		coordinator.Logout(ctx)
		fmt.Println("Logged out.")
		return nil
	case "whoami":
		return whoami(coordinator)
	case "refresh":
		coordinator.RefreshUser(ctx)
		return whoami(coordinator)
	case "watch":
		return watch(ctx, coordinator)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

// bootstrap builds the token store, pipeline, and coordinator, and runs the
// startup restore.
func bootstrap(ctx context.Context, cfg config.Config, log zerolog.Logger) (*session.Coordinator, error) {
	var instruments *metrics.Metrics
	if cfg.GetMetricsEnabled() {
		instruments = metrics.New(nil)
	}

	primary, err := filestore.New(cfg.GetCredentialsFile(),
		filestore.WithLogger(log),
		filestore.WithEncryptionKey(cfg.GetCredentialsKey()),
		filestore.WithWatchInterval(cfg.GetWatchInterval()),
	)
	if err != nil {
		return nil, err
	}

	storeOptions := []token.StoreOption{token.WithLogger(log), token.WithMetrics(instruments)}
	if addr := cfg.GetRedisAddr(); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.GetRedisPassword()})
		secondary, err := redisstore.New(client,
			redisstore.WithLogger(log),
			redisstore.WithTTL(cfg.GetTokenTTL()),
		)
		if err != nil {
			return nil, err
		}
		storeOptions = append(storeOptions, token.WithSecondary(secondary))
	}
	store, err := token.NewStore(primary, storeOptions...)
	if err != nil {
		return nil, err
	}

	client, err := api.New(cfg.GetBaseURL(), store,
		api.WithLogger(log),
		api.WithTimeout(cfg.GetHTTPTimeout()),
		api.WithMetrics(instruments),
	)
	if err != nil {
		return nil, err
	}

	coordinatorOptions := []session.CoordinatorOption{
		session.WithLogger(log),
		session.WithRestorePolicy(cfg.GetRestorePolicy()),
	}
	if cfg.GetDevtoolsEnabled() {
		coordinatorOptions = append(coordinatorOptions, session.WithDevtools())
	}
	coordinator, err := session.NewCoordinator(client, store, coordinatorOptions...)
	if err != nil {
		return nil, err
	}
	if err := coordinator.Start(ctx); err != nil {
		return nil, err
	}
	return coordinator, nil
}

func login(ctx context.Context, coordinator *session.Coordinator) error {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Email: ")
	email, _ := reader.ReadString('\n')
	fmt.Print("Password: ")
	password, _ := reader.ReadString('\n')

	outcome := coordinator.Login(ctx, strings.TrimSpace(email), strings.TrimSpace(password))
	if !outcome.Success {
		return fmt.Errorf("login failed: %s", outcome.Message)
	}
	fmt.Printf("Logged in as %s (%s)\n", outcome.User.Name, outcome.User.Role)
	return nil
}

func whoami(coordinator *session.Coordinator) error {
	snapshot := coordinator.Snapshot()
	if !snapshot.IsAuthenticated() {
		fmt.Println("Not logged in.")
		return nil
	}
	fmt.Printf("User:  %s <%s>\n", snapshot.User.Name, snapshot.User.Email)
	fmt.Printf("Role:  %s\n", snapshot.User.Role)
	fmt.Printf("Phase: %s\n", snapshot.Phase)
	return nil
}

// watch prints session changes until interrupted, demonstrating cross-process
// synchronization: log out from another terminal and this one notices.
func watch(ctx context.Context, coordinator *session.Coordinator) error {
	coordinator.Subscribe(func(snapshot session.Snapshot) {
		if snapshot.IsAuthenticated() {
			fmt.Printf("[%s] %s\n", snapshot.Phase, snapshot.User.Email)
			return
		}
		fmt.Printf("[%s]\n", snapshot.Phase)
	})
	fmt.Println("Watching session state, Ctrl-C to stop.")
	waitForStopSignal()
	return nil
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.GetLogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

func usage() {
	fmt.Println(`Usage: parcelctl <command>

Commands:
  login    Authenticate and persist the session
  logout   End the session everywhere this machine shares credentials
  whoami   Show the restored session
  refresh  Re-fetch the profile from the server
  watch    Print session changes made by other processes`)
}
