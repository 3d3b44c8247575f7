package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	stdhttp "net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"netscope/capture"
	"netscope/config"
	"netscope/engine"
	netscopehttp "netscope/http"
	"netscope/log"
)

var (
	cfg         = config.Default()
	verboseFlag string
	showVersion bool
	Version     = "dev"
	Commit      = "none"
	Date        = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "netscope",
	Short: "netscope live network observability service",
	Long:  `netscope captures, dissects, and aggregates a live packet stream and serves it over HTTP+SSE.`,
	RunE:  run,
}

func init() {
	cfg.BindFlags(rootCmd)
	rootCmd.Flags().StringVar(&verboseFlag, "verbose", "info", "Set verbosity level (error, info, trace, debug)")
	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "Show version and exit")
}

func main() {
	initTimezone()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if showVersion {
		fmt.Printf("netscope version: %s (%s) %s\n", Version, Commit, Date)
		return nil
	}

	if err := initLogging(cfg); err != nil {
		return fmt.Errorf("logging initialization failed: %w", err)
	}

	log.Infof("starting netscope")

	changedFlags := map[string]string{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changedFlags[f.Name] = f.Value.String() })
	cfg.LoadFromFile(cfg.ConfigPath)
	for name, value := range changedFlags {
		cmd.Flags().Set(name, value)
	}
	if cmd.Flags().Changed("interface") || cmd.Flags().Changed("port") ||
		cmd.Flags().Changed("promiscuous") || cmd.Flags().Changed("buffer-size") {
		// flags already overrode the in-memory struct via pflag's VarP binding;
		// persist the effective settings back for the next cold start.
		cfg.SaveToFile(cfg.ConfigPath)
	}

	if cfg.Interface == "" {
		iface, err := capture.DefaultInterface()
		if err != nil {
			log.Warnf("no default interface found: %v", err)
		} else {
			cfg.Interface = iface
		}
	}

	printConfigDefaults(cmd)

	eng := engine.New(cfg)

	if cfg.Interface != "" {
		if err := eng.Start(cfg.Interface, cfg.Promiscuous); err != nil {
			log.Errorf("initial capture start on %s failed: %v", cfg.Interface, err)
		}
	}

	httpServer, err := netscopehttp.StartServer(eng)
	if err != nil {
		return log.Errorf("failed to start web server: %w", err)
	}

	log.Infof("netscope is running. Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Infof("received signal: %v, shutting down", sig)

	return gracefulShutdown(eng, httpServer)
}

// gracefulShutdown stops the HTTP server and the engine concurrently,
// bounded by a 10s deadline, using errgroup to fan the two independent
// shutdown paths out and collect whichever errors occur.
func gracefulShutdown(eng *engine.Engine, httpServer *stdhttp.Server) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g, _ := errgroup.WithContext(shutdownCtx)

	if httpServer != nil {
		g.Go(func() error {
			log.Infof("shutting down HTTP server...")
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("http shutdown: %w", err)
			}
			log.Infof("HTTP server stopped")
			return nil
		})
	}

	g.Go(func() error {
		log.Infof("stopping capture engine...")
		eng.Shutdown()
		log.Infof("capture engine stopped")
		return nil
	})

	netscopehttp.Shutdown()

	if err := g.Wait(); err != nil {
		log.Errorf("shutdown completed with errors: %v", err)
	} else {
		log.Infof("netscope stopped successfully")
	}

	log.CloseErrorFile()
	log.Flush()
	return nil
}

func initTimezone() {
	tzName := os.Getenv("TZ")
	if tzName == "" {
		tzName = "UTC"
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] failed to load timezone %s: %v, using UTC\n", tzName, err)
		loc, _ = time.LoadLocation("UTC")
	}
	time.Local = loc
}

func initLogging(cfg *config.Config) error {
	w := io.MultiWriter(os.Stderr, netscopehttp.LogWriter())
	log.Init(w, levelFromName(verboseFlag), cfg.Instaflush)

	if cfg.Syslog {
		if err := log.EnableSyslog("netscope"); err != nil {
			return err
		}
	}
	return nil
}

func levelFromName(name string) log.Level {
	switch name {
	case "debug":
		return log.LevelDebug
	case "trace":
		return log.LevelTrace
	case "silent", "error":
		return log.LevelError
	default:
		return log.LevelInfo
	}
}

func printConfigDefaults(cmd *cobra.Command) {
	var all []*pflag.Flag
	cmd.InheritedFlags().VisitAll(func(f *pflag.Flag) { all = append(all, f) })
	cmd.Flags().VisitAll(func(f *pflag.Flag) { all = append(all, f) })
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	line := ""
	for _, f := range all {
		if line != "" {
			line += " "
		}
		line += fmt.Sprintf("--%s=%s", f.Name, f.Value.String())
	}
	log.Infof("effective flags: %s", line)
}
