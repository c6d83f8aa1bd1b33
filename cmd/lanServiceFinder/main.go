package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rescp17/lanServiceFinder/internal/config"
	"github.com/rescp17/lanServiceFinder/internal/util"
	"github.com/rescp17/lanServiceFinder/pkg/backend"
	"github.com/rescp17/lanServiceFinder/pkg/discovery"
	"github.com/rescp17/lanServiceFinder/pkg/finder"
	"github.com/rescp17/lanServiceFinder/pkg/ui"
)

// options are the flags shared by every command.
type options struct {
	configFile     string
	backend        string
	domain         string
	resolveTimeout time.Duration
	types          []string
	prefix         string
	logFile        string
}

func (o *options) register(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVarP(&o.configFile, "config", "c", "", "YAML file listing the searches to run")
	flags.StringVarP(&o.backend, "backend", "b", backend.Default, "mDNS stack to use ("+strings.Join(backend.Names(), ", ")+")")
	flags.StringVar(&o.domain, "domain", discovery.DefaultDomain, "Domain to browse")
	flags.DurationVar(&o.resolveTimeout, "timeout", discovery.DefaultResolveTimeout, "How long to wait for a service to resolve")
	flags.StringArrayVarP(&o.types, "type", "t", nil, "Service type to search for, e.g. _ipp._tcp (repeatable)")
	flags.StringVarP(&o.prefix, "prefix", "p", "", "Only report instances whose name starts with this prefix")
	flags.StringVar(&o.logFile, "log-file", "debug.log", "File to write logs to")
}

// load builds the run configuration: defaults, then the config file, then
// any flag the user set explicitly.
func (o *options) load(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if o.configFile != "" {
		if err := cfg.LoadFile(o.configFile); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = strings.ToLower(strings.TrimSpace(o.backend))
	}
	if flags.Changed("domain") {
		cfg.Domain = o.domain
	}
	if flags.Changed("timeout") {
		cfg.ResolveTimeout = o.resolveTimeout
	}
	if flags.Changed("type") {
		cfg.Searches = cfg.Searches[:0]
		for _, t := range o.types {
			cfg.Searches = append(cfg.Searches, discovery.Configuration{ServiceType: t, ServiceNamePrefix: o.prefix})
		}
	} else if flags.Changed("prefix") {
		for i := range cfg.Searches {
			cfg.Searches[i].ServiceNamePrefix = o.prefix
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	var logFile *os.File

	cmd := &cobra.Command{
		Use:          "lanServiceFinder",
		Short:        "Find services announced over mDNS on the local network",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logFile == "" {
				log.SetOutput(io.Discard)
				return nil
			}
			f, err := os.OpenFile(opts.logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			logFile = f
			log.SetOutput(f)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logFile == nil {
				return
			}
			if err := logFile.Close(); err != nil {
				slog.Warn("failed to close log file", "error", err)
			}
		},
	}
	opts.register(cmd)

	cmd.AddCommand(newBrowseCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newAnnounceCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	return cmd
}

func newBrowseCmd(opts *options) *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Print services as they appear and disappear",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			b, err := backend.Open(cfg.Backend)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			return browse(ctx, cmd.OutOrStdout(), cfg, b)
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")
	return cmd
}

var browseColumns = []int{2, 32, 16, 40, 6, 24}

// browse runs a session until ctx is done, writing one line per event to w.
func browse(ctx context.Context, w io.Writer, cfg *config.Config, p discovery.Provider) error {
	events := make(chan discovery.Event, 64)
	opts := append(cfg.SessionOptions(), discovery.WithLogger(slog.Default().With("component", "browse")))
	session, err := discovery.New(cfg.Searches, discovery.ChannelObserver(events), p, opts...)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, util.Row(browseColumns, " ", "NAME", "TYPE", "ADDRESS", "PORT", "SEARCH"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return session.Run(ctx)
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-events:
				fmt.Fprintln(w, eventLine(ev))
			}
		}
	})
	return g.Wait()
}

func eventLine(ev discovery.Event) string {
	switch e := ev.(type) {
	case discovery.DiscoveredEvent:
		return serviceLine("+", e.Service)
	case discovery.DisappearedEvent:
		return serviceLine("-", e.Service)
	case discovery.FailedEvent:
		return util.Row(browseColumns, "!", e.Configuration.String(), e.Kind.String())
	}
	return ""
}

func serviceLine(mark string, s discovery.DiscoveredService) string {
	addr := "-"
	if ip := s.Service.Addr(); ip != nil {
		addr = ip.String()
	}
	port := "-"
	if s.Service.Port > 0 {
		port = strconv.Itoa(s.Service.Port)
	}
	return util.Row(browseColumns, mark, s.Service.Name, s.Service.Type, addr, port, s.Configuration.String())
}

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Show discovered services in an interactive table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			b, err := backend.Open(cfg.Backend)
			if err != nil {
				return err
			}
			a, err := finder.NewApp(cfg, b)
			if err != nil {
				return err
			}
			fixture, err := finder.FixtureService(cfg.Searches[0].ServiceType, finder.FixturePort)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			runErr := make(chan error, 1)
			go func() {
				runErr <- a.Run(ctx)
			}()

			p := tea.NewProgram(ui.InitialModel(a, cfg.Searches, fixture))
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("run tui: %w", err)
			}
			cancel()
			if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func newAnnounceCmd(opts *options) *cobra.Command {
	var (
		name string
		port int
		text map[string]string
	)
	cmd := &cobra.Command{
		Use:   "announce",
		Short: "Publish a test instance of the first service type until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			b, err := backend.Open(cfg.Backend)
			if err != nil {
				return err
			}
			service, err := finder.FixtureService(cfg.Searches[0].ServiceType, port)
			if err != nil {
				return err
			}
			if name != "" {
				service.Name = name
			}
			if cfg.Domain != "" {
				service.Domain = cfg.Domain
			}
			for k, v := range text {
				service.Text[k] = v
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.OutOrStdout(), "Announcing %q as %s on port %d, press Ctrl+C to stop\n",
				service.Name, service.Type, service.Port)
			slog.Info("Announcing service", "name", service.Name, "type", service.Type, "port", service.Port)
			if err := b.Announce(ctx, service); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("announce %s: %w", service.Name, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Instance name (default <hostname>-<random>)")
	cmd.Flags().IntVar(&port, "port", finder.FixturePort, "Port to announce")
	cmd.Flags().StringToStringVar(&text, "text", nil, "TXT record entries, e.g. --text path=/,version=2")
	return cmd
}

func newConfigCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			return cfg.Marshal(cmd.OutOrStdout())
		},
	}
}

func main() {
	if err := fang.Execute(context.Background(), newRootCmd()); err != nil {
		os.Exit(1)
	}
}
