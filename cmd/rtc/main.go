// Command rtc is a diagnostic client for the tournament socket
// server: it connects, joins the configured rooms, tails every event
// to the log, and serves connection/stats/metrics endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/thanhkt275/rms-realtime/internal/backoff"
	"github.com/thanhkt275/rms-realtime/internal/bus"
	"github.com/thanhkt275/rms-realtime/internal/crosstab"
	"github.com/thanhkt275/rms-realtime/internal/httpapi"
	"github.com/thanhkt275/rms-realtime/internal/metrics"
	"github.com/thanhkt275/rms-realtime/internal/realtime"
	"github.com/thanhkt275/rms-realtime/pkg/types"
)

var version = "dev"

type config struct {
	socketURL    string
	role         string
	tournamentID string
	fieldID      string
	bind         string
	port         int
	logLevel     string
	baseDelay    time.Duration
	multiplier   float64
	maxDelay     time.Duration
}

func (c *config) validate() error {
	if c.socketURL == "" {
		return errors.New("--socket-url is required (env: RTC_SOCKET_URL)")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port: %d", c.port)
	}
	return nil
}

func main() {
	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

	cfg := &config{}
	cobra.CheckErr(newCmd(cfg).Execute())
}

func newCmd(cfg *config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("RTC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "rtc",
		Short:         "Diagnostic client for the RMS real-time coordination layer.",
		Args:          cobra.ExactArgs(0),
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&cfg.socketURL, "socket-url", "", "socket server URL (env: RTC_SOCKET_URL)")
	fs.StringVar(&cfg.role, "role", string(types.RoleCommon), "emission role (env: RTC_ROLE)")
	fs.StringVar(&cfg.tournamentID, "tournament", "", "tournament room to join (env: RTC_TOURNAMENT)")
	fs.StringVar(&cfg.fieldID, "field", "", "field room to join (env: RTC_FIELD)")
	fs.StringVarP(&cfg.bind, "bind", "b", "127.0.0.1", "address for the diagnostic endpoints (env: RTC_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8090, "port for the diagnostic endpoints (env: RTC_PORT)")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "log level: debug, info, warn, error (env: RTC_LOG_LEVEL)")
	fs.DurationVar(&cfg.baseDelay, "backoff-base", time.Second, "base reconnect delay (env: RTC_BACKOFF_BASE)")
	fs.Float64Var(&cfg.multiplier, "backoff-multiplier", 2.0, "reconnect delay multiplier (env: RTC_BACKOFF_MULTIPLIER)")
	fs.DurationVar(&cfg.maxDelay, "backoff-max", 30*time.Second, "reconnect delay cap (env: RTC_BACKOFF_MAX)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.SetVersionTemplate("rtc v{{.Version}}\n")
	return cmd
}

func run(ctx context.Context, cfg *config) error {
	log, err := newLogger(cfg.logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	metrics.Register()

	client := realtime.New(realtime.Config{
		URL:  cfg.socketURL,
		Role: types.Role(cfg.role),
		Backoff: backoff.Config{
			BaseDelay:  cfg.baseDelay,
			Multiplier: cfg.multiplier,
			MaxDelay:   cfg.maxDelay,
		},
		Broadcaster: crosstab.NewNoop(),
		Logger:      log,
		OnError: func(err error) {
			log.Warn("client error", zap.Error(err))
		},
	})
	defer client.Close()

	unsub := client.On(bus.Wildcard, func(event string, payload any) {
		log.Info("event", zap.String("name", event), zap.Any("payload", payload))
	})
	defer unsub()

	if err := client.Connect(ctx, cfg.socketURL); err != nil {
		// Keep going: the backoff manager is already retrying.
		log.Warn("initial connect failed, retrying in background", zap.Error(err))
	}

	client.SetRoomContext(types.RoomContext{
		TournamentID: cfg.tournamentID,
		FieldID:      cfg.fieldID,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.bind, cfg.port),
		Handler: httpapi.SetupRoutes(client),
	}
	go func() {
		log.Info("diagnostic endpoints listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case <-stop:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	log.Info("shutting down")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return cfg.Build()
}
