package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hospitalops/hospital/internal/config"
	"github.com/hospitalops/hospital/internal/domain/appointment"
	"github.com/hospitalops/hospital/internal/domain/identity"
	"github.com/hospitalops/hospital/internal/platform/auth"
	"github.com/hospitalops/hospital/internal/platform/db"
	"github.com/hospitalops/hospital/internal/platform/middleware"
	"github.com/hospitalops/hospital/internal/platform/outbox"
	"github.com/hospitalops/hospital/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hospital-server",
		Short: "Hospital operations API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(relayCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(managerCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// loadConfig loads and validates configuration for every subcommand.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openMigrator(ctx context.Context, cfg *config.Config) (*db.Migrator, func(), error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return nil, nil, err
	}
	var files fs.FS = migrations.FS
	if cfg.MigrationsDir != "" {
		files = os.DirFS(cfg.MigrationsDir)
	}
	return db.NewMigrator(pool, files), pool.Close, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServer(cfg, newLogger(cfg))
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			migrator, closePool, err := openMigrator(ctx, cfg)
			if err != nil {
				return err
			}
			defer closePool()

			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			migrator, closePool, err := openMigrator(ctx, cfg)
			if err != nil {
				return err
			}
			defer closePool()

			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func relayCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Deliver outbox events to Kafka and mail",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
			if err != nil {
				return err
			}
			defer pool.Close()

			sinks, closeSinks := buildSinks(cfg, logger)
			defer closeSinks()
			if len(sinks) == 0 {
				logger.Warn().Msg("no sinks configured; events will be marked processed without delivery")
			}

			relay := outbox.NewRelay(outbox.NewStore(pool), sinks, outbox.RelayOptions{
				PollInterval:    cfg.OutboxPollInterval,
				BatchSize:       cfg.OutboxBatchSize,
				MaxRetries:      cfg.OutboxMaxRetries,
				DeliveryTimeout: cfg.OutboxDeliveryTimeout,
			}, logger)

			if once {
				n, err := relay.RunOnce(ctx)
				if err != nil {
					return err
				}
				logger.Info().Int("events", n).Msg("relay pass complete")
				return nil
			}
			logger.Info().Msg("outbox relay started")
			return relay.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Process one batch and exit")
	return cmd
}

// buildSinks returns the sinks enabled by configuration and a func closing
// those that hold connections.
func buildSinks(cfg *config.Config, logger zerolog.Logger) ([]outbox.Sink, func()) {
	var (
		sinks   []outbox.Sink
		closers []func() error
	)
	if cfg.KafkaEnabled() {
		k := outbox.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		sinks = append(sinks, k)
		closers = append(closers, k.Close)
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("kafka sink enabled")
	}
	if cfg.MailEnabled() {
		sinks = append(sinks, outbox.NewMailSink(outbox.MailConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}))
		logger.Info().Str("host", cfg.SMTPHost).Msg("mail sink enabled")
	}
	return sinks, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn().Err(err).Msg("closing sink")
			}
		}
	}
}

func tokenCmd() *cobra.Command {
	var userID, role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token (development helper)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.IsDev() {
				return fmt.Errorf("token minting is only available when ENV=development")
			}
			tok, exp, err := mintToken(cfg, userID, role)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n# expires %s\n", tok, exp.Format("2006-01-02 15:04:05Z07:00"))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id (uuid) to put in the sub claim")
	cmd.Flags().StringVar(&role, "role", string(identity.RoleCustomer), "Customer, Doctor or Manager")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func managerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manager",
		Short: "Manage staff accounts",
	}

	var acc identity.StaffAccount
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a Manager account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if acc.Password == "" {
				acc.Password = os.Getenv("MANAGER_PASSWORD")
			}
			if err := middleware.NewValidator().Validate(&acc); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			pool, err := db.NewPool(cmd.Context(), cfg.DatabaseURL, db.PoolOptions{MaxConns: 2, MinConns: 1})
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := identity.NewService(identity.NewUserRepo(pool), identity.NewPatientRepo(pool),
				identity.NewDoctorRepo(pool), identity.NewSpecialtyRepo(pool), db.NewTxRunner(pool),
				nil, appointment.NewRepo(pool), logger)
			u, err := svc.CreateManager(cmd.Context(), acc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "manager %s created (%s)\n", u.ID, u.Email)
			return nil
		},
	}
	create.Flags().StringVar(&acc.FullName, "name", "", "Full name")
	create.Flags().StringVar(&acc.Email, "email", "", "Login email")
	create.Flags().StringVar(&acc.PhoneNumber, "phone", "", "Phone number")
	create.Flags().StringVar(&acc.Password, "password", "", "Password (defaults to $MANAGER_PASSWORD)")
	_ = create.MarkFlagRequired("email")

	cmd.AddCommand(create)
	return cmd
}

func mintToken(cfg *config.Config, userID, role string) (string, time.Time, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return "", time.Time{}, fmt.Errorf("--user must be a uuid: %w", err)
	}
	if !identity.Role(role).Valid() {
		return "", time.Time{}, fmt.Errorf("unknown role %q", role)
	}
	return auth.NewTokenIssuer(cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL).Issue(userID, role)
}
