package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"cleanee/config"
	"cleanee/control"
	"cleanee/engine"
	"cleanee/hardware"
	"cleanee/kinematics"
	"cleanee/logging"
	"cleanee/messaging"
	"cleanee/node"
	"cleanee/session"
	"cleanee/store"
	"cleanee/www"
)

// CLI flags
var (
	configFlag   string
	logLevelFlag string
	portFlag     int
	distanceFlag float64
)

var rootCmd = &cobra.Command{
	Use:   "robot",
	Short: "Robot runtime: roams autonomously or follows a bound controller",
	Long: `The robot waits for a controller on the MQTT connection topic, applies the
instructions it sends, and roams on its own while unbound or when told to.

Motor and sensor drivers are supplied through the hardware interfaces; this
binary runs with simulated parts whose distance sensor reads --sim-distance.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&configFlag, "config", "c", "robot.yaml", "path to config file")
	rootCmd.Flags().StringVar(&logLevelFlag, "log-level", "", "log level (overrides config)")
	rootCmd.Flags().IntVar(&portFlag, "port", 0, "operator API port (overrides config)")
	rootCmd.Flags().Float64Var(&distanceFlag, "sim-distance", 100, "simulated distance sensor reading in cm")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	if portFlag > 0 {
		cfg.Web.Port = portFlag
	}
	logging.Init(cfg.LogLevel)
	if err := cfg.Validate(config.RoleRobot); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	localID := cfg.LocalID(config.RoleRobot)

	var db *store.DB
	if cfg.DatabasePath != "" {
		if db, err = store.Open(cfg.DatabasePath); err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		if cfg.LogRetention > 0 {
			if err := db.Prune(cfg.LogRetention); err != nil {
				log.Warn().Err(err).Msg("prune flight recorder")
			}
		}
	}

	eng := engine.New(engine.Config{Role: engine.RoleRobot, LocalID: localID, DB: db})
	eng.Start()

	client := messaging.NewClient(cfg.MessagingOptions(localID))
	defer client.Close()
	if err := client.Connect(ctx); err != nil {
		return err
	}

	sess := session.New(client, cfg.SessionConfig(localID), eng.SessionEmitter())
	if err := sess.Start(); err != nil {
		return err
	}
	defer sess.Close()

	machine := control.New(cfg.ControlConfig(), hardware.NewSimRobot(distanceFlag),
		kinematics.New(cfg.Robot.MaxSpeed), eng.ControlEmitter(), control.Options{})

	rb := &node.Robot{
		Session:        sess,
		Machine:        machine,
		Engine:         eng,
		ReportInterval: cfg.Session.ReportInterval,
	}

	log.Info().Str("local_id", localID).Str("mode", machine.Mode().String()).Msg("robot starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rb.Run(gctx) })
	if cfg.Web.Port > 0 {
		router, stopWeb := www.NewRouter(eng)
		defer stopWeb()
		g.Go(func() error { return node.Serve(gctx, fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port), router, stopWeb) })
	}
	err = g.Wait()
	log.Info().Msg("shutting down")
	return err
}
