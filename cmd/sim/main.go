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
	"cleanee/decision"
	"cleanee/engine"
	"cleanee/hardware"
	"cleanee/kinematics"
	"cleanee/logging"
	"cleanee/messaging"
	"cleanee/node"
	"cleanee/perception"
	"cleanee/session"
	"cleanee/store"
	"cleanee/www"
)

// CLI flags
var (
	configFlag   string
	logLevelFlag string
	portFlag     int
)

var rootCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run controller and robot together against a simulated world",
	Long: `Sim runs a controller and a robot in one process, connected through an
in-process broker, with simulated wheels, arm and distance sensor and a
scripted bottle for the detector. Broker settings are ignored; tuning is
read from the config file when present.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&configFlag, "config", "c", "sim.yaml", "path to config file")
	rootCmd.Flags().StringVar(&logLevelFlag, "log-level", "", "log level (overrides config)")
	rootCmd.Flags().IntVar(&portFlag, "port", 8080, "operator API port for the controller (0 disables)")
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
	if cmd.Flags().Changed("port") || !cfg.Has("web.port") {
		cfg.Web.Port = portFlag
	}
	logging.Init(cfg.LogLevel)
	applySimDefaults(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	broker := messaging.NewLoopback()
	const ctlID, robotID = "sim-controller", "sim-robot"

	// Robot side
	robotEng := engine.New(engine.Config{Role: engine.RoleRobot, LocalID: robotID})
	robotEng.Start()
	robotEp := broker.Connect(robotID, cfg.Topics.Connect, session.WillMessage(robotID))
	defer robotEp.Close()
	robotSess := session.New(robotEp, cfg.SessionConfig(robotID), robotEng.SessionEmitter())
	if err := robotSess.Start(); err != nil {
		return err
	}
	defer robotSess.Close()

	drive, arm := &hardware.SimDrive{}, &hardware.SimArm{}
	parts := hardware.Robot{Drive: drive, Sensor: hardware.NewSimSensor(100), Arm: arm}
	machine := control.New(cfg.ControlConfig(), parts, kinematics.New(cfg.Robot.MaxSpeed), robotEng.ControlEmitter(), control.Options{})
	rb := &node.Robot{Session: robotSess, Machine: machine, Engine: robotEng, ReportInterval: cfg.Session.ReportInterval}

	// Controller side
	ctlEng := engine.New(engine.Config{Role: engine.RoleController, LocalID: ctlID, DB: db})
	ctlEng.Start()
	ctlEp := broker.Connect(ctlID, cfg.Topics.Connect, session.WillMessage(ctlID))
	defer ctlEp.Close()
	ctlSess := session.New(ctlEp, cfg.SessionConfig(ctlID), ctlEng.SessionEmitter())
	if err := ctlSess.Start(); err != nil {
		return err
	}
	defer ctlSess.Close()

	world := newScene(drive, arm, cfg.Robot.MaxSpeed, 400, 300, cfg.Detection.PickupDistance)
	slot := perception.NewSlot()
	grabber := perception.NewGrabber(world, slot, perception.GrabberConfig{
		Interval: cfg.Detection.GrabInterval,
		Blackout: cfg.Detection.BottomBlackout,
	})
	ctl := &node.Controller{
		Session:       ctlSess,
		Decider:       decision.New(cfg.DecisionConfig(), ctlEng.DecisionEmitter()),
		Engine:        ctlEng,
		Slot:          slot,
		Detector:      world,
		FrameInterval: cfg.Detection.FrameInterval,
		RetryDelay:    cfg.Session.RetryInterval,
	}

	log.Info().Int("port", cfg.Web.Port).Msg("simulation starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rb.Run(gctx) })
	g.Go(func() error { return grabber.Run(gctx) })
	g.Go(func() error { return ctl.Run(gctx) })
	if cfg.Web.Port > 0 {
		router, stopWeb := www.NewRouter(ctlEng)
		defer stopWeb()
		g.Go(func() error { return node.Serve(gctx, fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port), router, stopWeb) })
	}
	err = g.Wait()
	log.Info().Msg("simulation stopped")
	return err
}

// applySimDefaults fills the keys a real deployment must configure.
func applySimDefaults(cfg *config.Config) {
	if cfg.Topics.Connect == "" {
		cfg.Topics.Connect = "topic/connect"
	}
	if cfg.Topics.ControlPrefix == "" {
		cfg.Topics.ControlPrefix = "topic/control"
	}
	if cfg.Detection.FailedThreshold < 1 {
		cfg.Detection.FailedThreshold = 5
	}
	if cfg.Detection.PickupDistance <= 0 {
		cfg.Detection.PickupDistance = 30
	}
}
