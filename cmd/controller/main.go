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
	"cleanee/decision"
	"cleanee/engine"
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
	Use:   "controller",
	Short: "Vision controller: steers a robot towards detected objects",
	Long: `The controller grabs frames from a camera snapshot URL, sends them to an
object-detection service and turns the results into motion instructions for
one robot, bound over MQTT with the init_con/con_ok handshake.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&configFlag, "config", "c", "controller.yaml", "path to config file")
	rootCmd.Flags().StringVar(&logLevelFlag, "log-level", "", "log level (overrides config)")
	rootCmd.Flags().IntVar(&portFlag, "port", 0, "operator API port (overrides config)")
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
	if err := cfg.Validate(config.RoleController); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	localID := cfg.LocalID(config.RoleController)

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

	eng := engine.New(engine.Config{Role: engine.RoleController, LocalID: localID, DB: db})
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

	det := cfg.Detection
	slot := perception.NewSlot()
	grabber := perception.NewGrabber(perception.NewHTTPSource(det.Source, 0), slot, perception.GrabberConfig{
		Interval: det.GrabInterval,
		Blackout: det.BottomBlackout,
		Width:    det.ResizeWidth,
	})
	var detector perception.Detector = perception.NewHTTPDetector(det.InferenceURL, perception.DetectorOptions{
		MinConfidence: det.MinConfidence,
		Labels:        det.Labels,
	})
	if det.InferenceURL == "" {
		log.Warn().Msg("detection.inference_url not set; every frame counts as a miss")
		detector = blindDetector{}
	}

	ctl := &node.Controller{
		Session:       sess,
		Decider:       decision.New(cfg.DecisionConfig(), eng.DecisionEmitter()),
		Engine:        eng,
		Slot:          slot,
		Detector:      detector,
		FrameInterval: det.FrameInterval,
		RetryDelay:    cfg.Session.RetryInterval,
	}

	log.Info().Str("local_id", localID).Str("broker", cfg.MessagingOptions(localID).BrokerURL()).Msg("controller starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return grabber.Run(gctx) })
	g.Go(func() error { return ctl.Run(gctx) })
	if cfg.Web.Port > 0 {
		router, stopWeb := www.NewRouter(eng)
		defer stopWeb()
		g.Go(func() error { return node.Serve(gctx, fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port), router, stopWeb) })
	}
	err = g.Wait()
	log.Info().Msg("shutting down")
	return err
}
