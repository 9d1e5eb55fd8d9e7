package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Numanur/AFIS-fingerprint-identification/internal/afis"
	"github.com/Numanur/AFIS-fingerprint-identification/internal/config"
	"github.com/Numanur/AFIS-fingerprint-identification/internal/engine"
	"github.com/Numanur/AFIS-fingerprint-identification/internal/gallery"
	"github.com/Numanur/AFIS-fingerprint-identification/internal/journal"
	"github.com/Numanur/AFIS-fingerprint-identification/internal/logging"
	"github.com/Numanur/AFIS-fingerprint-identification/internal/server"
)

// runtimeDeps is everything a subcommand needs after bootstrap.
type runtimeDeps struct {
	cfg     *config.Config
	log     *slog.Logger
	svc     *afis.Service
	store   *gallery.Store
	journal *journal.Journal
}

func newRootCommand() *cobra.Command {
	var configFlag string

	root := &cobra.Command{
		Use:           "afisd",
		Short:         "Fingerprint capture and identification service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "path to afisd.toml")

	root.AddCommand(newServeCommand(&configFlag))
	root.AddCommand(newEnrollCommand(&configFlag))
	root.AddCommand(newCalibrateCommand(&configFlag))
	root.AddCommand(newClearCommand(&configFlag))

	return root
}

// bootstrap loads configuration and wires the service graph shared by all
// subcommands.
func bootstrap(configPath string) (*runtimeDeps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	log, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Dir:    cfg.Paths.LogDir,
	})
	if err != nil {
		return nil, err
	}

	var eng engine.Engine
	switch cfg.Engine.Mode {
	case "cli":
		eng = engine.NewCLI(cfg.Engine.Binary)
	default:
		eng = engine.NewEmbedded(cfg.Engine.DefaultThreshold, log)
	}

	j, err := journal.Open(cfg.Paths.JournalFile)
	if err != nil {
		// The journal is advisory; run without it rather than refusing
		// to start.
		log.Warn("journal unavailable", "path", cfg.Paths.JournalFile, "error", err)
		j = nil
	}

	thresholds := afis.NewThresholdStore(cfg.Paths.ThresholdFile, cfg.Engine.DefaultThreshold, log)
	svc := afis.New(cfg, eng, thresholds, j, log)

	return &runtimeDeps{
		cfg:     cfg,
		log:     log,
		svc:     svc,
		store:   gallery.NewStore(cfg.Paths.GalleryDir),
		journal: j,
	}, nil
}

func newServeCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP capture and identification service",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := bootstrap(*configFlag)
			if err != nil {
				return err
			}
			defer deps.journal.Close()
			return server.New(deps.cfg, deps.svc, deps.store, deps.journal, deps.log).Listen()
		},
	}
}

func newEnrollCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "enroll",
		Short: "Rebuild templates for every enrolled identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := bootstrap(*configFlag)
			if err != nil {
				return err
			}
			defer deps.journal.Close()
			out, err := deps.svc.Enroll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func newCalibrateCommand(configFlag *string) *cobra.Command {
	var far float64
	var persist bool

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Compute a decision threshold from the impostor distribution",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := bootstrap(*configFlag)
			if err != nil {
				return err
			}
			defer deps.journal.Close()
			if far == 0 {
				far = deps.cfg.Engine.TargetFAR
			}
			res, err := deps.svc.Calibrate(cmd.Context(), far, persist)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"suggested threshold %.3f at FAR %g (%d impostor pairs), in use: %.3f\n",
				res.SuggestedThreshold, res.TargetFAR, res.ImpostorPairs,
				deps.svc.Thresholds.Current())
			return nil
		},
	}
	cmd.Flags().Float64Var(&far, "far", 0, "target false-accept rate (defaults to config)")
	cmd.Flags().BoolVar(&persist, "persist", false, "adopt and persist the suggested threshold")
	return cmd
}

func newClearCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete and recreate the template database",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := bootstrap(*configFlag)
			if err != nil {
				return err
			}
			defer deps.journal.Close()
			if err := deps.svc.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "template database cleared")
			return nil
		},
	}
}
