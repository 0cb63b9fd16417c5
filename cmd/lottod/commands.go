package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/logger"
	"github.com/spf13/cobra"

	"github.com/tolelom/lottochain/config"
	"github.com/tolelom/lottochain/internal/logging"
	"github.com/tolelom/lottochain/node"
	"github.com/tolelom/lottochain/storage"
	"github.com/tolelom/lottochain/wallet"
)

// passwordEnv names the keystore password variable (not a CLI flag: flags
// leak via ps).
const passwordEnv = "LOTTO_PASSWORD"

type globalFlags struct {
	config string
	key    string
}

func rootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "lottod",
		Short:         "Multi-round lottery chain node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.config, "config", "config.toml", "path to config file (.toml, .yaml or .json)")
	root.PersistentFlags().StringVar(&g.key, "key", "validator.key", "path to keystore file")

	root.AddCommand(runCmd(&g), initCmd(&g), genkeyCmd(&g), drawCmd(&g))
	return root
}

func password() string {
	pw := os.Getenv(passwordEnv)
	if pw == "" {
		logger.Warningf("%s not set; keystore uses an empty password", passwordEnv)
	}
	return pw
}

func genkeyCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "genkey",
		Short: "Generate a validator key and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(g.key); err == nil {
				return fmt.Errorf("keystore %s already exists", g.key)
			}
			w, err := wallet.Generate()
			if err != nil {
				return err
			}
			if err := wallet.SaveKey(g.key, password(), w.PrivKey()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated key. Public key (validator address): %s\nSaved to: %s\n", w.PubKey(), g.key)
			return nil
		},
	}
}

func initCmd(g *globalFlags) *cobra.Command {
	var (
		chainID string
		supply  uint64
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a single-validator config for the local key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(g.config); err == nil {
				return fmt.Errorf("config %s already exists", g.config)
			}
			w, created, err := wallet.LoadOrCreate(g.key, password())
			if err != nil {
				return fmt.Errorf("load key: %w", err)
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "Generated key %s\n", g.key)
			}
			cfg := config.DefaultConfig()
			cfg.Genesis.ChainID = chainID
			cfg.Validators = []string{w.PubKey()}
			cfg.Genesis.Platform = w.PubKey()
			cfg.Genesis.Alloc[w.PubKey()] = supply
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(cfg, g.config); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s for validator %s\n", g.config, w.PubKey())
			return nil
		},
	}
	cmd.Flags().StringVar(&chainID, "chain-id", "lottochain-dev", "chain identifier")
	cmd.Flags().Uint64Var(&supply, "supply", 1_000_000_000, "genesis balance of the validator")
	return cmd
}

func drawCmd(g *globalFlags) *cobra.Command {
	var (
		lotteryID string
		round     uint64
	)
	cmd := &cobra.Command{
		Use:   "draw",
		Short: "Print the signed randomness this key submits for a round",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if lotteryID == "" {
				return errors.New("--lottery is required")
			}
			priv, err := wallet.LoadKey(g.key, password())
			if err != nil {
				return fmt.Errorf("load key: %w", err)
			}
			r, sig := wallet.New(priv).DrawRandomness(lotteryID, round)
			fmt.Fprintf(cmd.OutOrStdout(), "randomness: %s\nsignature:  %s\n", r, sig)
			return nil
		},
	}
	cmd.Flags().StringVar(&lotteryID, "lottery", "", "lottery id")
	cmd.Flags().Uint64Var(&round, "round", 0, "round number")
	return cmd
}

func runCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g.config)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			l := logging.Setup("lottod", cfg.Log)
			defer l.Close()

			privKey, err := wallet.LoadKey(g.key, password())
			if err != nil {
				return fmt.Errorf("load key: %w", err)
			}
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return fmt.Errorf("mkdir data dir: %w", err)
			}
			db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chain"))
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()

			n, err := node.New(cfg, db, privKey)
			if err != nil {
				return err
			}
			if err := n.Start(); err != nil {
				return err
			}
			if cfg.RPC.AuthToken != "" {
				logger.Info("RPC bearer token authentication enabled")
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			logger.Info("Shutting down...")
			if err := n.Stop(); err != nil {
				logger.Errorf("rpc stop: %v", err)
			}
			logger.Info("Shutdown complete.")
			return nil
		},
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warningf("config file not found at %s, using defaults", path)
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}
