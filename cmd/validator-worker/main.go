// Copyright 2024 The go-equa Authors

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/adex-validators/validator-core/adapter"
	"github.com/adex-validators/validator-core/chainreader"
	"github.com/adex-validators/validator-core/config"
	"github.com/adex-validators/validator-core/driver"
)

var (
	configFlag = &cli.StringFlag{Name: "config", Usage: "path to TOML configuration file"}
	adapterFlag = &cli.StringFlag{Name: "adapter", Value: "ethereum", Usage: "identity backend: ethereum or dummy"}
	keystoreFileFlag = &cli.StringFlag{Name: "keystoreFile", Usage: "path to a go-ethereum keystore V3 JSON file"}
	dummyIdentityFlag = &cli.StringFlag{Name: "dummyIdentity", Usage: "20-byte hex seed for the dummy adapter's deterministic key; the node acts as that key's address"}
	sentryURLFlag = &cli.StringFlag{Name: "sentryUrl", Usage: "base URL of this node's own Sentry instance", Required: true}
	singleTickFlag = &cli.BoolFlag{Name: "singleTick", Usage: "process every discovered channel once and exit"}
	withCampaignsFlag = &cli.BoolFlag{Name: "withCampaigns", Usage: "also discover this node's campaigns every iteration (logged only, never ticked)"}
)

func main() {
	glogger := log.NewGlogHandler(log.NewTerminalHandler(os.Stderr, true))
	glogger.Verbosity(log.LvlInfo)
	log.SetDefault(log.NewLogger(glogger))

	app := &cli.App{
		Name:  "validator-worker",
		Usage: "runs the per-channel Leader/Follower tick loop against a Sentry instance",
		Flags: []cli.Flag{configFlag, adapterFlag, keystoreFileFlag, dummyIdentityFlag, sentryURLFlag, singleTickFlag, withCampaignsFlag},
		Action: run,
		Commands: []*cli.Command{
			logTestCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Error("validator-worker exited", "error", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	environment := os.Getenv("ENV")
	if environment == "" {
		environment = "development"
	}

	cfg, err := config.Load(environment, c.String("config"))
	if err != nil {
		log.Crit("loading configuration", "error", err)
	}

	a, err := buildAdapter(c, cfg)
	if err != nil {
		log.Crit("building adapter", "error", err)
	}

	if err := a.Unlock(context.Background()); err != nil {
		log.Crit("unlocking adapter", "error", err)
	}

	d := driver.New(a, cfg, c.String("sentryUrl"), log.Root()).WithCampaigns(c.Bool("withCampaigns"))

	if c.Bool("singleTick") {
		outcomes := d.RunOnce(context.Background())
		return summarizeOutcomes(outcomes)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal")
		cancel()
	}()

	if err := d.Run(ctx); err != nil && err != context.Canceled {
		log.Error("driver loop exited", "error", err)
		os.Exit(2)
	}
	return nil
}

func buildAdapter(c *cli.Context, cfg config.Config) (adapter.Adapter, error) {
	switch c.String("adapter") {
	case "dummy":
		identityHex := c.String("dummyIdentity")
		if identityHex == "" {
			return nil, fmt.Errorf("validator-worker: --dummyIdentity is required for the dummy adapter")
		}
		return adapter.NewDummy(common.HexToAddress(identityHex))

	case "ethereum":
		keystoreFile := c.String("keystoreFile")
		if keystoreFile == "" {
			return nil, fmt.Errorf("validator-worker: --keystoreFile is required for the ethereum adapter")
		}
		passphrase := os.Getenv("KEYSTORE_PWD")

		var chain adapter.ChannelChecker
		if cfg.EthereumNetwork != "" {
			r, err := chainreader.Dial(context.Background(), cfg.EthereumNetwork, common.HexToAddress(cfg.EthereumCoreAddress))
			if err != nil {
				return nil, fmt.Errorf("validator-worker: connecting to ethereum network: %w", err)
			}
			chain = r
		}
		return adapter.NewEthereum(keystoreFile, passphrase, cfg, chain)

	default:
		return nil, fmt.Errorf("validator-worker: unknown adapter %q", c.String("adapter"))
	}
}

func summarizeOutcomes(outcomes []driver.ChannelOutcome) error {
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			log.Error("channel tick failed", "channel", o.ChannelID, "role", o.Role, "error", o.Err)
		}
	}
	log.Info("single-tick run complete", "channels", len(outcomes), "failed", failed)
	if failed > 0 {
		os.Exit(2)
	}
	return nil
}
