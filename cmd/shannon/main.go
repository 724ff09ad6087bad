package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/songzhibin97/shannon/internal/configs"
	"github.com/songzhibin97/shannon/internal/daemon"
	"github.com/songzhibin97/shannon/internal/data"
	"github.com/songzhibin97/shannon/internal/data/storage"
	"github.com/songzhibin97/shannon/internal/models"
	"github.com/songzhibin97/shannon/internal/rebalance"
	"github.com/songzhibin97/shannon/internal/risk"
	"github.com/songzhibin97/shannon/internal/tracker"
	"github.com/songzhibin97/shannon/internal/trading"
	"github.com/songzhibin97/shannon/internal/trading/binance"
	"github.com/songzhibin97/shannon/internal/trading/gmo"
	"github.com/songzhibin97/shannon/internal/trading/simulation"
	"github.com/songzhibin97/shannon/internal/utils/logging"
)

var confFlag = &cli.StringFlag{
	Name:     "conf",
	Aliases:  []string{"c"},
	Usage:    "config path, eg: --conf configs/shannon.yaml",
	Required: true,
}

func main() {
	app := &cli.App{
		Name:  "shannon",
		Usage: "equal-weight rebalancing daemon",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the rebalancing loop",
				Flags: []cli.Flag{
					confFlag,
					&cli.BoolFlag{Name: "dry-run", Usage: "fill orders in the simulation adapter instead of the exchange"},
					&cli.BoolFlag{Name: "once", Usage: "run a single cycle and exit"},
				},
				Action: runAction,
			},
			{
				Name:   "plan",
				Usage:  "run one read-only cycle and print the orders it would post",
				Flags:  []cli.Flag{confFlag},
				Action: planAction,
			},
			{
				Name:  "history",
				Usage: "print journaled portfolio snapshots",
				Flags: []cli.Flag{
					confFlag,
					&cli.DurationFlag{Name: "since", Value: 24 * time.Hour, Usage: "how far back to look"},
				},
				Action: historyAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// system 组件集合
type system struct {
	config  *configs.Config
	logger  *zap.SugaredLogger
	daemon  *daemon.Daemon
	storage data.SnapshotStorage
}

func (s *system) Close() {
	if err := s.storage.Close(); err != nil {
		s.logger.Warnw("failed to close storage", "err", err)
	}
	_ = s.logger.Sync()
}

func runAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sys, err := setup(ctx, c.String("conf"), c.Bool("dry-run"))
	if err != nil {
		return err
	}
	defer sys.Close()

	if !c.Bool("once") {
		return sys.daemon.Run(ctx)
	}

	res := sys.daemon.RunCycle(ctx)
	printResult(res)
	if res.Err != nil && !res.Skipped() {
		return res.Err
	}
	return nil
}

func planAction(c *cli.Context) error {
	// market reads go to the live adapter, orders to the simulation
	sys, err := setup(c.Context, c.String("conf"), true)
	if err != nil {
		return err
	}
	defer sys.Close()

	res := sys.daemon.Plan(c.Context)
	printResult(res)
	if res.Err != nil && !res.Skipped() {
		return res.Err
	}
	return nil
}

func historyAction(c *cli.Context) error {
	config, err := configs.Load(c.String("conf"))
	if err != nil {
		return err
	}
	if config.Database.ConnStr == "" {
		return fmt.Errorf("database.conn_str is not configured")
	}

	store, err := storage.NewPostgresStorage(c.Context, config.Database.ConnStr)
	if err != nil {
		return err
	}
	defer store.Close()

	end := time.Now()
	snaps, err := store.GetSnapshots(c.Context, config.Exchange.Name, end.Add(-c.Duration("since")), end)
	if err != nil {
		return err
	}
	for _, snap := range snaps {
		fmt.Printf("%s total=%.2f entropy=%.6f proposed=%.6f orders=%d\n",
			snap.TakenAt.Format(time.RFC3339), snap.TotalValue, snap.Entropy, snap.ProposedEntropy, snap.Orders)
		for _, h := range snap.Holdings {
			fmt.Printf("  %-6s amount=%v price=%v value=%.2f\n", h.Symbol, h.Amount, h.Price, h.Value)
		}
	}
	return nil
}

func setup(ctx context.Context, path string, dryRun bool) (*system, error) {
	config, err := configs.Load(path)
	if err != nil {
		return nil, err
	}
	config.DryRun = config.DryRun || dryRun

	logger, err := logging.NewLogger(config.LogLevel, config.LogFile)
	if err != nil {
		return nil, err
	}

	if config.Proxy != "" {
		_ = os.Setenv("HTTP_PROXY", config.Proxy)
		_ = os.Setenv("HTTPS_PROXY", config.Proxy)
		logger.Debugw("set proxy ok", "proxy", config.Proxy)
	}

	quant, err := config.Quantization()
	if err != nil {
		return nil, err
	}
	engine, err := rebalance.NewEngine(config.Symbols, config.SettlementSymbol, quant,
		rebalance.WithTimeInForce(trading.TimeInForce(config.TimeInForce)))
	if err != nil {
		return nil, err
	}

	exchange, err := NewExchange(config, logger)
	if err != nil {
		return nil, err
	}
	logger.Infow("init exchange", "exchange", config.Exchange.Name, "dry_run", config.DryRun)

	pacing, err := config.OrderPacingDuration()
	if err != nil {
		return nil, err
	}
	delay, err := config.CycleDelayDuration()
	if err != nil {
		return nil, err
	}

	riskManager := risk.NewBasicRiskManager(config.RiskParams)
	t := tracker.New(exchange, logger, tracker.WithPacing(pacing), tracker.WithRiskManager(riskManager))

	var store data.SnapshotStorage = storage.NopStorage{}
	if config.Database.ConnStr != "" {
		pg, err := storage.NewPostgresStorage(ctx, config.Database.ConnStr)
		if err != nil {
			return nil, err
		}
		store = pg
		logger.Debugw("init storage")
	}

	d := daemon.New(exchange, engine, t, logger,
		daemon.WithStorage(store),
		daemon.WithCycleDelay(delay),
		daemon.WithOrderbookPrices(config.PriceSource == configs.PriceSourceOrderbook),
	)

	return &system{config: config, logger: logger, daemon: d, storage: store}, nil
}

// NewExchange builds the adapter named by the config. In dry-run mode the
// live adapter only serves market reads and orders fill in the simulation.
func NewExchange(config *configs.Config, logger logging.Logger) (trading.Exchange, error) {
	ex := config.Exchange

	name := ex.Name
	if name == configs.ExchangeSimulation {
		name = ex.Market
	}

	var live trading.Exchange
	switch name {
	case configs.ExchangeGMO:
		live = gmo.NewClient(ex.APIKey, ex.SecretKey, gmo.WithLogger(logger))
	case configs.ExchangeBinance:
		live = binance.NewBinanceExecutor(ex.APIKey, ex.SecretKey, config.SettlementSymbol, ex.Debug)
	case "":
	default:
		return nil, fmt.Errorf("unknown exchange %q", name)
	}

	if ex.Name != configs.ExchangeSimulation && !config.DryRun {
		return live, nil
	}

	var opts []simulation.Option
	if live != nil {
		opts = append(opts, simulation.WithMarket(live))
	}
	if len(ex.InitialAssets) > 0 {
		assets := make(map[string]models.Asset, len(ex.InitialAssets))
		for s, amount := range ex.InitialAssets {
			assets[s] = models.Asset{Symbol: s, Amount: amount, Available: amount}
		}
		opts = append(opts, simulation.WithAssets(assets))
	}
	return simulation.New(config.SettlementSymbol, opts...), nil
}

func printResult(res *daemon.CycleResult) {
	fmt.Printf("stage: %s\n", res.Stage)
	if res.Err != nil {
		fmt.Printf("error: %v\n", res.Err)
	}
	if res.Plan != nil {
		if res.Plan.Current != nil {
			fmt.Printf("total value: %.2f\n", res.Plan.Current.Total)
		}
		fmt.Printf("entropy: %.6f -> %.6f (worthwhile: %t)\n",
			res.Plan.Entropy, res.Plan.ProposedEntropy, res.Plan.Worthwhile())
		for _, o := range res.Plan.Orders {
			fmt.Printf("  %s\n", o)
		}
	}
	for _, o := range res.Submitted {
		fmt.Printf("submitted %s %s\n", o.ID, o)
	}
	for _, err := range res.Rejected {
		fmt.Printf("rejected: %v\n", err)
	}
}
