// Command validator runs the red-team subnet validator core: the
// commit-reveal roster poll, challenge scoring, ledger accrual, and
// weight emission epoch cycle (spec section 4.F).
//
// Usage:
//
//	validator [flags]
//
// Flags:
//
//	--config   Path to a TOML configuration file (default: built-in defaults)
//	--version  Print version and exit
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tungdop2/RedTeam/internal/chainclient"
	"github.com/tungdop2/RedTeam/internal/commit"
	"github.com/tungdop2/RedTeam/internal/container"
	"github.com/tungdop2/RedTeam/internal/ledger"
	"github.com/tungdop2/RedTeam/internal/signer"
	"github.com/tungdop2/RedTeam/internal/storage"
	"github.com/tungdop2/RedTeam/internal/validator"
	"github.com/tungdop2/RedTeam/internal/vconfig"
	"github.com/tungdop2/RedTeam/internal/vlog"
	"github.com/tungdop2/RedTeam/internal/vmetrics"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.gitCommit=abc1234"
var (
	version   = "v0.1.0-dev"
	gitCommit = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// cliFlags is the small set of CLI-overridable knobs; everything else
// lives in the TOML file loaded from configPath (spec section 6).
type cliFlags struct {
	configPath string
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	flags, exit, code := parseFlags(args)
	if exit {
		return code
	}

	cfg, err := vconfig.Load(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	logger := vlog.New(vlog.LevelFromString(cfg.Log.Level), vlog.FormatFromString(cfg.Log.Format))
	vlog.SetDefault(logger)

	logger.Info("validator starting", "version", version, "commit", gitCommit,
		"netuid", cfg.NetUID, "challenges", len(cfg.Challenges),
		"centralized_scoring", cfg.UseCentralizedScoring)

	wallet, err := buildWallet(cfg)
	if err != nil {
		logger.Error("failed to build wallet", "err", err)
		return 1
	}
	logger.Info("wallet ready", "address", wallet.Address())

	chain := chainclient.NewHTTPChain(cfg.Chain.RPCURL, cfg.Constants.QueryTimeout)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), cfg.Constants.QueryTimeout)
	defer cancelStartup()
	if err := checkRegistrationAndStake(startupCtx, chain, wallet.Address(), cfg.Constants.MinValidatorStake); err != nil {
		logger.Error("startup check failed", "err", err)
		return 1
	}

	engine, err := container.NewDockerEngine()
	if err != nil {
		logger.Error("failed to connect to docker", "err", err)
		return 1
	}

	mgr, closeStorage, err := buildStorageManager(cfg)
	if err != nil {
		logger.Error("failed to build storage manager", "err", err)
		return 1
	}
	defer closeStorage()

	challengeNames := make([]string, 0, len(cfg.Challenges))
	for _, c := range cfg.Challenges {
		challengeNames = append(challengeNames, c.Name)
	}

	loop := validator.New(cfg, validator.Deps{
		Chain:    chain,
		Wallet:   wallet,
		Engine:   engine,
		Registry: commit.NewRegistry(challengeNames),
		Ledger:   ledger.New(),
		Storage:  mgr,
	})

	metricsSrv := startMetricsServer(cfg.MetricsAddr)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsSrv.Shutdown(shutdownCtx)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig.String())

	cancel()
	loop.Stop()
	<-loopDone

	logger.Info("shutdown complete")
	return 0
}

// buildWallet loads the validator's signing key from cfg.Chain.WalletKeyFile,
// or generates an ephemeral one when no key file is configured (local/dev
// runs only -- a restart then changes the validator's on-chain identity).
func buildWallet(cfg vconfig.Config) (*signer.LocalWallet, error) {
	if cfg.Chain.WalletKeyFile != "" {
		return signer.LoadLocalWallet(cfg.Chain.WalletKeyFile)
	}
	vlog.Default().Warn("no wallet_key_file configured, generating an ephemeral wallet")
	return signer.GenerateLocalWallet()
}

// checkRegistrationAndStake implements spec section 7's fatal startup
// checks: the wallet must be registered on the subnet, and staked above
// MinValidatorStake unless that requirement has been disabled (a negative
// threshold, as ApplyTestnetOverrides sets under TESTNET).
func checkRegistrationAndStake(ctx context.Context, chain chainclient.Chain, address string, minStake int64) error {
	registered, err := chain.IsRegistered(ctx, address)
	if err != nil {
		return fmt.Errorf("check registration: %w", err)
	}
	if !registered {
		return fmt.Errorf("wallet %s is not registered on the subnet", address)
	}
	if minStake < 0 {
		return nil
	}
	stake, err := chain.Stake(ctx, address)
	if err != nil {
		return fmt.Errorf("check stake: %w", err)
	}
	if stake < minStake {
		return fmt.Errorf("wallet %s stake %d below minimum %d", address, stake, minStake)
	}
	return nil
}

// buildStorageManager wires the three storage tiers (spec section 4.E):
// an always-present local bbolt cache, an optional HF Hub client when an
// hf_repo_id is configured, and the central HTTP API.
func buildStorageManager(cfg vconfig.Config) (mgr *storage.Manager, closeFn func(), err error) {
	l0, err := storage.OpenLocalCache(cfg.CacheDir + "/l0.db")
	if err != nil {
		return nil, nil, fmt.Errorf("open local cache: %w", err)
	}

	var l1 *storage.HubClient
	if cfg.HFRepoID != "" {
		l1 = storage.NewHubClient("https://huggingface.co", cfg.HFRepoID, os.Getenv("HF_TOKEN"))
		hubCtx, cancelHub := context.WithTimeout(context.Background(), 30*time.Second)
		err := l1.EnsureRepo(hubCtx)
		cancelHub()
		if err != nil {
			l0.Close()
			return nil, nil, fmt.Errorf("check hub repo: %w", err)
		}
	}

	l2 := storage.NewCentralClient(cfg.StorageURL)

	mgr = storage.NewManager(l0, l1, l2, 4)
	return mgr, func() { l0.Close() }, nil
}

// startMetricsServer serves the Prometheus exporter on addr in the
// background; a disabled/empty addr returns an already-idle server so
// callers can Shutdown it unconditionally.
func startMetricsServer(addr string) *http.Server {
	exporter := vmetrics.NewPrometheusExporter(vmetrics.DefaultRegistry, vmetrics.DefaultPrometheusConfig())
	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	if addr == "" {
		return srv
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			vlog.Default().Error("metrics server failed", "err", err)
		}
	}()
	return srv
}

// parseFlags parses CLI arguments into cliFlags. Returns the flags,
// whether the caller should exit immediately, and the exit code.
func parseFlags(args []string) (cliFlags, bool, int) {
	var flags cliFlags
	fs := newCustomFlagSet("validator")
	fs.StringVar(&flags.configPath, "config", "", "path to a TOML configuration file")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return flags, true, 2
	}

	if *showVersion {
		fmt.Printf("validator %s (commit %s)\n", version, gitCommit)
		return flags, true, 0
	}

	return flags, false, 0
}
