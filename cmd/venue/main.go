package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/duskpool/venue/internal/config"
	"github.com/duskpool/venue/pkg/api"
	"github.com/duskpool/venue/pkg/chain"
	venuecrypto "github.com/duskpool/venue/pkg/crypto"
	"github.com/duskpool/venue/pkg/executor"
	"github.com/duskpool/venue/pkg/ingestor"
	"github.com/duskpool/venue/pkg/ledger"
	"github.com/duskpool/venue/pkg/messages"
	"github.com/duskpool/venue/pkg/orderbook"
	"github.com/duskpool/venue/pkg/processor"
	"github.com/duskpool/venue/pkg/queue"
	"github.com/duskpool/venue/pkg/storage"
	"github.com/duskpool/venue/pkg/util"
)

// defaultConfirmations is the number of block confirmations EthClient
// waits for before treating a submission as settled. Not one of
// spec.md §6's enumerated fields; a devnet value, overridable by
// swapping in chain.NewFake for local runs.
const defaultConfirmations = 1

func main() {
	cfg, err := config.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logFile := cfg.LogFile
	if logFile == "" {
		logFile = "data/venue.log"
	}
	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("logger initialized", zap.String("log_file", logFile))

	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		logger.Fatal("failed to open storage", zap.Error(err))
	}
	defer store.Close()

	signer, err := venuecrypto.FromPrivateKeyHex(cfg.AdminSecretKey)
	if err != nil {
		logger.Fatal("failed to load admin signing key", zap.Error(err))
	}
	if !common.IsHexAddress(cfg.OrderbookContractID) {
		logger.Fatal("invalid orderbook_contract_id", zap.String("value", cfg.OrderbookContractID))
	}
	contract := common.HexToAddress(cfg.OrderbookContractID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ethClient, err := chain.NewEthClient(ctx, cfg.ChainRPCURL, contract, signer, defaultConfirmations)
	if err != nil {
		logger.Fatal("failed to connect to chain", zap.Error(err))
	}

	l := ledger.New(store)
	if err := l.Load(); err != nil {
		logger.Fatal("failed to load ledger", zap.Error(err))
	}
	book := orderbook.New(store)
	if err := book.Load(); err != nil {
		logger.Fatal("failed to load order book", zap.Error(err))
	}
	msgs := messages.New(store)
	if err := msgs.Load(); err != nil {
		logger.Fatal("failed to load messages", zap.Error(err))
	}

	incoming := queue.NewIncoming(256)
	outgoing := queue.NewOutgoing(256)

	var srv *api.Server

	ex := executor.New(l, book, msgs, incoming, outgoing, store, util.RealClock{}, logger.Named("executor"), func(t executor.Trade) {
		if srv != nil {
			srv.BroadcastTrade(t)
		}
	})
	if err := ex.Load(); err != nil {
		logger.Fatal("failed to load trade log", zap.Error(err))
	}

	ing := ingestor.New(ethClient, incoming, store, ingestor.Config{PollInterval: cfg.IngestorPollInterval}, logger.Named("ingestor"))
	if err := ing.Load(); err != nil {
		logger.Fatal("failed to load ingestor cursor", zap.Error(err))
	}

	backoff := processor.DefaultBackoff()
	backoff.Base = cfg.OutgoingBackoffInitial
	backoff.Cap = cfg.OutgoingBackoffCap
	backoff.MaxAttempts = cfg.OutgoingRetryMax
	proc := processor.New(outgoing, incoming, ethClient, backoff, logger.Named("processor"))

	srv = api.NewServer(incoming, l, msgs, ex, proc, ing, cfg.TimestampSkewWindow, util.RealClock{}, logger.Named("api"))

	go ex.Run(ctx)
	go ing.Run(ctx)
	go proc.Run(ctx)

	logger.Info("venue starting", zap.String("listen_addr", cfg.ListenAddr))
	go func() {
		if err := srv.Start(cfg.ListenAddr); err != nil {
			logger.Error("api server exited", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
}
