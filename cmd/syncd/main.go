package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/partyware/go-partysync/internal/api"
	"github.com/partyware/go-partysync/internal/chat"
	"github.com/partyware/go-partysync/internal/config"
	"github.com/partyware/go-partysync/internal/database"
	"github.com/partyware/go-partysync/internal/dispatch"
	"github.com/partyware/go-partysync/internal/exchange"
	"github.com/partyware/go-partysync/internal/notify"
	"github.com/partyware/go-partysync/internal/payment"
	"github.com/partyware/go-partysync/internal/reconcile"
	"github.com/partyware/go-partysync/internal/stats"
	"github.com/partyware/go-partysync/internal/store"
	"github.com/partyware/go-partysync/internal/transport"
	"github.com/partyware/go-partysync/internal/upload"
)

const hydrateLimit = 200

var (
	envFile   string
	apiAddr   string
	socketUrl string
)

// logNotifier stands in for the AMQP notifier when no broker is
// configured: shortages are still visible in the daemon log.
type logNotifier struct {
	log *log.Logger
}

func (n *logNotifier) NotifyTopUp(_ context.Context, req notify.TopUpRequest) error {
	n.log.Printf("top-up needed: %s rail short %.2f %s for party %s", req.Rail, req.Amount, req.Currency, req.PartyId)
	return nil
}

func (n *logNotifier) Close() error { return nil }

// hydrateConversations primes the store with recent archived messages
// so conversations have history before the first server event lands.
func hydrateConversations(logger *log.Logger, st *store.Store, archive database.ArchiveRepository) {
	msgs, err := archive.RecentMessages(st.UserId(), hydrateLimit)
	if err != nil {
		logger.Println("hydrate conversations:", err)
		return
	}
	for _, m := range msgs {
		st.AppendMessage(m)
	}
	logger.Printf("hydrated %d archived messages", len(msgs))
}

func main() {
	flag.StringVar(&envFile, "env-file", "", "optional env file to load before reading config")
	flag.StringVar(&apiAddr, "api-addr", "", "api listen address, overrides PARTYSYNC_API_ADDR")
	flag.StringVar(&socketUrl, "socket-url", "", "party server socket url, overrides PARTYSYNC_SOCKET_URL")
	flag.Parse()

	logger := log.New(os.Stderr, "[partysync] ", log.LstdFlags)

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			logger.Fatal("load env file:", err)
		}
	}

	if apiAddr != "" {
		os.Setenv("PARTYSYNC_API_ADDR", apiAddr)
	}
	if socketUrl != "" {
		os.Setenv("PARTYSYNC_SOCKET_URL", socketUrl)
	}

	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatal("config:", err)
	}

	var archive database.ArchiveRepository
	if cfg.ArchiveDSN != "" {
		repo, err := database.NewPgArchiveRepository(cfg.ArchiveDSN)
		if err != nil {
			logger.Fatal("archive open:", err)
		}
		archive = repo
		defer func() {
			if err := repo.Close(); err != nil {
				logger.Println("archive close:", err)
			}
		}()
	}

	var notifier notify.OperatorNotifier
	if cfg.AmqpUrl != "" {
		n, err := notify.NewAMQPNotifier(logger, cfg.AmqpUrl)
		if err != nil {
			logger.Fatal("amqp connect:", err)
		}
		notifier = n
	} else {
		notifier = &logNotifier{log: logger}
	}
	defer func() {
		if err := notifier.Close(); err != nil {
			logger.Println("notifier close:", err)
		}
	}()

	tr, err := transport.Dial(cfg.SocketUrl, nil, logger)
	if err != nil {
		logger.Fatal("socket dial:", err)
	}

	debugMux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(debugMux)

	st := store.NewStore(logger, cfg.UserId)
	if archive != nil {
		hydrateConversations(logger, st, archive)
	}

	dispatcher := dispatch.NewDispatcher(logger, st, tr, statsUpdater, upload.NewHTTPUploader(cfg.UploadUrl))
	chatEngine := chat.NewEngine(logger, st, dispatcher, statsUpdater)

	gateways := make(map[payment.Rail]payment.Gateway)
	if cfg.CardGatewayUrl != "" {
		gateways[payment.RailCard] = payment.NewHTTPGateway(logger, cfg.CardGatewayUrl, payment.RailCard)
	}
	if cfg.CryptoGatewayUrl != "" {
		gateways[payment.RailCrypto] = payment.NewHTTPGateway(logger, cfg.CryptoGatewayUrl, payment.RailCrypto)
	}
	coordinator := exchange.NewCoordinator(logger, st, dispatcher, gateways, notifier)

	reconciler := reconcile.NewReconciler(logger, st, tr, dispatcher, chatEngine, archive, statsUpdater)

	app := api.NewSyncApp(logger, st, dispatcher, coordinator, chatEngine, debugMux, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go reconciler.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("api server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := app.Shutdown(shutDownCtx); err != nil {
		logger.Println("api server shutdown:", err)
	}

	logger.Println("closing socket...")
	if err := tr.Close(); err != nil {
		logger.Println("socket close:", err)
	}

	select {
	case <-reconciler.Done():
	case <-shutDownCtx.Done():
		logger.Println("timed out waiting for reconciler to drain")
	}

	dispatcher.Stop()
	chatEngine.Stop()
	st.Close()

	logger.Println("shutdown complete")
}
