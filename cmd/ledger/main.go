package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	grpcprom "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	grpc_adapter "github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/adapter/in/grpc"
	kafka_adapter "github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/adapter/out/kafka"
	memory_adapter "github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/adapter/out/memory"
	mysql_adapter "github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/adapter/out/mysql"
	nats_adapter "github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/adapter/out/nats"
	postgres_adapter "github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/adapter/out/postgres"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/usecase"
	"github.com/JoeShih716/go-wallet-ledger/internal/config"
	"github.com/JoeShih716/go-wallet-ledger/pkg/logger"
	"github.com/JoeShih716/go-wallet-ledger/pkg/mysql"
	"github.com/JoeShih716/go-wallet-ledger/pkg/postgres"
	"github.com/JoeShih716/go-wallet-ledger/pkg/wal"
)

const serviceName = "wallet-ledger"

// closer 依建立的相反順序關閉資源
type closer []func() error

func (c *closer) add(fn func() error) { *c = append(*c, fn) }

func (c *closer) closeAll(log zerolog.Logger) {
	for i := len(*c) - 1; i >= 0; i-- {
		if err := (*c)[i](); err != nil {
			log.Warn().Err(err).Msg("close resource failed")
		}
	}
}

// storage 組裝後的儲存層
type storage struct {
	store     usecase.Store
	directory usecase.UserDirectory
	// verifyUsers 開戶時是否檢查使用者存在
	verifyUsers bool
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	// 1. 載入設定
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewWithConfig(serviceName, cfg.Log)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("service exited with error")
	}
	log.Info().Msg("service shut down")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	var resources closer
	defer resources.closeAll(log)

	// 2. 儲存層
	st, err := buildStorage(mainCtx, cfg, log, &resources)
	if err != nil {
		return err
	}

	// 3. 事件發布
	publisher, err := buildPublisher(cfg, log, &resources)
	if err != nil {
		return err
	}

	limits, err := cfg.Ledger.Limits()
	if err != nil {
		return err
	}

	// 4. UseCase
	metrics := usecase.NewMetrics(prometheus.DefaultRegisterer)
	opts := []usecase.Option{
		usecase.WithMetrics(metrics),
		usecase.WithDefaultLimits(limits),
	}
	if publisher != nil {
		opts = append(opts, usecase.WithPublisher(publisher))
	}
	if st.verifyUsers {
		opts = append(opts, usecase.WithDirectory(st.directory))
	}
	engine := usecase.NewEngine(st.store, log, opts...)
	query := usecase.NewQueryService(st.store, st.directory, log)
	admin := usecase.NewAdminControl(engine, log)

	// 5. gRPC Adapter
	grpcMetrics := grpcprom.NewServerMetrics(grpcprom.WithServerHandlingTimeHistogram())
	if err := prometheus.DefaultRegisterer.Register(grpcMetrics); err != nil {
		log.Warn().Err(err).Msg("failed to register grpc metrics")
	}
	grpcServer := grpc_adapter.NewServer(grpc_adapter.NewGrpcServer(engine, query, admin), log, grpcMetrics)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.GRPCAddr, err)
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.Server.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		log.Info().Str("address", cfg.Server.GRPCAddr).Msg("grpc server starting")
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics serve: %w", err)
		}
		return nil
	})

	// Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	g.Go(func() error {
		select {
		case sig := <-stop:
			log.Info().Str("signal", sig.String()).Msg("received termination signal")
			mainCancel()
		case <-groupCtx.Done():
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		log.Info().Msg("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var shutdownErr error
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("metrics shutdown: %w", err))
		}

		done := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			log.Warn().Msg("graceful stop timed out, forcing stop")
			grpcServer.Stop()
		}
		return shutdownErr
	})

	log.Info().
		Str("storage", cfg.Storage.Driver).
		Str("events", cfg.Events.Driver).
		Msg("wallet ledger is ready")
	return g.Wait()
}

func buildStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger, resources *closer) (*storage, error) {
	switch cfg.Storage.Driver {
	case config.DriverMySQL:
		client, err := mysql.NewClient(cfg.MySQL, log)
		if err != nil {
			return nil, fmt.Errorf("connect mysql: %w", err)
		}
		resources.add(client.Close)
		log.Info().Msg("connected to mysql")

		store := mysql_adapter.NewStore(client,
			mysql_adapter.WithTimeout(cfg.Storage.LockTimeout),
			mysql_adapter.WithLogger(log))
		if cfg.Storage.Migrate {
			if err := store.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("migrate mysql: %w", err)
			}
		}
		return &storage{store: store, directory: mysql_adapter.NewDirectory(client), verifyUsers: true}, nil

	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		resources.add(func() error { pool.Close(); return nil })
		log.Info().Msg("connected to postgres")

		store := postgres_adapter.NewStore(pool,
			postgres_adapter.WithLockTimeout(cfg.Postgres.LockTimeout),
			postgres_adapter.WithLogger(log))
		if cfg.Storage.Migrate {
			if err := store.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		return &storage{store: store, directory: postgres_adapter.NewDirectory(pool), verifyUsers: true}, nil

	default:
		var w *wal.WAL
		if cfg.Storage.WALPath != "" {
			var err error
			w, err = wal.NewWAL(cfg.Storage.WALPath)
			if err != nil {
				return nil, fmt.Errorf("init wal: %w", err)
			}
			resources.add(w.Close)
		}
		store, err := memory_adapter.NewStore(w,
			memory_adapter.WithLockTimeout(cfg.Storage.LockTimeout),
			memory_adapter.WithLogger(log))
		if err != nil {
			return nil, err
		}
		// memory 模式沒有使用者資料來源，開戶不做檢查
		return &storage{store: store, directory: memory_adapter.NewDirectory()}, nil
	}
}

func buildPublisher(cfg *config.Config, log zerolog.Logger, resources *closer) (usecase.EventPublisher, error) {
	switch cfg.Events.Driver {
	case config.EventsKafka:
		p := kafka_adapter.NewPublisher(cfg.Events.Kafka)
		resources.add(p.Close)
		log.Info().Strs("brokers", cfg.Events.Kafka.Brokers).Msg("kafka publisher ready")
		return p, nil
	case config.EventsNATS:
		nc, err := nats_adapter.Connect(cfg.Events.NATS, serviceName, log)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		resources.add(nc.Drain)
		log.Info().Str("url", cfg.Events.NATS.URL).Msg("nats publisher ready")
		return nats_adapter.NewPublisher(nc, cfg.Events.NATS.SubjectPrefix), nil
	default:
		return nil, nil
	}
}
