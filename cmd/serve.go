package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zpoken/zkv-attestation-relay/relay"
)

const shutdownTimeout = 10 * time.Second

var (
	fAddr        string
	fRetention   time.Duration
	fMaxFinished int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "runs a web server that starts relay sessions and reports their progress",
	RunE:  serve,
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := relay.NewMetrics(reg)
	if err != nil {
		return err
	}
	registry := relay.NewRegistry(relay.WithRetention(fRetention), relay.WithMaxFinished(fMaxFinished))

	s, err := newStack(ctx, cfg, relay.WithRegistry(registry), relay.WithMetrics(metrics))
	if err != nil {
		return err
	}
	defer s.Close()

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:    fAddr,
		Handler: newRouter(ctx, s.relayer, registry, reg),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", fAddr).Msg("Serving relay api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info().Msg("Shutting down relay api")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func init() {
	serveCmd.Flags().StringVar(&fAddr, "addr", "0.0.0.0:8010", "listen address")
	serveCmd.Flags().DurationVar(&fRetention, "session-retention", relay.DefaultRetention, "how long finished sessions stay visible, 0 to keep them until the cap")
	serveCmd.Flags().IntVar(&fMaxFinished, "max-finished-sessions", relay.DefaultMaxFinished, "number of finished sessions kept, 0 for no cap")
	addConfigFlags(serveCmd.Flags())
	rootCmd.AddCommand(serveCmd)
}
