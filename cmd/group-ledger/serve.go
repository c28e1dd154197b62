package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"group-ledger/api"
	"group-ledger/ledger"
)

var (
	serveAddr  string
	serveSpool bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP query API",
	Long: `Serve the HTTP query API and the event endpoint.

With --spool the configured spool inputs are drained in the background too.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		addr := cfg.Server.Addr
		if cmd.Flags().Changed("addr") {
			addr = serveAddr
		}
		if !cfg.Debug {
			gin.SetMode(gin.ReleaseMode)
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		pipeline, err := newPipeline(st)
		if err != nil {
			return err
		}
		filter := ledger.NewEventFilter(cfg.Listen.Groups)
		srv := api.NewServer(st, pipeline, filter, api.Options{
			CORSOrigins:       cfg.Server.CORSOrigins,
			IngestConcurrency: cfg.Spool.Concurrency,
		}, logger)

		var sp *ledger.Spooler
		if serveSpool {
			sp, err = ledger.NewSpooler(cfg.Spool, pipeline, filter, logger)
			if err != nil {
				return err
			}
		}

		httpSrv := &http.Server{
			Addr:              addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info("http server listening", zap.String("addr", addr), zap.String("backend", cfg.Store.Backend))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", addr, err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			logger.Info("http server shutting down")
			return httpSrv.Shutdown(shutdownCtx)
		})
		if sp != nil {
			g.Go(func() error { return sp.Run(gctx) })
		}
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&serveSpool, "spool", false, "also drain the configured spool inputs")
	rootCmd.AddCommand(serveCmd)
}
