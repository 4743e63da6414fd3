package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/app"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/config"
	"github.com/SupenBysz/gitea-mcp-tool-sub001/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath, notifySecret string
	var notifyURLs, notifyEvents []string
	var insecure bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serves the workflow API. The config file is watched and reloaded on change; a broken edit keeps the last good config. Set GITEA_WORKFLOW_JWT_SECRET (or --jwt-secret) for bearer auth.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := log.New(os.Stderr, "wf: ", log.LstdFlags)
			workspace, err := filepath.Abs(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			watcher, err := config.Watch(ctx, configPath(), logger)
			if err != nil {
				return err
			}
			defer watcher.Close()
			if res := watcher.Current().Validate(); !res.Valid {
				logger.Printf("config has errors; automation endpoints will refuse to run: %v", res.Err())
			}

			e, closeFn, err := app.OpenEngine(ctx, workspace)
			if err != nil {
				return err
			}
			defer closeFn()
			e.Logger = logger

			authCfg := server.AuthConfig{
				JWTSecret:      viper.GetString("jwt-secret"),
				AllowAnonymous: insecure,
				Logger:         logger,
			}
			if authCfg.JWTSecret == "" && !insecure {
				return fmt.Errorf("GITEA_WORKFLOW_JWT_SECRET is required for bearer auth (or pass --insecure for local use)")
			}
			handler, err := server.New(server.Config{Engine: e, Source: watcher, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}

			if len(notifyURLs) > 0 {
				n := &server.Notifier{Repo: e.Repo, Logger: logger}
				for _, u := range notifyURLs {
					n.Hooks = append(n.Hooks, server.NotifyHook{URL: u, Secret: notifySecret, Events: notifyEvents})
				}
				go n.Run(ctx)
			}

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving workflow API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "accept requests without a token (actor from X-Actor-Id)")
	cmd.Flags().StringArrayVar(&notifyURLs, "notify-url", nil, "POST recorded events to this URL (repeatable)")
	cmd.Flags().StringVar(&notifySecret, "notify-secret", "", "shared secret sent as X-Workflow-Secret")
	cmd.Flags().StringSliceVar(&notifyEvents, "notify-events", nil, "event types to deliver (default all)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}
