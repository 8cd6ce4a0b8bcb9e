package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"orgregistry/internal/api/routes"
	"orgregistry/internal/catalog"
	"orgregistry/internal/logging"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := open(*configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := rt.prepare(ctx); err != nil {
				return err
			}
			return rt.serve(ctx)
		},
	}
}

// prepare seeds the catalog when configured, creates the bootstrap account
// on an empty database and purges expired sessions.
func (rt *app) prepare(ctx context.Context) error {
	cat, err := catalog.FromPath(rt.cfg.Catalog.Path)
	if err != nil {
		return err
	}

	if rt.cfg.Catalog.SeedOnStart {
		report, err := rt.svc.Permissions.Reconcile(ctx, cat)
		if err != nil {
			return fmt.Errorf("failed to reconcile policy catalog: %w", err)
		}
		logging.Info().
			Strs("groups_created", report.GroupsCreated).
			Strs("permissions_created", report.PermissionsCreated).
			Strs("permissions_pruned", report.PermissionsPruned).
			Bool("changed", report.Changed()).
			Msg("policy catalog reconciled")
	}

	groupName := rt.cfg.DefaultUser.Role
	if role, ok := cat.Role(groupName); ok {
		groupName = role.DisplayName
	}
	if err := rt.svc.Users.EnsureDefaultUser(ctx, rt.cfg.DefaultUser.Username, rt.cfg.DefaultUser.Password, groupName); err != nil {
		logging.Warn().Err(err).Msg("failed to create default user")
	}

	if n, err := rt.svc.Auth.DeleteExpiredSessions(ctx); err != nil {
		logging.Warn().Err(err).Msg("failed to purge expired sessions")
	} else if n > 0 {
		logging.Info().Int64("count", n).Msg("expired sessions purged")
	}
	return nil
}

func (rt *app) serve(ctx context.Context) error {
	if rt.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, rt.svc, rt.cfg)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", rt.cfg.Server.Host, rt.cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Str("version", version).Msg("starting orgregistry server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logging.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
