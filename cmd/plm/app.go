package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/kkers42/PLM-Lite/internal/config"
	"github.com/kkers42/PLM-Lite/internal/database"
	"github.com/kkers42/PLM-Lite/internal/plm/entity"
	"github.com/kkers42/PLM-Lite/internal/plm/plmerr"
	"github.com/kkers42/PLM-Lite/internal/plm/repository"
	"github.com/kkers42/PLM-Lite/internal/plm/service"
	"github.com/kkers42/PLM-Lite/internal/plm/storage"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errPermissionDenied = errors.New("permission denied")

// app holds what one command invocation needs. It is opened lazily so help
// and version never touch the store.
type app struct {
	configPath string
	actorRef   string
	showAudit  bool

	cfg *config.Config
	log *zap.Logger
	db  *gorm.DB
	rdb *redis.Client
	svc *service.Services
}

func (a *app) open(ctx context.Context) error {
	if a.svc != nil {
		return nil
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	logger, err := initLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		logger.Sync()
		return err
	}
	if err := database.Migrate(db); err != nil {
		database.Close(db)
		logger.Sync()
		return err
	}

	deps := service.Deps{Logger: logger, Redis: initRedis(cfg.Redis)}
	mirror, err := storage.NewMinioMirror(ctx, cfg.MinIO)
	if err != nil {
		logger.Warn("minio mirror disabled", zap.String("endpoint", cfg.MinIO.Endpoint), zap.Error(err))
	} else if mirror != nil {
		deps.Mirror = mirror
	}

	svc, err := service.NewServices(db, cfg, deps)
	if err != nil {
		database.Close(db)
		logger.Sync()
		return err
	}

	a.cfg, a.log, a.db, a.rdb, a.svc = cfg, logger, db, deps.Redis, svc
	return nil
}

func (a *app) close() {
	if a.rdb != nil {
		a.rdb.Close()
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil && a.log != nil {
			a.log.Warn("close database", zap.Error(err))
		}
	}
	if a.log != nil {
		a.log.Sync()
	}
	a.cfg, a.log, a.db, a.rdb, a.svc = nil, nil, nil, nil, nil
}

// run wraps a command body with open and close.
func (a *app) run(fn func(ctx context.Context, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := a.open(ctx); err != nil {
			return err
		}
		defer a.close()
		if a.showAudit {
			stop := a.reportAudit(cmd.ErrOrStderr())
			defer stop()
		}
		return fn(ctx, cmd, args)
	}
}

// reportAudit writes each audit entry committed while the command runs to w,
// one JSON object per line. stop waits until every delivered entry is written.
func (a *app) reportAudit(w io.Writer) (stop func()) {
	hub := a.svc.Audit.Hub()
	sub := hub.Subscribe("cli", 256, nil)
	logger := a.log
	done := make(chan struct{})
	go func() {
		defer close(done)
		enc := json.NewEncoder(w)
		for entry := range sub.Events {
			if err := enc.Encode(entry); err != nil {
				logger.Warn("report audit entry", zap.String("id", entry.ID), zap.Error(err))
			}
		}
	}()
	return func() {
		hub.Unsubscribe(sub.ID)
		<-done
	}
}

// actor resolves --as to a user.
func (a *app) actor(ctx context.Context) (*entity.User, error) {
	if a.actorRef == "" {
		return nil, fmt.Errorf("%w: no acting user, pass --as or set PLM_USER", errPermissionDenied)
	}
	user, err := a.svc.User.GetUserByUsername(ctx, a.actorRef)
	if errors.Is(err, plmerr.ErrNotFound) {
		user, err = a.svc.User.GetUser(ctx, a.actorRef)
	}
	if errors.Is(err, plmerr.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown user %q", errPermissionDenied, a.actorRef)
	}
	return user, err
}

// authorize resolves the actor and asks the gate once. It returns the actor id.
func (a *app) authorize(ctx context.Context, ability string) (string, error) {
	user, err := a.actor(ctx)
	if err != nil {
		return "", err
	}
	if !a.svc.Gate.Allowed(ctx, user.ID, ability) {
		return "", fmt.Errorf("%w: %s may not %s", errPermissionDenied, user.Username, ability)
	}
	a.svc.User.TouchLastActive(ctx, user.ID)
	return user.ID, nil
}

// part accepts a part id or a part number.
func (a *app) part(ctx context.Context, ref string) (*repository.PartView, error) {
	p, err := a.svc.Part.Get(ctx, ref)
	if errors.Is(err, plmerr.ErrNotFound) {
		return a.svc.Part.GetByNumber(ctx, ref)
	}
	return p, err
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitCode maps error kinds onto distinct process exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, errPermissionDenied):
		return 3
	case errors.Is(err, plmerr.ErrNotFound):
		return 4
	case errors.Is(err, plmerr.ErrLocked), errors.Is(err, plmerr.ErrConflict):
		return 5
	case errors.Is(err, plmerr.ErrValidation), errors.Is(err, plmerr.ErrPathTraversal):
		return 2
	}
	return 1
}
