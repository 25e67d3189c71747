// Command agendad runs the family-agenda sync agent: it owns the local
// cache, the durable operation queue and the reconciliation loops. The
// remote document store is pluggable behind store.Remote; this binary
// wires the in-process reference store.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/n2ilva/agendafamiliar-sub000/internal/config"
	"github.com/n2ilva/agendafamiliar-sub000/internal/model"
	"github.com/n2ilva/agendafamiliar-sub000/internal/notify"
	"github.com/n2ilva/agendafamiliar-sub000/internal/store"
	tasksync "github.com/n2ilva/agendafamiliar-sub000/internal/sync"
	"github.com/n2ilva/agendafamiliar-sub000/internal/task"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "agendad",
		Short:         "Family agenda task sync agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "agendad.yml", "path to config file")

	root.AddCommand(newRunCmd(&cfgPath))
	root.AddCommand(newFlushCmd(&cfgPath))
	root.AddCommand(newStatusCmd(&cfgPath))
	return root
}

type app struct {
	cfg     config.Config
	service *task.Service
	queue   *tasksync.Queue
}

func buildApp(cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := log.Default()

	cache, err := store.NewFileCache(cfg.DataDir, cfg.HistoryRetention())
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	queue, err := tasksync.NewQueue(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}

	remote := store.NewMemoryRemote()
	members := store.NewStaticMembership()
	members.Grant(cfg.FamilyID, cfg.UserID, model.Permissions{Create: true, Edit: true, Delete: true})

	guard := tasksync.NewPendingGuard()
	dispatcher := tasksync.NewDispatcher(tasksync.DispatcherOptions{
		Queue:            queue,
		Remote:           remote,
		Guard:            guard,
		Logger:           logger,
		ProtectionWindow: cfg.ProtectionWindow,
		OfflineRelease:   cfg.OfflineRelease,
	})

	service, err := task.NewService(task.Options{
		Cache:      cache,
		Remote:     remote,
		Membership: members,
		Notifier:   notify.NewLogScheduler(logger),
		Guard:      guard,
		Dispatcher: dispatcher,
		Logger:     logger,
		FamilyID:   cfg.FamilyID,
		UserID:     cfg.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("build service: %w", err)
	}

	return &app{cfg: cfg, service: service, queue: queue}, nil
}

func newRunCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync agent until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*cfgPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			unsubscribe, err := a.service.Subscribe(ctx)
			if err != nil {
				return err
			}
			defer unsubscribe()

			log.Printf("agendad: family=%s user=%s data=%s", a.cfg.FamilyID, a.cfg.UserID, a.cfg.DataDir)

			refresh := time.NewTicker(a.cfg.RefreshInterval)
			defer refresh.Stop()
			flush := time.NewTicker(a.cfg.FlushInterval)
			defer flush.Stop()

			if err := a.service.Refresh(ctx); err != nil {
				log.Printf("agendad: initial refresh: %v", err)
			}

			for {
				select {
				case <-ctx.Done():
					log.Printf("agendad: shutting down, %d ops pending", a.service.PendingOps())
					return nil
				case <-refresh.C:
					if err := a.service.Refresh(ctx); err != nil {
						log.Printf("agendad: refresh: %v", err)
					}
				case <-flush.C:
					if err := a.service.Flush(ctx); err != nil {
						log.Printf("agendad: flush: %v", err)
					}
				}
			}
		},
	}
}

func newFlushCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Attempt one delivery pass over the pending operation queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*cfgPath)
			if err != nil {
				return err
			}
			if err := a.service.Flush(cmd.Context()); err != nil {
				log.Printf("agendad: flush: %v", err)
			}
			fmt.Printf("pending operations: %d\n", a.service.PendingOps())
			return nil
		},
	}
}

func newStatusCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show cached task counts and the pending operation queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*cfgPath)
			if err != nil {
				return err
			}
			tasks := a.service.Tasks()
			open, done := 0, 0
			for _, t := range tasks {
				if t.Completed {
					done++
				} else {
					open++
				}
			}
			fmt.Printf("tasks: %d open, %d completed\n", open, done)
			fmt.Printf("approvals: %d active\n", len(a.service.Approvals()))
			fmt.Printf("pending operations: %d\n", a.service.PendingOps())
			return nil
		},
	}
}
