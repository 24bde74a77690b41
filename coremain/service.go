package coremain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pmkol/locres/mlog"
)

var svcCfg = &service.Config{
	Name:        "locres",
	DisplayName: "locres",
	Description: "Location resolver with a primary and a fallback source.",
}

var svc service.Service

type serverService struct {
	f *serverFlags

	m      sync.Mutex
	cancel context.CancelFunc
	exited chan struct{}
}

func (ss *serverService) Start(s service.Service) error {
	mlog.L().Info("starting service", zap.String("platform", s.Platform()))
	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})

	ss.m.Lock()
	ss.cancel = cancel
	ss.exited = exited
	ss.m.Unlock()

	go func() {
		defer close(exited)
		if err := StartServer(ctx, ss.f); err != nil {
			mlog.L().Fatal("server exited", zap.Error(err))
		}
		mlog.L().Info("server exited")
	}()
	return nil
}

func (ss *serverService) Stop(s service.Service) error {
	mlog.L().Info("service is shutting down")
	ss.m.Lock()
	cancel, exited := ss.cancel, ss.exited
	ss.m.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-exited
	return nil
}

func initService(_ *cobra.Command, _ []string) error {
	s, err := service.New(&serverService{}, svcCfg)
	if err != nil {
		return fmt.Errorf("cannot init service, %w", err)
	}
	svc = s
	return nil
}

func newSvcInstallCmd() *cobra.Command {
	var (
		cfgFile string
		workDir string
	)
	c := &cobra.Command{
		Use:   "install [-c config_file] [-d working_dir]",
		Short: "Install locres as a system service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(workDir) == 0 {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("failed to get current working directory, %w", err)
				}
				workDir = wd
			} else {
				abs, err := filepath.Abs(workDir)
				if err != nil {
					return fmt.Errorf("failed to resolve working directory, %w", err)
				}
				workDir = abs
			}
			svcCfg.Arguments = []string{"start", "--as-service", "-d", workDir}
			if len(cfgFile) > 0 {
				svcCfg.Arguments = append(svcCfg.Arguments, "-c", cfgFile)
			}
			s, err := service.New(&serverService{}, svcCfg)
			if err != nil {
				return fmt.Errorf("cannot init service, %w", err)
			}
			return s.Install()
		},
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
	}
	c.Flags().StringVarP(&cfgFile, "config", "c", "", "config file")
	c.Flags().StringVarP(&workDir, "dir", "d", "", "working dir")
	return c
}

func newSvcUninstallCmd() *cobra.Command {
	return newSvcCtlCmd("uninstall", "Uninstall locres from system service.", func() error {
		return svc.Uninstall()
	})
}

func newSvcStartCmd() *cobra.Command {
	return newSvcCtlCmd("start", "Start locres system service.", func() error {
		return svc.Start()
	})
}

func newSvcStopCmd() *cobra.Command {
	return newSvcCtlCmd("stop", "Stop locres system service.", func() error {
		return svc.Stop()
	})
}

func newSvcRestartCmd() *cobra.Command {
	return newSvcCtlCmd("restart", "Restart locres system service.", func() error {
		return svc.Restart()
	})
}

func newSvcStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Status of locres system service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := svc.Status()
			if err != nil {
				return fmt.Errorf("cannot get service status, %w", err)
			}
			var out string
			switch s {
			case service.StatusRunning:
				out = "running"
			case service.StatusStopped:
				out = "stopped"
			case service.StatusUnknown:
				out = "unknown"
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
		SilenceUsage: true,
	}
}

func newSvcCtlCmd(use, short string, f func() error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f(); err != nil {
				if errors.Is(err, service.ErrNotInstalled) {
					return errors.New("service is not installed")
				}
				return err
			}
			return nil
		},
		SilenceUsage: true,
	}
}
