package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/kehao95/atlterm/internal/board"
	"github.com/kehao95/atlterm/internal/config"
	"github.com/kehao95/atlterm/internal/engine/goscript"
	"github.com/kehao95/atlterm/internal/forth"
	"github.com/kehao95/atlterm/internal/prims"
	"github.com/kehao95/atlterm/internal/runtime"
	"github.com/kehao95/atlterm/internal/storage"
	"github.com/kehao95/atlterm/internal/terminal"
	"go.uber.org/zap"
)

// interpreter is a started manager plus the resources it owns.
type interpreter struct {
	*runtime.Manager
	vol *storage.Volume
	log *zap.Logger
}

// startInterpreter wires the simulated board, the flash volume and the
// configured engine into a running manager.
func startInterpreter(ctx context.Context, cfg *config.Config, log *zap.Logger) (*interpreter, error) {
	vol, err := storage.Open(cfg.FSRoot, cfg.FSCapacity, log.Named("flash"))
	if err != nil {
		return nil, err
	}
	hw := prims.New(board.NewSim(), vol, cfg.MaxDelay(), log.Named("prims"))

	m, err := runtime.NewManager(engineFactory(cfg, hw), runtime.Options{
		PollInterval:        cfg.PollInterval(),
		RestartPollInterval: cfg.RestartPollInterval(),
		RestartMaxPolls:     cfg.RestartMaxPolls,
		Logger:              log.Named("runtime"),
	})
	if err != nil {
		vol.Close()
		return nil, err
	}
	if err := m.Start(ctx); err != nil {
		vol.Close()
		return nil, err
	}
	return &interpreter{Manager: m, vol: vol, log: log}, nil
}

func engineFactory(cfg *config.Config, hw *prims.Set) runtime.EngineFactory {
	return func(out io.Writer) (runtime.Engine, error) {
		switch cfg.Engine {
		case config.EngineGo:
			e, err := goscript.New(out, hw)
			if err != nil {
				return nil, err
			}
			return e, nil
		default:
			m := forth.New(out, forth.WithStackSize(cfg.StackSize))
			hw.Register(m)
			return m, nil
		}
	}
}

// Close stops the execution context and the volume watcher.
func (in *interpreter) Close() error {
	err := in.Stop()
	if cerr := in.vol.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		in.log.Error("shutting down interpreter", zap.Error(err))
	}
	return err
}

// sessionOptions builds the terminal options shared by every transport.
func sessionOptions(cfg *config.Config, log *zap.Logger, banner bool, extra map[string]string) terminal.Options {
	opts := terminal.Options{
		BreakWord:      cfg.BreakWord,
		KillWord:       cfg.KillWord,
		MaxLine:        cfg.MaxLine,
		OutputInterval: cfg.OutputInterval(),
		Logger:         log.Named("terminal"),
	}
	if banner {
		if extra == nil {
			extra = map[string]string{}
		}
		if cfg.FSCapacity > 0 {
			extra["flash"] = strconv.FormatInt(cfg.FSCapacity, 10) + " bytes"
		}
		opts.Banner = terminal.BuildBanner(terminal.BannerInfo{
			Engine:     cfg.Engine,
			SessionID:  cfg.SessionID,
			BreakWord:  cfg.BreakWord,
			KillWord:   cfg.KillWord,
			StatusWord: terminal.DefaultStatusWord,
			MaxLine:    cfg.MaxLine,
			Extra:      extra,
		})
	}
	return opts
}

func transcripts(cfg *config.Config) *terminal.Transcripts {
	return &terminal.Transcripts{Dir: cfg.TapeDir(), SessionID: cfg.SessionID, Engine: cfg.Engine}
}

// lockDevice takes the device lock, bounded by the configured timeout.
func lockDevice(ctx context.Context, cfg *config.Config, log *zap.Logger, device string) (*runtime.DeviceLock, error) {
	l := runtime.NewDeviceLock(cfg.LockDir(), device, cfg.SessionID, log.Named("lock"))
	if cfg.LockTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.LockTimeout())
		defer cancel()
	}
	if err := l.Acquire(ctx); err != nil {
		if holder, ok := l.Holder(); ok {
			return nil, fmt.Errorf("%s is in use by session %s: %w", device, holder, err)
		}
		return nil, err
	}
	return l, nil
}
