package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shiguredo/media-processors/internal/engine"
	"github.com/shiguredo/media-processors/internal/host"
	"github.com/shiguredo/media-processors/pkg/model"
)

type playOptions struct {
	sessions []string
	repeat   bool
	duration time.Duration
}

func newPlayCmd() *cobra.Command {
	opts := playOptions{}
	cmd := &cobra.Command{
		Use:   "play <file.mp4>",
		Short: "Play a file in real time against a logging decode host",
		Long: "play schedules every sample on the wall clock and logs each host call. " +
			"Use --debug to see individual decodes. It exits when every session reaches " +
			"end of stream, when --duration elapses, or on interrupt.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPlay(ctx, args[0], opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.sessions, "session", []string{"main"}, "Session ids to play (repeatable)")
	cmd.Flags().BoolVar(&opts.repeat, "repeat", false, "Loop the file until interrupted")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "Stop after this long (0 = no limit)")
	return cmd
}

// eosWatch closes done once every session in ids has reported end of stream.
type eosWatch struct {
	mu      sync.Mutex
	waiting map[model.SessionID]bool
	done    chan struct{}
}

func newEOSWatch(ids []string) *eosWatch {
	w := &eosWatch{waiting: make(map[model.SessionID]bool), done: make(chan struct{})}
	for _, id := range ids {
		w.waiting[model.SessionID(id)] = true
	}
	return w
}

func (w *eosWatch) Publish(cmd model.HostCommand) {
	if cmd.Type != model.HostEndOfStream {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.waiting[cmd.SessionID] {
		return
	}
	delete(w.waiting, cmd.SessionID)
	if len(w.waiting) == 0 {
		close(w.done)
	}
}

func runPlay(ctx context.Context, path string, opts playOptions) error {
	data, err := readFile(path)
	if err != nil {
		return err
	}

	watch := newEOSWatch(opts.sessions)
	rt := host.NewRealtime(logger, host.WithSink(host.MultiSink{host.LogSink{Logger: logger}, watch}))
	defer rt.Close()
	loop := engine.NewLoop(engine.New(rt, logger), logger)
	rt.Bind(loop)

	loopErr := make(chan error, 1)
	go func() { loopErr <- loop.Start(context.Background()) }()
	defer loop.Stop()

	err = loop.Do(ctx, func(e *engine.Engine) error {
		info, err := e.Load(data)
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		logger.Info("playing", "file", path,
			"video_configs", len(info.VideoConfigs), "audio_configs", len(info.AudioConfigs),
			"duration", e.Container().Duration(), "repeat", opts.repeat)
		for _, id := range opts.sessions {
			if err := e.Play(model.SessionID(id), model.PlayOptions{Repeat: opts.repeat}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	var timeout <-chan time.Time
	if opts.duration > 0 {
		t := time.NewTimer(opts.duration)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-watch.done:
		logger.Info("all sessions reached end of stream")
	case <-timeout:
		logger.Info("duration elapsed")
	case <-ctx.Done():
		logger.Info("interrupted")
	case err := <-loopErr:
		return err
	}
	return nil
}
