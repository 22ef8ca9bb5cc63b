package cli

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shiguredo/media-processors/internal/engine"
	"github.com/shiguredo/media-processors/internal/host"
	"github.com/shiguredo/media-processors/pkg/model"
)

type timelineOptions struct {
	sessions []string
	repeat   bool
	until    time.Duration
	decodes  bool
}

func newTimelineCmd() *cobra.Command {
	opts := timelineOptions{}
	cmd := &cobra.Command{
		Use:   "timeline <file.mp4>",
		Short: "Print every host call a playback makes, on a virtual clock",
		Long: "timeline plays the file against a virtual decode host whose clock jumps straight to " +
			"each deadline, so the output is the exact schedule a real host would see.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTimeline(cmd.OutOrStdout(), args[0], opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.sessions, "session", []string{"main"}, "Session ids to play (repeatable)")
	cmd.Flags().BoolVar(&opts.repeat, "repeat", false, "Loop the file")
	cmd.Flags().DurationVar(&opts.until, "until", 0, "Stop the virtual clock here (default: end of file, or three loops with --repeat)")
	cmd.Flags().BoolVar(&opts.decodes, "decodes-only", false, "Print decode calls only")
	return cmd
}

func runTimeline(w io.Writer, path string, opts timelineOptions) error {
	v := host.NewVirtual()
	e := engine.New(v, logger)
	defer e.Close()

	data, err := readFile(path)
	if err != nil {
		return err
	}
	if _, err := e.Load(data); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	c := e.Container()

	until := opts.until
	if until <= 0 {
		until = time.Duration(math.MaxInt64)
		if opts.repeat {
			until = 3 * c.Duration()
		}
	}

	for _, id := range opts.sessions {
		if err := e.Play(model.SessionID(id), model.PlayOptions{Repeat: opts.repeat}); err != nil {
			return err
		}
	}
	v.RunUntil(e.Sync(), until)

	fmt.Fprintf(w, "%-12s  %-10s  %-20s  %s\n", "AT", "SESSION", "CALL", "DETAIL")
	for _, r := range v.Records() {
		if opts.decodes && r.Command.Type != model.HostDecode {
			continue
		}
		fmt.Fprintf(w, "%-12s  %-10s  %-20s  %s\n", r.At, r.Command.SessionID, r.Command.Type, describe(r))
	}
	for _, st := range e.Sessions() {
		fmt.Fprintf(w, "# %s: %s decoded=%d loops=%d\n", st.ID, st.State, st.Decoded, st.Loops)
	}
	return nil
}

// describe formats the fields of a recorded call that matter for its type.
func describe(r host.Record) string {
	cmd := r.Command
	var parts []string
	if cmd.Token != 0 {
		parts = append(parts, "token="+cmd.Token.String())
	}
	if cmd.DecoderID != nil {
		parts = append(parts, fmt.Sprintf("decoder=%d", *cmd.DecoderID))
	}
	switch cmd.Type {
	case model.HostSleep:
		parts = append(parts, "for="+(time.Duration(cmd.SleepMicros)*time.Microsecond).String())
	case model.HostCreateVideoDecoder:
		parts = append(parts, "codec="+cmd.Video.Codec, fmt.Sprintf("size=%dx%d", cmd.Video.CodedWidth, cmd.Video.CodedHeight))
	case model.HostCreateAudioDecoder:
		parts = append(parts, "codec="+cmd.Audio.Codec, fmt.Sprintf("rate=%d", cmd.Audio.SampleRate), fmt.Sprintf("channels=%d", cmd.Audio.NumberOfChannels))
	case model.HostDecode:
		parts = append(parts,
			string(cmd.Chunk.Type),
			"ts="+cmd.Chunk.Timestamp.String(),
			"dur="+cmd.Chunk.Duration.String(),
			fmt.Sprintf("bytes=%d", r.Bytes),
		)
	}
	return strings.Join(parts, " ")
}
