package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/kehao95/atlterm/internal/forth"
	"github.com/kehao95/atlterm/internal/prims"
	"github.com/kehao95/atlterm/internal/tape"
	"github.com/kehao95/atlterm/internal/terminal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newConsoleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Serve the interpreter on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			in, err := startInterpreter(ctx, a.cfg, a.log)
			if err != nil {
				return err
			}
			defer in.Close()

			stdin := cmd.InOrStdin()
			f, isFile := stdin.(*os.File)
			opts := sessionOptions(a.cfg, a.log, isFile && terminal.IsTerminal(f), nil)
			return runSession(cmd, a, in, stdin, cmd.OutOrStdout(), opts, a.cfg.SessionID, "console")
		},
	}
}

func newDeviceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "device PATH",
		Short: "Serve the interpreter on a serial device",
		Long: `Opens PATH (for example /dev/ttyUSB0) read/write and serves the
interpreter on it. Line settings such as baud rate are left as configured
by the system (see stty). A lock file keeps a second atlterm off the same
device.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			lock, err := lockDevice(ctx, a.cfg, a.log, path)
			if err != nil {
				return err
			}
			defer lock.Release()

			dev, err := terminal.OpenDevice(path)
			if err != nil {
				return err
			}
			defer dev.Close()

			in, err := startInterpreter(ctx, a.cfg, a.log)
			if err != nil {
				return err
			}
			defer in.Close()

			opts := sessionOptions(a.cfg, a.log, true, map[string]string{"device": path})
			return runSession(cmd, a, in, dev, dev, opts, a.cfg.SessionID, "device")
		},
	}
}

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the interpreter to one TCP client at a time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			lock, err := lockDevice(ctx, a.cfg, a.log, addr)
			if err != nil {
				return err
			}
			defer lock.Release()

			in, err := startInterpreter(ctx, a.cfg, a.log)
			if err != nil {
				return err
			}
			defer in.Close()

			l, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			a.log.Info("listening", zap.String("addr", l.Addr().String()))
			fmt.Fprintf(cmd.ErrOrStderr(), "atlterm: listening on %s\n", l.Addr())

			srv := &terminal.Server{
				Host:        in,
				Options:     sessionOptions(a.cfg, a.log, true, map[string]string{"listen": l.Addr().String()}),
				Transcripts: transcripts(a.cfg),
				Log:         a.log.Named("tcp"),
			}
			return srv.Serve(ctx, l)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:4000", "TCP address to listen on")
	return cmd
}

// runSession serves one client and logs how it ended.
func runSession(cmd *cobra.Command, a *app, in *interpreter, r io.Reader, w io.Writer, opts terminal.Options, name, transport string) error {
	tp, rec, err := transcripts(a.cfg).Open(name, transport)
	if err != nil {
		a.log.Warn("transcript disabled", zap.Error(err))
	}
	opts.Tape, opts.Recorder = tp, rec

	reason, err := terminal.NewSession(in, r, w, opts).Run(cmd.Context())
	a.log.Info("session ended", zap.String("transport", transport), zap.String("reason", string(reason)))
	return err
}

func newTranscriptCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "transcript FILE",
		Short: "Summarize a session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := tape.ReadTapeFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			}
			printSummary(out, s)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the parsed transcript as JSON")
	return cmd
}

func printSummary(w io.Writer, s *tape.TapeSummary) {
	fmt.Fprintf(w, "session:   %s\n", s.SessionID)
	fmt.Fprintf(w, "engine:    %s\n", s.Engine)
	fmt.Fprintf(w, "transport: %s\n", s.Transport)
	fmt.Fprintf(w, "commands:  %d\n", len(s.Inputs))
	for _, c := range s.Controls {
		status := "ok"
		if !c.OK {
			status = "failed: " + c.Error
		}
		fmt.Fprintf(w, "control:   %s %s\n", c.Action, status)
	}
	if o := s.Outcome; o != nil {
		fmt.Fprintf(w, "outcome:   %s after %dms (%d bytes of output)\n", o.Reason, o.DurationMs, o.OutputSize)
		if o.Error != "" {
			fmt.Fprintf(w, "error:     %s\n", o.Error)
		}
	} else {
		fmt.Fprintln(w, "outcome:   (session did not finish)")
	}
	if s.Output != "" {
		fmt.Fprintf(w, "\n%s", s.Output)
		if !strings.HasSuffix(s.Output, "\n") {
			fmt.Fprintln(w)
		}
	}
}

func newWordsCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "words",
		Short: "List the hardware words",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, d := range prims.Defs() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, d.Effect, d.Doc)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if !all {
				return nil
			}
			m := forth.New(io.Discard)
			prims.New(nil, nil, 0, nil).Register(m)
			_, err := fmt.Fprintf(out, "\n%s\n", strings.Join(m.SortedWords(), " "))
			return err
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "also list every word the Forth dictionary knows")
	return cmd
}
