// Command hpnscp is a secure remote-copy tool: the CLI wrapper around
// the Resumable Copy Protocol driver, in the style of the teacher's
// own cobra-based command entry points (see
// backend/torrent/cmd/backend.go's commandDefinition/init() pattern).
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hpnssh/hpnscp/internal/config"
	"github.com/hpnssh/hpnscp/internal/log"
	"github.com/hpnssh/hpnscp/internal/peer"
	"github.com/hpnssh/hpnscp/internal/rcp"
)

var (
	cfg          = config.Default()
	fromFlag     bool
	toFlag       bool
	quietFlag    bool
	namePatterns []string
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:   "hpnscp [flags] source... target",
		Short: "Resumable secure copy",
		Long: `hpnscp copies files over a secure channel, with optional resume
support: when the destination already holds a matching prefix, only the
missing suffix is transferred (spec.md §4.3).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRoot,
	}

	flags := root.Flags()
	flags.CountVarP(&cfg.Verbose, "verbose", "v", "increase verbosity (repeatable)")
	flags.BoolVarP(&quietFlag, "quiet", "q", false, "suppress non-error output")
	flags.BoolVarP(&cfg.Recursive, "recursive", "r", false, "recurse into directories")
	flags.BoolVarP(&cfg.PreserveTimes, "preserve-times", "p", false, "preserve modification and access times")
	flags.BoolVarP(&cfg.ForceDirectoryTarget, "force-directory-target", "d", false, "treat target as a directory")
	flags.BoolVarP(&cfg.Resume, "resume", "Z", false, "negotiate resume via prefix hash before transferring")
	flags.BoolVarP(&cfg.CompressionPassthrough, "compression-pass-through", "C", false, "forward compression request to the secure channel")
	flags.StringVarP(&cfg.CipherPassthrough, "cipher-pass-through", "c", "", "forward cipher spec to the secure channel")
	flags.StringVarP(&cfg.IdentityFile, "identity-file", "i", "", "identity file for the secure channel")
	flags.StringVarP(&cfg.ConfigFile, "config", "F", "", "config file for the secure channel")
	flags.StringVarP(&cfg.JumpHost, "jump-host", "J", "", "jump host for the secure channel")
	flags.IntVarP(&cfg.Port, "port", "P", 0, "port on the remote host")
	flags.IntVarP(&cfg.BandwidthLimitKbps, "bandwidth-limit", "l", 0, "limit transfer rate, in kilobits per second")
	flags.StringVarP(&cfg.ProgramPath, "program-path", "S", "", "path to the secure-channel program")
	flags.StringVar(&cfg.RemoteProgramPath, "remote-program-path", "", "path to this tool on the remote host")
	flags.StringSliceVar(&namePatterns, "include", nil, "brace-expandable glob restricting the names accepted on the receiving side")

	// -f/-t mirror stock scp's internal remote-mode flags: this
	// process is itself the peer spawned over the secure channel,
	// reading/writing the protocol on stdin/stdout (spec.md §6).
	flags.BoolVarP(&fromFlag, "from-remote", "f", false, "remote-mode: act as RCP sender of the given paths")
	flags.BoolVarP(&toFlag, "to-remote", "t", false, "remote-mode: act as RCP receiver into the given path")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "hpnscp: %s\n", err)
		return 1
	}
	return exitCode
}

// exitCode lets runRoot report a non-zero status without panicking
// cobra's own error-printing path, matching spec.md §7's "exit 0 on
// success, 1 on any file-level or protocol error".
var exitCode int

func runRoot(cmd *cobra.Command, args []string) error {
	if quietFlag {
		cfg.Verbose = -1
	}
	setLogLevel(cfg.Verbose)

	ctx := context.Background()

	switch {
	case fromFlag:
		return runRemoteSender(ctx, args)
	case toFlag:
		if len(args) != 1 {
			return fmt.Errorf("-t requires exactly one destination path")
		}
		return runRemoteReceiver(ctx, args[0])
	default:
		return runLocalDriver(ctx, args)
	}
}

// setLogLevel maps the -v/-q verbosity ladder onto the package-level
// logger (spec.md §6, "verbose, quiet").
func setLogLevel(verbose int) {
	switch {
	case verbose < 0:
		log.SetLevel(log.LogLevelError)
	case verbose == 0:
		log.SetLevel(log.LogLevelNotice)
	case verbose == 1:
		log.SetLevel(log.LogLevelInfo)
	default:
		log.SetLevel(log.LogLevelDebug)
	}
}

// runRemoteSender is the entry point used when this process is
// spawned over the secure channel as the transfer's source (stock
// scp's `-f`). It drives the RCP Sender over its own stdin/stdout.
func runRemoteSender(ctx context.Context, paths []string) error {
	s := rcp.NewSession(cfg, peer.Pair{In: os.Stdin, Out: os.Stdout})
	sender := rcp.NewSender(ctx, s)
	if err := sender.Run(paths); err != nil {
		fmt.Fprintf(os.Stderr, "hpnscp: %s\n", err)
		exitCode = 1
		return nil
	}
	if n := s.Stats.ErrorCount(); n > 0 {
		exitCode = 1
	}
	return nil
}

// runRemoteReceiver is the entry point used when this process is
// spawned over the secure channel as the transfer's sink (stock
// scp's `-t`). It drives the RCP Receiver over its own stdin/stdout.
func runRemoteReceiver(ctx context.Context, dest string) error {
	s := rcp.NewSession(cfg, peer.Pair{In: os.Stdin, Out: os.Stdout})
	receiver := rcp.NewReceiver(ctx, s, dest)
	receiver.SetNamePatterns(namePatterns)
	if err := receiver.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "hpnscp: %s\n", err)
		exitCode = 1
		return nil
	}
	if n := s.Stats.ErrorCount(); n > 0 {
		exitCode = 1
	}
	return nil
}

// runLocalDriver handles the plain `hpnscp source... target` form.
// Spawning the secure-channel subprocess to reach a remote host is
// out of scope (spec.md §1: "Driving an actual network transport...
// is explicitly out of scope"); a purely local source and
// destination, however, is served directly by wiring a Sender and a
// Receiver together over an in-process pipe, using errgroup the way
// the teacher's own fan-in/fan-out helpers do (golang.org/x/sync is a
// direct rclone dependency).
func runLocalDriver(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: hpnscp [flags] source... target")
	}
	sources := args[:len(args)-1]
	target := args[len(args)-1]

	if strings.Contains(target, ":") || containsRemote(sources) {
		return fmt.Errorf("driving a remote secure-channel subprocess is out of scope; invoke with -f/-t over an existing channel instead")
	}

	senderRead, senderWrite := io.Pipe()
	receiverRead, receiverWrite := io.Pipe()

	senderSession := rcp.NewSession(cfg, peer.Pair{In: receiverRead, Out: senderWrite})
	receiverSession := rcp.NewSession(cfg, peer.Pair{In: senderRead, Out: receiverWrite})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer senderWrite.Close()
		return rcp.NewSender(gctx, senderSession).Run(sources)
	})
	g.Go(func() error {
		defer receiverWrite.Close()
		r := rcp.NewReceiver(gctx, receiverSession, target)
		r.SetNamePatterns(namePatterns)
		return r.Run()
	})

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "hpnscp: %s\n", err)
		exitCode = 1
		return nil
	}
	if n := senderSession.Stats.ErrorCount() + receiverSession.Stats.ErrorCount(); n > 0 {
		exitCode = 1
	}
	return nil
}

func containsRemote(paths []string) bool {
	for _, p := range paths {
		if strings.Contains(p, ":") {
			return true
		}
	}
	return false
}
