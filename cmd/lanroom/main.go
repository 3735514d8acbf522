// Lanroom turns a single-machine Minecraft LAN world into a room that
// friends join over the internet. The host shares one TCP port through
// an EasyTier overlay network; guests get it forwarded to loopback and
// rebroadcast on their own LAN so the game lists it like a local world.
//
// It can run fully flagged (lanroom host --port 25565) or interactively
// (bare lanroom prompts for everything).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/lanroom/lanroom/internal/config"
	"github.com/lanroom/lanroom/internal/engine"
	"github.com/lanroom/lanroom/internal/feed"
	"github.com/lanroom/lanroom/internal/invite"
	"github.com/lanroom/lanroom/internal/iputil"
	"github.com/lanroom/lanroom/internal/lan"
	"github.com/lanroom/lanroom/internal/session"
	"github.com/lanroom/lanroom/internal/tun"
	"github.com/lanroom/lanroom/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		util.Errorf("%v", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var debug bool

	root := &cobra.Command{
		Use:           "lanroom",
		Short:         "Host or join LAN rooms that work across the internet",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if debug {
				util.EnableDebug()
			}
			switch cmd.Name() {
			case "inspect", "version", "help", "completion":
				return
			}
			pterm.Info.Printfln("Lanroom v%s", version)
			pterm.Println()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInteractive(cmd.Context())
		},
	}
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	root.AddCommand(
		newHostCommand(),
		newJoinCommand(),
		newInspectCommand(),
		newVersionCommand(),
	)
	return root
}

func newHostCommand() *cobra.Command {
	var port int
	var feedAddr string
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Share a local world with remote players",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHost(cmd.Context(), port, feedAddr)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "shared TCP port; 0 scans for a LAN world announcement")
	cmd.Flags().StringVar(&feedAddr, "feed", "", "status feed listen address (overrides LANROOM_FEED_ADDR)")
	return cmd
}

func newJoinCommand() *cobra.Command {
	var motd, feedAddr string
	cmd := &cobra.Command{
		Use:   "join CODE",
		Short: "Join a room from an invite code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(cmd.Context(), args[0], motd, feedAddr)
		},
	}
	cmd.Flags().StringVar(&motd, "motd", "", "world name shown in the LAN server list (overrides LANROOM_MOTD)")
	cmd.Flags().StringVar(&feedAddr, "feed", "", "status feed listen address (overrides LANROOM_FEED_ADDR)")
	return cmd
}

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect CODE",
		Short: "Decode an invite code without joining",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runInspect(args[0])
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the lanroom version",
		Run: func(*cobra.Command, []string) {
			fmt.Println(version)
		},
	}
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

func runHost(ctx context.Context, port int, feedAddr string) error {
	if port != 0 && (port < 1 || port > 65535) {
		return fmt.Errorf("invalid --port %d: must be 1 ~ 65535", port)
	}
	cfg, err := loadConfig(feedAddr, "")
	if err != nil {
		return err
	}

	var discover session.Discoverer
	if port > 0 {
		discover = session.FixedPort(port)
	} else {
		discover = session.DiscoverFunc(func(ctx context.Context) (int, error) {
			util.Infof("no --port given, scanning for a LAN world announcement")
			var sc lan.Scanner
			return sc.Scan(ctx)
		})
	}

	orc, srv, err := buildAgent(cfg, discover)
	if err != nil {
		return err
	}
	defer orc.Close()
	defer srv.Close()

	util.StartProbeReporter(ctx)
	if err := orc.StartHost(ctx); err != nil {
		return err
	}
	return waitForEnd(ctx, orc)
}

func runJoin(ctx context.Context, code, motd, feedAddr string) error {
	if !invite.Decode(code).Valid() {
		return fmt.Errorf("cannot join: %w", invite.ErrInvalidCode)
	}
	cfg, err := loadConfig(feedAddr, motd)
	if err != nil {
		return err
	}

	orc, srv, err := buildAgent(cfg, nil)
	if err != nil {
		return err
	}
	defer orc.Close()
	defer srv.Close()

	util.StartProbeReporter(ctx)
	if err := orc.StartGuest(ctx, code); err != nil {
		return err
	}
	return waitForEnd(ctx, orc)
}

func runInspect(code string) error {
	room := invite.Decode(code)
	if !room.Valid() {
		return fmt.Errorf("cannot inspect: %w", invite.ErrInvalidCode)
	}
	fmt.Printf("kind:     %s\n", room.Kind)
	fmt.Printf("network:  %s\n", room.Name)
	fmt.Printf("secret:   %s\n", room.Secret)
	fmt.Printf("port:     %d\n", room.Port)
	fmt.Printf("host ip:  %s\n", iputil.HostIPv4(room.Kind))
	return nil
}

// runInteractive is the prompt-driven fallback for a bare invocation.
func runInteractive(ctx context.Context) error {
	const (
		hostChoice = "Host - share a local world with remote players"
		joinChoice = "Join - enter someone else's room"
	)
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{hostChoice, joinChoice}).
		WithDefaultText("What do you want to do").
		Show()
	pterm.Println()

	if role == hostChoice {
		return runHost(ctx, askSharePort(), "")
	}
	return runJoin(ctx, askInvite(), "", "")
}

// ---------------------------------------------------------------------------
// Wiring
// ---------------------------------------------------------------------------

// loadConfig reads the environment and applies per-command overrides.
func loadConfig(feedAddr, motd string) (config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, err
	}
	if feedAddr != "" {
		cfg.FeedAddr = feedAddr
	}
	if motd != "" {
		cfg.MOTD = motd
	}
	if cfg.Debug {
		util.EnableDebug()
	}
	return cfg, nil
}

// buildAgent assembles the orchestrator with its real collaborators and
// a running status feed.
func buildAgent(cfg config.Config, discover session.Discoverer) (*session.Orchestrator, *feed.Server, error) {
	deviceID, err := cfg.DeviceID()
	if err != nil {
		return nil, nil, err
	}

	deps := session.Deps{
		Engine:   engine.New(),
		OpenTun:  openTun,
		Discover: discover,
		Announce: announce,
		DeviceID: deviceID,
	}
	orc, err := session.New(deps, cfg.SessionOptions())
	if err != nil {
		return nil, nil, err
	}
	orc.AddObserver(logObserver{})

	srv := feed.NewServer()
	if _, err := srv.Start(cfg.FeedAddr); err != nil {
		orc.Close()
		return nil, nil, err
	}
	orc.AddObserver(srv)
	return orc, srv, nil
}

func openTun(addr string) (session.TunDevice, error) {
	dev, err := tun.Open(tun.Options{Addr: addr})
	if err != nil {
		return nil, err
	}
	return dev, nil
}

func announce(ctx context.Context, motd string, port int) error {
	ann := lan.Announcer{MOTD: motd, Port: port}
	return ann.Run(ctx)
}

// waitForEnd blocks until the session ends on its own or the root
// context asks for a shutdown.
func waitForEnd(ctx context.Context, orc *session.Orchestrator) error {
	select {
	case <-ctx.Done():
		util.Infof("shutting down")
		orc.Stop()
	case <-orc.Done():
	}
	if snap := orc.Snapshot(); snap.Phase == session.PhaseFailed {
		return fmt.Errorf("session ended: %s", snap.Reason)
	}
	return nil
}

// logObserver narrates snapshots for the terminal.
type logObserver struct{}

func (logObserver) OnSnapshot(s session.Snapshot) {
	switch s.Phase {
	case session.PhaseScanning:
		util.Infof("waiting for a world to appear on the LAN")
	case session.PhaseProbing:
		util.Infof("tunnel starting, waiting for the room to come up")
	case session.PhaseArmed:
		if s.BackupEndpoint != "" {
			util.Infof("room ready, direct connect fallback at %s", s.BackupEndpoint)
		} else {
			util.Infof("room ready, guests can join now")
		}
	case session.PhaseFailed:
		util.Errorf("session failed: %s (%s)", s.Reason, s.Message)
	case session.PhaseIdle:
		util.Infof("session closed")
	}
}

func (logObserver) OnInvite(code string) {
	pterm.DefaultBox.WithTitle("Invite code").Println(code)
}

// ---------------------------------------------------------------------------
// Prompts
// ---------------------------------------------------------------------------

// askSharePort loops until a valid port is entered. An empty answer
// means scan the LAN instead.
func askSharePort() int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Port to share (leave empty to scan for a LAN world)").
			Show()
		raw = strings.TrimSpace(raw)
		if raw == "" {
			pterm.Println()
			return 0
		}
		port, err := strconv.Atoi(raw)
		if err == nil && port >= 1 && port <= 65535 {
			pterm.Println()
			return port
		}
		util.Warnf("invalid port number: must be 1 ~ 65535")
		pterm.Println()
	}
}

// askInvite loops until the input classifies and decodes as a code.
func askInvite() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Invite code").
			Show()
		raw = strings.TrimSpace(raw)
		if invite.Detect(raw) != invite.KindInvalid && invite.Decode(raw).Valid() {
			pterm.Println()
			return raw
		}
		util.Warnf("that does not look like an invite code")
		pterm.Println()
	}
}
