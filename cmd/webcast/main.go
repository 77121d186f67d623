// Webcast CLI entry point.
//
// This tool streams a video file to a browser over WebRTC. The session is
// negotiated through a WebSocket signaling relay; media flows peer-to-peer
// once ICE connects.
//
// Usage:
//
//	webcast [flags] <signaling-url>
//	webcast relay --listen :8443
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/webcast/internal/config"
	"github.com/1ureka/webcast/internal/media"
	"github.com/1ureka/webcast/internal/negotiation"
	"github.com/1ureka/webcast/internal/relay"
	"github.com/1ureka/webcast/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(config.NewViper()).ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func newRootCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "webcast [flags] <signaling-url>",
		Short:         "Stream a video file to a browser over WebRTC",
		Version:       version,
		Args:          urlArg,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			v.Set(config.KeyURL, args[0])

			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return runStream(cmd.Context(), cfg)
		},
	}

	pf := cmd.PersistentFlags()
	pf.String(config.KeyConfig, "", "Config file (yaml, toml or json)")
	pf.Bool(config.KeyDebug, false, "Enable debug logging")

	f := cmd.Flags()
	f.String(config.KeyClientID, "", "Our id on the relay (random when empty)")
	f.String(config.KeyPeerID, config.DefaultPeerID, "Id of the browser to call")
	f.StringSlice(config.KeySTUN, []string{config.DefaultSTUN}, "STUN server URLs")
	f.String(config.KeyVideo, "", "Video file to stream (.ivf or .h264)")
	f.String(config.KeyCodec, "", "Video codec: h264, vp8, vp9 or av1 (derived from --video when empty)")
	f.Int(config.KeyFPS, config.DefaultFPS, "Frame rate for .h264 files")
	f.Int(config.KeyICEPortMin, 0, "Lowest UDP port for ICE")
	f.Int(config.KeyICEPortMax, 0, "Highest UDP port for ICE")
	f.String(config.KeyMetricsAddr, "", "Serve prometheus /metrics on this address")

	cobra.CheckErr(v.BindPFlags(pf))
	cobra.CheckErr(v.BindPFlags(f))

	cmd.AddCommand(newRelayCmd(v))
	return cmd
}

func newRelayCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a signaling relay for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true

			cfg, err := config.LoadRelay(v)
			if err != nil {
				return err
			}
			return runRelay(cmd.Context(), cfg)
		},
	}

	cmd.Flags().String(config.KeyListen, config.DefaultListen, "Address to listen on")
	cobra.CheckErr(v.BindPFlag(config.KeyListen, cmd.Flags().Lookup(config.KeyListen)))
	return cmd
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runStream negotiates one session and streams until the session ends or ctx
// is cancelled.
func runStream(ctx context.Context, cfg config.Config) error {
	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Webcast — v%s", version))
	pterm.Println()

	codec, err := resolveCodec(cfg)
	if err != nil {
		return err
	}

	engine, err := media.NewEngine(media.Config{
		STUNServers: cfg.STUN,
		ICEPortMin:  uint16(cfg.ICEPortMin),
		ICEPortMax:  uint16(cfg.ICEPortMax),
		Codec:       codec,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	util.LogInfo("connecting to %s as %s, calling %s", cfg.URL, cfg.ClientID, cfg.PeerID)

	coordinator := negotiation.New(negotiation.Config{
		URL:      cfg.URL,
		ClientID: cfg.ClientID,
		PeerID:   cfg.PeerID,
	}, negotiation.Dial, engine)

	// The session ending stops the media source and the metrics server.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return coordinator.Run(ctx)
	})

	if cfg.Video != "" {
		src := media.NewSource(cfg.Video, cfg.FPS, engine.Track())
		g.Go(func() error { return src.Run(ctx, engine.Connected()) })
	} else {
		util.LogWarning("no --video given, the track will stay idle")
	}

	if cfg.MetricsAddr != "" {
		g.Go(func() error { return util.ServeMetrics(ctx, cfg.MetricsAddr) })
	}

	util.StartStatsReporter(ctx)

	if err := g.Wait(); err != nil {
		return err
	}

	util.LogInfo("session closed")
	return nil
}

// runRelay serves the signaling relay until ctx is cancelled.
func runRelay(ctx context.Context, cfg config.RelayConfig) error {
	if cfg.Debug {
		util.EnableDebug()
	}

	srv := relay.NewServer()
	addr, err := srv.Start(cfg.Listen)
	if err != nil {
		return err
	}
	defer srv.Close()

	util.LogSuccess("relay listening on ws://%s/ws", addr)
	<-ctx.Done()
	util.LogInfo("relay shutting down")
	return nil
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// urlArg requires exactly one positional argument, the signaling URL.
func urlArg(_ *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: expected one signaling server URL, got %d arguments", config.ErrUsage, len(args))
	}
	return nil
}

// resolveCodec picks the track codec: the configured one, else the one the
// video file carries, else H.264.
func resolveCodec(cfg config.Config) (string, error) {
	if cfg.Video == "" {
		if cfg.Codec == "" {
			return "h264", nil
		}
		return cfg.Codec, nil
	}

	fileCodec, err := media.CodecForFile(cfg.Video)
	if err != nil {
		return "", err
	}
	if cfg.Codec != "" && cfg.Codec != fileCodec {
		return "", fmt.Errorf("%w: --codec %s does not match %s (%s)", config.ErrUsage, cfg.Codec, cfg.Video, fileCodec)
	}
	return fileCodec, nil
}
