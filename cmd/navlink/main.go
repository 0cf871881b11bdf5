package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/QuadTriangle/navlink/internal/amap"
	"github.com/QuadTriangle/navlink/internal/channel"
	"github.com/QuadTriangle/navlink/internal/command"
	"github.com/QuadTriangle/navlink/internal/config"
	"github.com/QuadTriangle/navlink/internal/hooks"
	"github.com/QuadTriangle/navlink/internal/mapview"
	"github.com/QuadTriangle/navlink/internal/plugins/auth"
	"github.com/QuadTriangle/navlink/internal/plugins/banner"
	"github.com/QuadTriangle/navlink/internal/plugins/stats"
	"github.com/QuadTriangle/navlink/internal/route"
	"github.com/QuadTriangle/navlink/internal/source"
)

func main() {
	_ = godotenv.Load()

	pipeline := &hooks.Pipeline{}

	// --- Register plugins ---
	// Each plugin owns its own flags and config.
	statsPlugin := stats.New()
	pipeline.RegisterPlugin(banner.New())
	pipeline.RegisterPlugin(auth.New())
	pipeline.RegisterPlugin(statsPlugin)

	root := &cobra.Command{
		Use:          "navlink",
		Short:        "Headless map client that plans routes pushed over a session channel",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}

			// Activate enabled plugins (collect hooks)
			pipeline.Activate()

			if cfg.Session == "" {
				pipeline.Status("Error: missing session id")
				return channel.ErrMissingSession
			}

			surface := mapview.New(
				mapview.Credential{Key: cfg.AMap.Key},
				mapview.Options{
					Center: route.LngLat{Lng: cfg.Map.CenterLng, Lat: cfg.Map.CenterLat},
					Zoom:   cfg.Map.Zoom,
				},
			)
			if err := surface.Init(); err != nil {
				// The channel still runs; commands fail until the map is ready.
				log.Printf("Map initialization failed: %v", err)
				pipeline.Status("Map initialization failed")
			} else {
				pipeline.Status("Map initialized")
			}
			statsPlugin.AttachSurface(surface)

			engine := amap.NewEngine(amap.NewClient(cfg.AMap.Endpoint, cfg.AMap.Key), surface)
			interp := command.NewInterpreter(route.NewDispatcher(surface, engine), pipeline)

			header := pipeline.DialHeader()
			if id, err := config.ClientID(""); err != nil {
				log.Printf("Failed to get client ID: %v", err)
			} else {
				header.Set("X-Navlink-Client", id)
			}

			session, err := channel.New(channel.Options{
				Server:         cfg.Server,
				Token:          cfg.Session,
				ReconnectDelay: cfg.ReconnectDelay,
				Keepalive:      cfg.Keepalive,
				Header:         header,
			}, interp, pipeline)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err = session.Run(ctx)
			log.Println("Channel closed. Goodbye!")
			return err
		},
	}

	root.Flags().StringP("session", "s", "", "session token issued by the command source")
	root.Flags().String("server", config.DefaultServer, "command source host[:port] or URL")
	root.Flags().Duration("reconnect-delay", channel.DefaultReconnectDelay, "delay before reconnecting a lost channel")
	root.Flags().String("amap-key", "", "AMap web service key")
	pipeline.RegisterFlags(root.Flags())

	root.AddCommand(serveCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the command source that issues sessions and pushes navigation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}

			src := source.NewServer()
			srv := &http.Server{Addr: cfg.Listen, Handler: src.Router()}

			// Graceful shutdown
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go func() {
				<-ctx.Done()
				log.Println("shutting down...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()

			log.Printf("command source listening on %s", cfg.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("listen", ":8000", "listen address")
	return cmd
}
