package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/remoting/internal/config"
	"github.com/vango-dev/remoting/pkg/connector"
	"github.com/vango-dev/remoting/pkg/model"
)

func clientCmd() *cobra.Command {
	var (
		url       string
		transport string
		name      string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Talk to a running server with the greeter demo",
		Long: `Connect to a remoting server, wait for the greeter model, set its
name and print the greeting the server pushes back.

Examples:
  remoting client --name=Ada
  remoting client --transport=ws --url=http://localhost:9090/remoting`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Resolve(path)
			if err != nil {
				return err
			}
			if url != "" {
				cfg.Client.URL = url
			}
			if transport != "" {
				cfg.Client.Transport = transport
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			greeting, err := runClient(ctx, cfg, name)
			if err != nil {
				return err
			}
			success("%s", greeting)
			return nil
		},
	}

	cmd.Flags().StringVarP(&url, "url", "u", "", "Server endpoint (default from remoting.json)")
	cmd.Flags().StringVarP(&transport, "transport", "t", "", "Transport: http or ws")
	cmd.Flags().StringVarP(&name, "name", "n", "world", "Name to send")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Give up after this long")
	return cmd
}

func dialTransport(ctx context.Context, cfg *config.Config) (connector.Transport, func(), error) {
	if cfg.Client.Transport == "ws" {
		wsURL := "ws" + strings.TrimPrefix(cfg.Client.URL, "http") + "/ws"
		t, err := connector.DialWebSocket(ctx, wsURL, nil, nil)
		if err != nil {
			return nil, nil, err
		}
		return t, func() { t.Close() }, nil
	}
	return connector.NewHTTPTransport(cfg.Client.URL), func() {}, nil
}

// runClient syncs with the server, writes the greeter name and waits for
// the pushed greeting.
func runClient(ctx context.Context, cfg *config.Config, name string) (string, error) {
	logger := cfg.NewLogger(os.Stderr)

	transport, closeTransport, err := dialTransport(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer closeTransport()

	ui := connector.NewSerialExecutor()
	defer ui.Close()

	failed := make(chan error, 1)
	cc := connector.NewClientConnector(nil, transport,
		connector.WithUIExecutor(ui),
		connector.WithLogger(logger),
		connector.WithPushEnabled(cfg.Client.Push),
		connector.WithExceptionHandler(&connector.LoggingExceptionHandler{
			Logger:   logger,
			Executor: ui,
			OnError: func(err error) {
				select {
				case failed <- err:
				default:
				}
			},
		}),
	)
	if err := cc.Connect(ctx); err != nil {
		return "", err
	}
	defer cc.Disconnect()

	synced := make(chan struct{})
	cc.Sync(func() { close(synced) })
	select {
	case <-synced:
	case err := <-failed:
		return "", err
	case <-ctx.Done():
		return "", fmt.Errorf("sync: %w", ctx.Err())
	}

	models := cc.Store().FindAllPresentationModelsByType(greeterType)
	if len(models) == 0 {
		return "", fmt.Errorf("server has no %s model (is it running with --demo?)", greeterType)
	}
	pm := models[0]
	nameAttr, _ := pm.Attribute(greeterName)
	greetAttr, ok := pm.Attribute(greeterGreeting)
	if nameAttr == nil || !ok {
		return "", fmt.Errorf("%s model is missing attributes", greeterType)
	}
	info("Connected, greeting is %q", greetAttr.Value())

	pushed := make(chan string, 1)
	sub := greetAttr.OnChange(func(e model.ChangeEvent) {
		if e.Property != model.ValueProperty {
			return
		}
		select {
		case pushed <- fmt.Sprint(e.NewValue):
		default:
		}
	})
	defer sub.Unsubscribe()

	if err := nameAttr.SetValue(name); err != nil {
		return "", err
	}
	if !cfg.Client.Push {
		// Without a long poll the answer rides on the next round trip.
		cc.Sync(func() {})
	}

	select {
	case g := <-pushed:
		return g, nil
	case err := <-failed:
		return "", err
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for greeting: %w", ctx.Err())
	}
}
