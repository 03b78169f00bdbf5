package main

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/parley-chat/parley/cmd/parley/ui"
	"github.com/parley-chat/parley/pkg/backend"
	"github.com/parley-chat/parley/pkg/conversation"
	"github.com/parley-chat/parley/pkg/events"
	"github.com/parley-chat/parley/pkg/session"
	"github.com/parley-chat/parley/pkg/styles"
)

const chatTopic = "chat"

func newChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			return runChat(cmd.Context())
		},
	}

	cmd.Flags().String("backend", "http", "backend kind: http, openai or simulated")
	cmd.Flags().String("model", "", "model id (default: first entry of the backend's model list)")
	cmd.Flags().String("style", "default", "conversation style id")
	cmd.Flags().String("styles-file", "", "YAML file with a custom style catalog")
	cmd.Flags().Bool("reasoning", false, "ask the backend for reasoning text")
	cmd.Flags().String("api-key", "", "API key for the openai backend")
	cmd.Flags().String("greeting", "", "assistant greeting seeded into new conversations")
	cmd.Flags().Bool("verbose-events", false, "dump every chat event as JSON to stdout")

	return cmd
}

func buildBackend() (backend.Backend, error) {
	server := viper.GetString("server")

	switch kind := viper.GetString("backend"); kind {
	case "http":
		return backend.NewHTTPBackend(server), nil
	case "openai":
		return backend.NewOpenAIBackend(server, viper.GetString("api-key")), nil
	case "simulated":
		return backend.NewSimulatedBackend(nil), nil
	default:
		return nil, errors.Errorf("unknown backend kind %q", kind)
	}
}

func buildStyleCatalog() ([]styles.Style, error) {
	if path := viper.GetString("styles-file"); path != "" {
		return styles.LoadFile(path)
	}
	return styles.Default(), nil
}

func resolveModel(ctx context.Context) string {
	if model := viper.GetString("model"); model != "" {
		return model
	}
	if viper.GetString("backend") == "simulated" {
		return "simulated"
	}
	catalog := backend.NewModelCatalog(viper.GetString("server"))
	return catalog.Models(ctx)[0]
}

func runChat(ctx context.Context) error {
	b, err := buildBackend()
	if err != nil {
		return err
	}

	styleCatalog, err := buildStyleCatalog()
	if err != nil {
		return err
	}
	style, ok := styles.Lookup(styleCatalog, viper.GetString("style"))
	if !ok {
		return errors.Errorf("unknown style %q", viper.GetString("style"))
	}

	var options []session.ControllerOption
	options = append(options, session.WithConfig(session.TurnConfig{
		Model:         resolveModel(ctx),
		Style:         style,
		ShowReasoning: viper.GetBool("reasoning"),
	}))
	if greeting := viper.GetString("greeting"); greeting != "" {
		options = append(options, session.WithSeed(
			conversation.NewMessage(conversation.RoleAssistant, greeting),
		))
	}

	controller := session.NewController(conversation.NewManager(), b, options...)
	defer func() {
		_ = controller.Close()
	}()

	var routerOptions []events.EventRouterOption
	if viper.GetBool("verbose-events") {
		routerOptions = append(routerOptions, events.WithVerbose(true))
	}
	router, err := events.NewEventRouter(routerOptions...)
	if err != nil {
		return err
	}
	defer func() {
		_ = router.Close()
	}()
	controller.AddPublisher(chatTopic, router.Publisher)

	program := tea.NewProgram(ui.NewModel(controller), tea.WithAltScreen())

	router.RegisterChatEventHandler(chatTopic, ui.NewEventForwarder(program.Send))
	if viper.GetBool("verbose-events") {
		router.AddHandler("raw-events", chatTopic, router.DumpRawEvents)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg, egCtx := errgroup.WithContext(runCtx)
	eg.Go(func() error {
		return router.Run(egCtx)
	})
	eg.Go(func() error {
		defer cancel()
		<-router.Running()
		_, err := program.Run()
		return err
	})

	return eg.Wait()
}
