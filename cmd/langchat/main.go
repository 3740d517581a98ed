package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/alpha-xone/langchat/pkg/conversation"
	"github.com/alpha-xone/langchat/pkg/events"
	"github.com/alpha-xone/langchat/pkg/session"
	"github.com/alpha-xone/langchat/pkg/settings"
	"github.com/alpha-xone/langchat/pkg/store"
	"github.com/alpha-xone/langchat/pkg/transport"
)

const snapshotTopic = "chat.snapshots"

var rootCmd = &cobra.Command{
	Use:   "langchat",
	Short: "Stream conversations with a remote agent service",
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().String("endpoint", "", "base URL of the agent service")
	chatCmd.Flags().String("agent", "", "agent id to run against")
	chatCmd.Flags().String("token", "", "bearer token")
	chatCmd.Flags().String("config", "", "path to a YAML settings file")
	chatCmd.Flags().Bool("no-stream", false, "poll run status instead of streaming")
	chatCmd.Flags().Bool("verbose", false, "verbose logging")

	_ = viper.BindPFlag("endpoint", chatCmd.Flags().Lookup("endpoint"))
	_ = viper.BindPFlag("agent", chatCmd.Flags().Lookup("agent"))
	_ = viper.BindPFlag("token", chatCmd.Flags().Lookup("token"))
	viper.SetEnvPrefix("LANGCHAT")
	viper.AutomaticEnv()

	rootCmd.AddCommand(chatCmd)
}

func loadSettings(cmd *cobra.Command) (*settings.Settings, error) {
	configPath, _ := cmd.Flags().GetString("config")

	s := settings.NewSettings()
	if configPath != "" {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, err
		}
		defer func(f *os.File) {
			_ = f.Close()
		}(f)
		s, err = settings.NewSettingsFromYAML(f)
		if err != nil {
			return nil, err
		}
	}

	if v := viper.GetString("endpoint"); v != "" {
		s.EndpointURL = v
	}
	if v := viper.GetString("agent"); v != "" {
		s.AgentID = v
	}
	if noStream, _ := cmd.Flags().GetBool("no-stream"); noStream {
		s.Stream = false
	}

	return s, s.Validate()
}

func runChat(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)

	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	client, err := transport.NewClient(s,
		transport.WithTokenProvider(store.StaticTokenProvider{Token: viper.GetString("token")}),
	)
	if err != nil {
		return err
	}

	router, err := events.NewEventRouter(events.WithVerbose(verbose))
	if err != nil {
		return err
	}

	// Echo deltas to the terminal as they stream in. The token callback
	// hands us the whole message so far, so remember what we already
	// printed per message id.
	printed := map[string]int{}
	controller, err := session.NewController(s, client,
		session.WithMessageStore(store.NewMemoryStore()),
		session.WithPublisher(router.Publisher, snapshotTopic),
		session.WithTokenCallback(func(m *conversation.Message) {
			if len(m.Content) > printed[m.ID] {
				fmt.Print(m.Content[printed[m.ID]:])
				printed[m.ID] = len(m.Content)
			}
		}),
	)
	if err != nil {
		return err
	}

	router.AddHandler("snapshot-log", snapshotTopic, func(msg *message.Message) error {
		defer msg.Ack()
		log.Debug().RawJSON("snapshot", msg.Payload).Msg("session snapshot")
		return nil
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer func(r *events.EventRouter) {
			_ = r.Close()
		}(router)
		return router.Run(egCtx)
	})
	eg.Go(func() error {
		defer cancel()
		<-router.Running()
		return inputLoop(egCtx, controller, printed)
	})

	return eg.Wait()
}

func inputLoop(ctx context.Context, controller *session.Controller, printed map[string]int) error {
	fmt.Println("Type a message, or /new, /switch <id>, /retry, /cancel, /quit.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == "/quit":
			controller.Cancel()
			return nil
		case line == "/new":
			id, err := controller.NewThread(ctx)
			if err != nil {
				log.Error().Err(err).Msg("could not create thread")
				continue
			}
			fmt.Println("new thread:", id)
			continue
		case strings.HasPrefix(line, "/switch "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/switch "))
			if err := controller.SwitchThread(ctx, id); err != nil {
				log.Error().Err(err).Msg("could not switch thread")
			}
			continue
		case line == "/cancel":
			controller.Cancel()
			continue
		case line == "/retry":
			if err := submit(ctx, controller, "", printed, true); err != nil {
				log.Error().Err(err).Msg("retry failed")
			}
			continue
		}

		if err := submit(ctx, controller, line, printed, false); err != nil {
			log.Error().Err(err).Msg("submit failed")
		}
	}
}

func submit(ctx context.Context, controller *session.Controller, text string, printed map[string]int, retry bool) error {
	var handle *session.StreamHandle
	var err error
	if retry {
		handle, err = controller.Retry(ctx)
	} else {
		handle, err = controller.Submit(ctx, text)
	}
	if err != nil {
		return err
	}

	handle.Wait()
	fmt.Println()
	for id := range printed {
		delete(printed, id)
	}
	if err := controller.Err(); err != nil {
		fmt.Println("(failed - /retry to resubmit)")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
