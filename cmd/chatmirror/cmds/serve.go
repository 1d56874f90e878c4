package cmds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-go-golems/chatmirror/pkg/conversation"
	"github.com/go-go-golems/chatmirror/pkg/remote/remotetest"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func demoConversations(now time.Time) []*conversation.Conversation {
	welcome := conversation.NewConversation("chat_demo_1", "Welcome", now)
	welcome.Messages = []conversation.Message{
		conversation.NewMessage(conversation.RoleUser, "What does chatmirror do?"),
		conversation.NewMessage(conversation.RoleAssistant,
			"<think>The user wants a short summary.</think>It keeps a local copy of your conversations in sync with the server."),
	}
	empty := conversation.NewConversation("chat_demo_2", "Empty conversation", now)
	return []*conversation.Conversation{welcome, empty}
}

// prefixFromBaseURL returns the path part of the configured base URL, so
// that the fake answers where the client is going to ask.
func prefixFromBaseURL(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return u.Path
}

func NewServeFakeCommand() *cobra.Command {
	var addr string
	var prefix string
	var token string
	var demo bool
	cmd := &cobra.Command{
		Use:   "serve-fake",
		Short: "Run an in-memory conversation server for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("prefix") {
				prefix = prefixFromBaseURL(viper.GetString("remote.base-url"))
			}

			options := []remotetest.Option{
				remotetest.WithPrefix(prefix),
				remotetest.WithUserInfo(map[string]any{"username": "demo"}),
			}
			if token != "" {
				options = append(options, remotetest.WithToken(token))
			}
			fake := remotetest.NewServer(options...)
			if demo {
				for _, c := range demoConversations(time.Now()) {
					fake.Seed(c)
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{
				Addr:              addr,
				Handler:           fake.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", addr).Str("prefix", prefix).Msg("serving fake conversation API")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8887", "Listen address")
	cmd.Flags().StringVar(&prefix, "prefix", "/api", "Route prefix (default: path of remote.base-url)")
	cmd.Flags().StringVar(&token, "token", "", "Require this bearer token")
	cmd.Flags().BoolVar(&demo, "demo", false, "Seed a few demo conversations")
	return cmd
}

func NewSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the persisted chat history",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := json.MarshalIndent(conversation.SnapshotSchema(), "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		},
	}
}
