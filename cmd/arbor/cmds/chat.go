package cmds

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/arbor/pkg/chat"
	"github.com/go-go-golems/arbor/pkg/conversation"
	"github.com/go-go-golems/arbor/pkg/events"
	"github.com/go-go-golems/arbor/pkg/provider"
)

var (
	chatSystemFlag string
	chatTitleFlag  string
)

var ChatCmd = &cobra.Command{
	Use:   "chat [conversation-id]",
	Short: "Chat interactively, streaming replies as they arrive",
	Long: `Chat starts or resumes a conversation. Messages are read from stdin,
one per line; replies stream to stdout. Type /retry to fork an alternative
to the last reply, /prev and /next to move between alternatives, and /quit
to leave.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}

		var tree *conversation.ConversationTree
		if len(args) == 1 {
			id, err := conversation.ParseConversationID(args[0])
			if err != nil {
				return err
			}
			tree, err = st.Load(id)
			if err != nil {
				return err
			}
		} else {
			tree = conversation.NewConversationTree(chatSystemFlag,
				conversation.WithTitle(chatTitleFlag),
				conversation.WithProvider("echo", ""),
			)
			fmt.Printf("started conversation %s\n", tree.ID)
		}

		session := chat.NewSession(
			provider.NewEchoProvider(),
			chat.WithTree(tree),
			chat.WithStore(st),
		)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		if err := streamToStdout(ctx, session.Publisher()); err != nil {
			return err
		}

		return runChatLoop(ctx, session)
	},
}

// streamToStdout subscribes a printer to the session's event stream.
func streamToStdout(ctx context.Context, pm *events.PublisherManager) error {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	messages, err := pubSub.Subscribe(ctx, "chat")
	if err != nil {
		return err
	}
	pm.SubscribePublisher("chat", pubSub)

	go func() {
		for msg := range messages {
			event, err := events.NewEventFromJSON(msg.Payload)
			if err != nil {
				log.Warn().Err(err).Msg("failed to decode event")
				msg.Ack()
				continue
			}

			switch e := event.(type) {
			case *events.EventPartialCompletion:
				fmt.Print(e.Delta)
			case *events.EventFinal:
				fmt.Println()
			case *events.EventInterrupt:
				fmt.Println("\n[interrupted]")
			case *events.EventError:
				fmt.Printf("\n[error: %s]\n", e.ErrorString)
			}
			msg.Ack()
		}
	}()

	return nil
}

func runChatLoop(ctx context.Context, session *chat.Session) error {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit", "/exit":
			return nil
		case "/retry":
			leaf, exists := session.Tree.GetMessageByID(session.Tree.ActiveLeafID)
			if !exists || leaf.Role != conversation.RoleAssistant {
				fmt.Println("nothing to retry")
				continue
			}
			if _, err := session.Retry(ctx, leaf.ID); err != nil {
				fmt.Printf("[%s]\n", err)
			}
		case "/prev", "/next":
			direction := conversation.DirectionPrev
			if line == "/next" {
				direction = conversation.DirectionNext
			}
			if err := session.NavigateSibling(session.Tree.ActiveLeafID, direction); err != nil {
				fmt.Printf("[%s]\n", err)
				continue
			}
			printTranscript(session.Tree)
		default:
			if _, err := session.SendMessage(ctx, line); err != nil {
				fmt.Printf("[%s]\n", err)
			}
			// streamed output is printed by the event subscriber; give the
			// final newline a moment to flush before the next prompt
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func printTranscript(tree *conversation.ConversationTree) {
	for _, node := range tree.GetActivePath() {
		if node.Role == conversation.RoleSystem && node.Content == "" {
			continue
		}
		fmt.Println(node.View())
	}
}

func init() {
	ChatCmd.Flags().StringVar(&chatSystemFlag, "system", "", "System instruction for a new conversation")
	ChatCmd.Flags().StringVar(&chatTitleFlag, "title", "", "Title for a new conversation")
}
