package cmds

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/arbor/pkg/conversation"
)

var DeleteCmd = &cobra.Command{
	Use:   "delete <conversation-id>",
	Short: "Delete a stored conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}

		id, err := conversation.ParseConversationID(args[0])
		if err != nil {
			return err
		}

		if err := st.Delete(id); err != nil {
			return err
		}

		fmt.Printf("deleted %s\n", id)
		return nil
	},
}
