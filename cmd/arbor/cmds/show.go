package cmds

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/arbor/pkg/conversation"
)

var showBranchesFlag bool

var ShowCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Print the active transcript of a conversation",
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

		tree, err := st.Load(id)
		if err != nil {
			return err
		}

		nav := conversation.NewNavigator(tree)
		for _, node := range tree.GetActivePath() {
			fmt.Println(node.View())
			if !showBranchesFlag {
				continue
			}
			count, err := nav.SiblingCount(node.ID)
			if err == nil && count > 1 {
				_, index, _ := tree.GetSiblings(node.ID)
				fmt.Printf("    (alternative %d of %d)\n", index+1, count)
			}
		}
		return nil
	},
}

func init() {
	ShowCmd.Flags().BoolVar(&showBranchesFlag, "branches", false, "Annotate fork points with sibling counts")
}
