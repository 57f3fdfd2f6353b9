package cmds

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/go-go-golems/arbor/pkg/store"
)

func openStore() (*store.FileStore, error) {
	dir := viper.GetString("store-dir")
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "."
		}
		dir = filepath.Join(homeDir, ".arbor", "conversations")
	}
	return store.NewFileStore(dir)
}
