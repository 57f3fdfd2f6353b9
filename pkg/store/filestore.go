package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/arbor/pkg/conversation"
	"github.com/go-go-golems/arbor/pkg/helpers"
)

// FileStore keeps one JSON document per conversation under a root
// directory, named <conversation-id>.json.
type FileStore struct {
	dir string
}

var _ Store = (*FileStore)(nil)

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(conversation.ErrPersistence, "creating store directory %s: %s", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (fs *FileStore) path(id conversation.ConversationID) string {
	return filepath.Join(fs.dir, id.String()+".json")
}

func (fs *FileStore) Load(id conversation.ConversationID) (*conversation.ConversationTree, error) {
	tree, err := conversation.LoadFromFile(fs.path(id))
	if err != nil {
		return nil, err
	}
	if tree.ID != id {
		return nil, errors.Wrapf(conversation.ErrPersistence, "document id %s does not match %s", tree.ID, id)
	}
	return tree, nil
}

func (fs *FileStore) Save(tree *conversation.ConversationTree) error {
	data, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return errors.Wrap(conversation.ErrPersistence, err.Error())
	}

	if err := helpers.AtomicWriteFile(fs.path(tree.ID), data, 0644); err != nil {
		return errors.Wrap(conversation.ErrPersistence, err.Error())
	}

	log.Debug().
		Str("conversation_id", tree.ID.String()).
		Int("node_count", len(tree.Nodes)).
		Msg("saved conversation")

	return nil
}

// List reads the metadata of every stored conversation, newest first.
// Documents are parsed concurrently; unreadable files are skipped with a
// warning instead of failing the whole listing.
func (fs *FileStore) List() ([]Metadata, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, errors.Wrap(conversation.ErrPersistence, err.Error())
	}

	var mu sync.Mutex
	var ret []Metadata

	eg := errgroup.Group{}
	eg.SetLimit(8)

	for _, entry := range entries {
		entry := entry
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		eg.Go(func() error {
			tree, err := conversation.LoadFromFile(filepath.Join(fs.dir, entry.Name()))
			if err != nil {
				log.Warn().Err(err).Str("file", entry.Name()).Msg("skipping unreadable conversation")
				return nil
			}

			mu.Lock()
			ret = append(ret, Metadata{
				ConversationID: tree.ID,
				Title:          tree.Title,
				CreatedAt:      tree.CreatedAt,
				UpdatedAt:      tree.UpdatedAt,
				Provider:       tree.Provider,
				Model:          tree.Model,
			})
			mu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].UpdatedAt.After(ret[j].UpdatedAt)
	})

	return ret, nil
}

func (fs *FileStore) Delete(id conversation.ConversationID) error {
	err := os.Remove(fs.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(conversation.ErrNotFound, "conversation %s", id)
		}
		return errors.Wrap(conversation.ErrPersistence, err.Error())
	}

	log.Debug().Str("conversation_id", id.String()).Msg("deleted stored conversation")
	return nil
}
