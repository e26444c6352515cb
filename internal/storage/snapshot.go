package storage

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/harmonia/harmonia/internal/logging"
	"github.com/harmonia/harmonia/internal/registry"
)

var log = logging.Named("storage")

// SnapshotStore persists the block registry's metadata (never MIDI
// payloads themselves — those live in the content-addressed Cache) to a
// single binary-encoded file (spec.md §7). gob is used rather than a
// third-party codec: this is a purely internal, single-process format with
// no cross-language wire contract the way the tempo/group UDP protocols
// have, and nothing in this pack's dependency surface offers a grounded
// binary codec for that role (the only protobuf/msgpack-adjacent
// dependencies present are transitive libp2p internals with no .proto
// schema to build against).
type SnapshotStore struct {
	path string
}

func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path}
}

// Save atomically rewrites the snapshot file with the given blocks.
func (s *SnapshotStore) Save(blocks []registry.Block) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(blocks); err != nil {
		return fmt.Errorf("storage: encode snapshot: %w", err)
	}
	return writeFileAtomic(s.path, buf.Bytes(), 0o644)
}

// Load reads the snapshot file. A missing file is not an error — it means
// a fresh node with no persisted state — but a present, undecodable file is
// StateCorrupt (spec.md §7): it is renamed with a .bak suffix and Load
// returns an empty registry rather than failing startup.
func (s *SnapshotStore) Load() ([]registry.Block, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: read snapshot: %w", err)
	}

	var blocks []registry.Block
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&blocks); err != nil {
		log.Warnf("storage: snapshot corrupt, quarantining: %v", err)
		if rerr := os.Rename(s.path, s.path+".bak"); rerr != nil {
			return nil, fmt.Errorf("storage: quarantine corrupt snapshot: %w", rerr)
		}
		return nil, nil
	}
	return blocks, nil
}
