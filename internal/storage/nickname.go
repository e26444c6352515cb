package storage

import (
	"fmt"
	"os"
	"strings"
)

// NicknameStore persists the local peer's display nickname in its own
// small file, separate from the registry snapshot (spec.md §7).
type NicknameStore struct {
	path string
}

func NewNicknameStore(path string) *NicknameStore {
	return &NicknameStore{path: path}
}

func (s *NicknameStore) Save(nickname string) error {
	return writeFileAtomic(s.path, []byte(nickname), 0o644)
}

// Load returns "" if no nickname has ever been saved.
func (s *NicknameStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("storage: read nickname: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
