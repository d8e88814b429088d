/*
	TileSync, incremental tile pyramid builder for block game maps
	Copyright (C) 2022 Maxim Zhuchkov

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.

	Contact me via mail: q3.max.2011@yandex.ru or Discord: MaX#6717
*/

package filesystemSceneStorage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/maxsupermanhd/TileSync/sceneStorage"
)

const sceneExt = ".json.zst"

// FilesystemSceneStorage stores one zstd compressed file per chunk under Root.
type FilesystemSceneStorage struct {
	Root string
	// versions are remembered after the first read since scenes are
	// only replaced through AddChunkScene.
	versions   map[[2]int]uint32
	versionsMu sync.Mutex
}

func NewFilesystemSceneStorage(root string) (*FilesystemSceneStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FilesystemSceneStorage{
		Root:     root,
		versions: map[[2]int]uint32{},
	}, nil
}

func (s *FilesystemSceneStorage) Close() error {
	return nil
}

func (s *FilesystemSceneStorage) chunkPath(cx, cz int) string {
	return filepath.Join(s.Root, fmt.Sprintf("%d.%d%s", cx, cz, sceneExt))
}

func (s *FilesystemSceneStorage) GetStatus() (string, error) {
	count := 0
	size := int64(0)
	err := filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), sceneExt) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		count++
		size += info.Size()
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("filesystem storage at %s with %d chunks (%s)", s.Root, count, humanize.Bytes(uint64(size))), nil
}

func (s *FilesystemSceneStorage) GetChunkScene(_ context.Context, cx, cz int) (*sceneStorage.ChunkScene, error) {
	b, err := os.ReadFile(s.chunkPath(cx, cz))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	scene, err := sceneStorage.DecodeScene(b)
	if err != nil {
		return nil, fmt.Errorf("chunk %dx %dz: %w", cx, cz, err)
	}
	s.versionsMu.Lock()
	s.versions[[2]int{cx, cz}] = scene.Version
	s.versionsMu.Unlock()
	return scene, nil
}

func (s *FilesystemSceneStorage) GetChunkVersion(ctx context.Context, cx, cz int) (uint32, bool, error) {
	s.versionsMu.Lock()
	v, ok := s.versions[[2]int{cx, cz}]
	s.versionsMu.Unlock()
	if ok {
		return v, true, nil
	}
	scene, err := s.GetChunkScene(ctx, cx, cz)
	if err != nil || scene == nil {
		return 0, false, err
	}
	return scene.Version, true, nil
}

func (s *FilesystemSceneStorage) AddChunkScene(_ context.Context, scene *sceneStorage.ChunkScene) error {
	if err := scene.Validate(); err != nil {
		return err
	}
	b, err := sceneStorage.EncodeScene(scene)
	if err != nil {
		return err
	}
	path := s.chunkPath(scene.X, scene.Z)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	s.versionsMu.Lock()
	s.versions[[2]int{scene.X, scene.Z}] = scene.Version
	s.versionsMu.Unlock()
	return nil
}
