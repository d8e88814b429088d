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

package sceneStorage

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/maxsupermanhd/TileSync/primitives"
)

var (
	ErrNotImplemented = errors.New("not implemented")
	ErrReadOnly       = errors.New("storage is read-only")
	ErrBadScene       = errors.New("malformed chunk scene")
)

// Levels is the number of floors every chunk has.
const Levels = 4

const squares = primitives.ChunkSize * primitives.ChunkSize

// SceneLevel is one floor of a chunk, every slice is indexed z*64+x.
type SceneLevel struct {
	Heights   []int16  `json:"heights"`
	Colors    []uint32 `json:"colors"`
	Collision []uint16 `json:"collision"`
}

// Loc is one placed object instance.
type Loc struct {
	ID       int `json:"id"`
	X        int `json:"x"`
	Z        int `json:"z"`
	Level    int `json:"level"`
	Type     int `json:"type"`
	Rotation int `json:"rotation"`
	SizeX    int `json:"sizex"`
	SizeZ    int `json:"sizez"`
}

// IsWall reports whether the loc is a wall shape.
func (l Loc) IsWall() bool {
	return l.Type >= 0 && l.Type <= 3
}

// ChunkScene is everything extracted from the asset source for one chunk.
type ChunkScene struct {
	X       int          `json:"x"`
	Z       int          `json:"z"`
	Version uint32       `json:"version"`
	Levels  []SceneLevel `json:"levels"`
	Locs    []Loc        `json:"locs"`
}

func (s *ChunkScene) Validate() error {
	if len(s.Levels) != Levels {
		return fmt.Errorf("%w: chunk %dx %dz has %d levels", ErrBadScene, s.X, s.Z, len(s.Levels))
	}
	for i, l := range s.Levels {
		if len(l.Heights) != squares || len(l.Colors) != squares || len(l.Collision) != squares {
			return fmt.Errorf("%w: chunk %dx %dz level %d has wrong grid size", ErrBadScene, s.X, s.Z, i)
		}
	}
	return nil
}

// Everything returns nil if specified object is not found,
// error only in case of abnormal things.
type SceneStorage interface {
	GetStatus() (string, error)
	GetChunkScene(ctx context.Context, cx, cz int) (*ChunkScene, error)
	// GetChunkVersion returns 0 with found=false for chunks absent from the storage.
	GetChunkVersion(ctx context.Context, cx, cz int) (version uint32, found bool, err error)
	AddChunkScene(ctx context.Context, scene *ChunkScene) error
	Close() error
}

type Storage struct {
	Name    string       `yaml:"name" json:"name" env:"NAME"`
	Type    string       `yaml:"type" json:"type" env:"TYPE"`
	Address string       `yaml:"addr" json:"addr" env:"ADDR"`
	Driver  SceneStorage `yaml:"-" json:"-"`
}

func CloseStorages(s []Storage) {
	for i, c := range s {
		if c.Driver != nil {
			err := c.Driver.Close()
			if err != nil {
				log.Printf("Error closing storage [%v] of type %v: %v", c.Name, c.Type, err)
			}
			s[i].Driver = nil
		}
	}
}
