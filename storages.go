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

package main

import (
	"context"
	"errors"
	"log"

	"github.com/maxsupermanhd/TileSync/sceneStorage"
	"github.com/maxsupermanhd/TileSync/sceneStorage/filesystemSceneStorage"
	"github.com/maxsupermanhd/TileSync/sceneStorage/postgresSceneStorage"
)

var errStorageTypeNotImplemented = errors.New("storage type not implemented")

func initStorage(ctx context.Context, storageType, address string) (driver sceneStorage.SceneStorage, err error) {
	switch storageType {
	case "postgres":
		driver, err = postgresSceneStorage.NewPostgresSceneStorage(ctx, address)
	case "filesystem":
		driver, err = filesystemSceneStorage.NewFilesystemSceneStorage(address)
	case "memory":
		driver = sceneStorage.NewMemorySceneStorage()
	default:
		return nil, errStorageTypeNotImplemented
	}
	if err != nil {
		return nil, err
	}
	return driver, nil
}

// initSceneStorage opens the configured scene source. Unlike tile
// storage failures this one is fatal, nothing can be built without scenes.
func initSceneStorage(ctx context.Context, s *sceneStorage.Storage) error {
	log.Printf("Initializing %s scene storage %q", s.Type, s.Name)
	d, err := initStorage(ctx, s.Type, s.Address)
	if err != nil {
		return err
	}
	status, err := d.GetStatus()
	if err != nil {
		d.Close()
		return err
	}
	s.Driver = d
	log.Println("Scene storage initialized: " + status)
	return nil
}
