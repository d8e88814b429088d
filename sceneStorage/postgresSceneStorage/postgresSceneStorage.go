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

package postgresSceneStorage

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/maxsupermanhd/TileSync/sceneStorage"
)

const schema = `
	create table if not exists chunk_scenes (
		x int not null,
		z int not null,
		version bigint not null,
		data bytea not null,
		created_at timestamptz not null default now(),
		primary key (x, z)
	);`

type PostgresSceneStorage struct {
	dbpool *pgxpool.Pool
}

func NewPostgresSceneStorage(ctx context.Context, connection string) (*PostgresSceneStorage, error) {
	p, err := pgxpool.Connect(ctx, connection)
	if err != nil {
		return nil, err
	}
	if _, err := p.Exec(ctx, schema); err != nil {
		p.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &PostgresSceneStorage{dbpool: p}, nil
}

func (s *PostgresSceneStorage) Close() error {
	s.dbpool.Close()
	return nil
}

func (s *PostgresSceneStorage) GetStatus() (ver string, err error) {
	var count int64
	var size int64
	err = s.dbpool.QueryRow(context.Background(), `select version()`).Scan(&ver)
	if err != nil {
		return
	}
	err = s.dbpool.QueryRow(context.Background(), `select count(*), coalesce(sum(length(data)), 0) from chunk_scenes`).Scan(&count, &size)
	if err != nil {
		return
	}
	return fmt.Sprintf("%s with %d chunks (%s)", ver, count, humanize.Bytes(uint64(size))), nil
}

func (s *PostgresSceneStorage) GetChunkScene(ctx context.Context, cx, cz int) (*sceneStorage.ChunkScene, error) {
	var d []byte
	derr := s.dbpool.QueryRow(ctx, `
		select data
		from chunk_scenes
		where x = $1 AND z = $2`, cx, cz).Scan(&d)
	if derr != nil {
		if derr == pgx.ErrNoRows {
			derr = nil
		}
		return nil, derr
	}
	scene, err := sceneStorage.DecodeScene(d)
	if err != nil {
		return nil, fmt.Errorf("chunk %dx %dz: %w", cx, cz, err)
	}
	return scene, nil
}

func (s *PostgresSceneStorage) GetChunkVersion(ctx context.Context, cx, cz int) (uint32, bool, error) {
	var v int64
	derr := s.dbpool.QueryRow(ctx, `select version from chunk_scenes where x = $1 AND z = $2`, cx, cz).Scan(&v)
	if derr != nil {
		if derr == pgx.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, derr
	}
	return uint32(v), true, nil
}

func (s *PostgresSceneStorage) AddChunkScene(ctx context.Context, scene *sceneStorage.ChunkScene) error {
	if err := scene.Validate(); err != nil {
		return err
	}
	b, err := sceneStorage.EncodeScene(scene)
	if err != nil {
		return err
	}
	_, err = s.dbpool.Exec(ctx, `
		insert into chunk_scenes (x, z, version, data)
		values ($1, $2, $3, $4)
		on conflict (x, z) do update
		set version = excluded.version, data = excluded.data, created_at = now()`,
		scene.X, scene.Z, int64(scene.Version), b)
	return err
}
