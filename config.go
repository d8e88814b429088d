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
	"errors"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/maxsupermanhd/TileSync/sceneStorage"
	"github.com/maxsupermanhd/TileSync/tileStorage"
	"gopkg.in/yaml.v3"
)

type TileSyncConfig struct {
	LogsLocation string `yaml:"logs_location" env:"LOGS_LOCATION"`
	// Verbose dumps the fetched map config on startup.
	Verbose bool `yaml:"verbose" env:"VERBOSE"`

	Scenes   sceneStorage.Storage `yaml:"scenes" envPrefix:"SCENES_"`
	Renderer string               `yaml:"renderer" env:"RENDERER"`
	Tiles    tileStorage.Config   `yaml:"tiles" envPrefix:"TILES_"`

	// Area overrides the area selector of the map config.
	Area string `yaml:"area" env:"AREA"`
	// Salt is folded into every chunk hash, changing it rebuilds everything.
	Salt uint32 `yaml:"salt" env:"SALT"`

	ZScan             int `yaml:"zscan" env:"ZSCAN"`
	DrainEvery        int `yaml:"drain_every" env:"DRAIN_EVERY"`
	MaxPendingUploads int `yaml:"max_pending_uploads" env:"MAX_PENDING_UPLOADS"`
	MipBatch          int `yaml:"mip_batch" env:"MIP_BATCH"`
	CacheMaxUnused    int `yaml:"cache_max_unused" env:"CACHE_MAX_UNUSED"`
	CacheMinUnused    int `yaml:"cache_min_unused" env:"CACHE_MIN_UNUSED"`

	Web struct {
		Listen string `yaml:"listen" env:"LISTEN"`
	} `yaml:"web" envPrefix:"WEB_"`
	// StopFile requests a graceful stop once it gets created.
	StopFile string `yaml:"stop_file" env:"STOP_FILE"`
}

var loadedConfig TileSyncConfig

func configPath() string {
	path := os.Getenv("TILESYNC_CONFIG")
	if path == "" {
		path = "tilesync.yaml"
	}
	return path
}

// loadConfig reads .env, then the yaml file, then TILESYNC_ environment
// overrides, each layer winning over the previous one.
func loadConfig() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	b, err := os.ReadFile(configPath())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	var c TileSyncConfig
	if len(b) > 0 {
		if err := yaml.Unmarshal(b, &c); err != nil {
			return err
		}
	}
	if err := env.ParseWithOptions(&c, env.Options{Prefix: "TILESYNC_"}); err != nil {
		return err
	}
	if c.LogsLocation == "" {
		c.LogsLocation = "./logs/TileSync.log"
	}
	loadedConfig = c
	return nil
}
