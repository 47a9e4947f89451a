// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/arborun/arbor/pkg/config/provider"
	"github.com/arborun/arbor/pkg/logger"
)

var log = logger.ForComponent("config")

// Load reads and parses the config file at path, expanding ${VAR} and
// ${VAR:-default} references against the environment, then applies
// defaults and validates the result. A .env / .env.local file in the
// working directory is loaded first if present.
func Load(path string) (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	p, err := provider.NewFileProvider(path)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	raw, err := p.Load(context.Background())
	if err != nil {
		return nil, err
	}

	return parse(raw)
}

func parse(raw []byte) (*Config, error) {
	var generic map[string]interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	expanded := ExpandEnvVarsInData(generic)

	reencoded, err := yaml.Marshal(expanded)
	if err != nil {
		return nil, fmt.Errorf("config: re-encode expanded yaml: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(reencoded, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Watch loads path whenever it changes on disk, invoking onChange with
// the freshly parsed Config. It returns as soon as the watch has started
// (or with an error if it fails to start); the reloads run in a
// background goroutine until ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	p, err := provider.NewFileProvider(path)
	if err != nil {
		return err
	}

	changes, err := p.Watch(ctx)
	if err != nil {
		p.Close()
		return err
	}

	go func() {
		defer p.Close()
		for range changes {
			raw, err := p.Load(ctx)
			if err != nil {
				log.Error("reload failed", "path", path, "error", err)
				continue
			}
			cfg, err := parse(raw)
			if err != nil {
				log.Error("reload rejected", "path", path, "error", err)
				continue
			}
			onChange(cfg)
		}
	}()

	return nil
}
