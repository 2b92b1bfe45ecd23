// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names an environment variable holding the config path.
const EnvConfigPath = "VULNGRAPH_CONFIG"

// DefaultPath returns ~/.vulngraph/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".vulngraph", "config.yaml")
}

// Load reads the configuration.
//
// # Description
//
// An explicit path (or $VULNGRAPH_CONFIG) must exist. Without one, the
// default path is read when present and DefaultConfig is used otherwise.
// Values in the file override the defaults field by field. Unknown keys
// are rejected. Paths are ~-expanded after validation.
//
// # Outputs
//
//   - Config: Validated configuration.
//   - error: Non-nil if the file is unreadable, malformed or invalid.
func Load(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		if env := os.Getenv(EnvConfigPath); env != "" {
			path, explicit = env, true
		} else {
			path = DefaultPath()
		}
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(expandHome(path))
	switch {
	case err == nil:
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.expandPaths()
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

func (c *Config) expandPaths() {
	c.Graph.SnapshotPath = expandHome(c.Graph.SnapshotPath)
	c.Graph.BadgerDir = expandHome(c.Graph.BadgerDir)
	c.Logging.LogDir = expandHome(c.Logging.LogDir)
	c.Inbox.Dir = expandHome(c.Inbox.Dir)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
