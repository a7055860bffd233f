// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package skills implements the Skills Catalog (component L): discovery of
// SKILL.md front matter under the agent home's skills/ tree.
package skills

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Skill is one discovered skill directory.
type Skill struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Path        string `json:"path"`
}

// List walks <agentHome>/skills/*/SKILL.md, parsing each file's front
// matter. A directory with no parseable front matter is skipped rather than
// failing the whole listing.
func List(agentHome string) ([]Skill, error) {
	root := filepath.Join(agentHome, "skills")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name(), "SKILL.md")
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		name, description, ok := parseFrontMatter(data)
		if !ok {
			continue
		}
		if name == "" {
			name = entry.Name()
		}
		out = append(out, Skill{Name: name, Description: description, Path: path})
	}
	return out, nil
}

// parseFrontMatter extracts the name/description scalar fields from a
// leading `---`-delimited YAML block.
func parseFrontMatter(data []byte) (name, description string, ok bool) {
	text := string(data)
	if !strings.HasPrefix(text, "---") {
		return "", "", false
	}
	rest := text[3:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return "", "", false
	}
	block := rest[:end]

	var fields struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	}
	if err := yaml.Unmarshal([]byte(block), &fields); err != nil {
		return "", "", false
	}
	if fields.Name == "" && fields.Description == "" {
		return "", "", false
	}
	return fields.Name, fields.Description, true
}
