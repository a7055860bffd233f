// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const globalStateFile = ".codex-global-state.json"

type globalState struct {
	ThreadTitles struct {
		Titles map[string]string `json:"titles"`
		Order  []string          `json:"order"`
	} `json:"thread-titles"`
}

// TitleMap loads the thread-id -> title mapping from the agent home's
// global state file. A missing or malformed file yields an empty map.
func TitleMap(agentHome string) map[string]string {
	state, _ := loadGlobalState(agentHome)
	if state.ThreadTitles.Titles == nil {
		return map[string]string{}
	}
	return state.ThreadTitles.Titles
}

func loadGlobalState(agentHome string) (globalState, error) {
	var state globalState
	data, err := os.ReadFile(filepath.Join(agentHome, globalStateFile))
	if err != nil {
		return state, err
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, err
	}
	return state, nil
}

// SetTitle renames a native thread, writing the new title into the global
// state file and prepending the thread id to the order list if absent.
func SetTitle(agentHome, threadID, title string) error {
	state, err := loadGlobalState(agentHome)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if state.ThreadTitles.Titles == nil {
		state.ThreadTitles.Titles = make(map[string]string)
	}
	state.ThreadTitles.Titles[threadID] = title

	found := false
	for _, id := range state.ThreadTitles.Order {
		if id == threadID {
			found = true
			break
		}
	}
	if !found {
		state.ThreadTitles.Order = append([]string{threadID}, state.ThreadTitles.Order...)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal global state: %w", err)
	}

	path := filepath.Join(agentHome, globalStateFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp global state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename global state: %w", err)
	}
	return nil
}
