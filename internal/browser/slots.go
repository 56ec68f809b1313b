package browser

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SlotStore persists cookie snapshots per profile slot.
type SlotStore interface {
	Load(profileDir, slot string) ([]Cookie, error)
	Save(profileDir, slot string, cookies []Cookie) error
}

// FileSlotStore keeps each slot as <profile>/slots/<slot>/cookies.json.
type FileSlotStore struct{}

const (
	slotsDirName    = "slots"
	cookiesFileName = "cookies.json"
)

// SlotPath returns the cookie file path of a slot.
func SlotPath(profileDir, slot string) (string, error) {
	if slot == "" || slot == "." || slot == ".." || strings.ContainsAny(slot, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSlot, slot)
	}
	return filepath.Join(profileDir, slotsDirName, slot, cookiesFileName), nil
}

// Load returns the cookies of slot, or nil if the slot was never saved.
func (FileSlotStore) Load(profileDir, slot string) ([]Cookie, error) {
	path, err := SlotPath(profileDir, slot)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // Path is built from the account profile directory
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read slot %s: %w", slot, err)
	}
	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("failed to parse slot %s: %w", slot, err)
	}
	return cookies, nil
}

// Save writes cookies to slot, replacing its previous content.
func (FileSlotStore) Save(profileDir, slot string, cookies []Cookie) error {
	path, err := SlotPath(profileDir, slot)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create slot directory: %w", err)
	}
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cookies: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write slot %s: %w", slot, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace slot %s: %w", slot, err)
	}
	return nil
}
