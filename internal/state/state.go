// Package state persists per-channel settings, characters, text-adventure
// rosters and user aliases as JSON documents under the data directory.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
)

// ErrNotFound is returned when a named document does not exist.
var ErrNotFound = errors.New("not found")

// DirectGuild is the guild id used for direct-message channels.
const DirectGuild = "dm"

// ChannelSettings are the per-channel conversation settings.
type ChannelSettings struct {
	Active      bool     `json:"active"`
	Model       string   `json:"model,omitempty"`
	Character   string   `json:"character,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// Character is a persona the bot can play in a guild.
type Character struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedBy   string `json:"createdBy,omitempty"`
}

// AdventurePlayer is one player's entry in a text adventure.
type AdventurePlayer struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Adventure is the state of a text adventure in one channel.
type Adventure struct {
	Active  bool                       `json:"active"`
	Players map[string]AdventurePlayer `json:"players"` // keyed by user id
}

// PlayerList returns the players ordered by user id.
func (a Adventure) PlayerList() []AdventurePlayer {
	ids := make([]string, 0, len(a.Players))
	for id := range a.Players {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]AdventurePlayer, 0, len(ids))
	for _, id := range ids {
		out = append(out, a.Players[id])
	}
	return out
}

// Store reads and writes state documents. Unreadable documents are
// logged and treated as absent.
type Store struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	aliases map[string]string
}

// NewStore creates a store rooted at dataDir and loads the alias table.
func NewStore(dataDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Store{
		dir:     dataDir,
		logger:  logger.With("component", "state"),
		aliases: make(map[string]string),
	}
	if err := s.readJSON(s.aliasPath(), &s.aliases); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if s.aliases == nil {
		s.aliases = make(map[string]string)
	}
	return s, nil
}

// Channel returns a channel's settings; missing or corrupt files yield the zero value.
func (s *Store) Channel(guild, channel string) ChannelSettings {
	var cs ChannelSettings
	if err := s.readJSON(s.channelPath(guild, channel), &cs); err != nil {
		return ChannelSettings{}
	}
	return cs
}

// SaveChannel stores a channel's settings.
func (s *Store) SaveChannel(guild, channel string, cs ChannelSettings) error {
	return s.writeJSON(s.channelPath(guild, channel), cs)
}

// Character returns a guild's character by name (case-insensitive).
func (s *Store) Character(guild, name string) (Character, error) {
	var c Character
	if err := s.readJSON(s.characterPath(guild, name), &c); err != nil {
		return Character{}, fmt.Errorf("character %q: %w", name, ErrNotFound)
	}
	return c, nil
}

// SaveCharacter stores a character, replacing any with the same name.
func (s *Store) SaveCharacter(guild string, c Character) error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("character name is required")
	}
	return s.writeJSON(s.characterPath(guild, c.Name), c)
}

// DeleteCharacter removes a character.
func (s *Store) DeleteCharacter(guild, name string) error {
	err := os.Remove(s.characterPath(guild, name))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("character %q: %w", name, ErrNotFound)
	}
	return err
}

// Characters lists a guild's characters ordered by name.
func (s *Store) Characters(guild string) ([]Character, error) {
	dir := filepath.Join(s.guildDir(guild), "characters")
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list characters: %w", err)
	}

	var out []Character
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		var c Character
		if err := s.readJSON(filepath.Join(dir, e.Name()), &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Character) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// Adventure returns a channel's text adventure; missing or corrupt files yield an inactive game.
func (s *Store) Adventure(guild, channel string) Adventure {
	var a Adventure
	if err := s.readJSON(s.adventurePath(guild, channel), &a); err != nil {
		a = Adventure{}
	}
	if a.Players == nil {
		a.Players = make(map[string]AdventurePlayer)
	}
	return a
}

// SaveAdventure stores a channel's text adventure.
func (s *Store) SaveAdventure(guild, channel string, a Adventure) error {
	return s.writeJSON(s.adventurePath(guild, channel), a)
}

// DeleteAdventure removes a channel's text adventure.
func (s *Store) DeleteAdventure(guild, channel string) error {
	err := os.Remove(s.adventurePath(guild, channel))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

type managerRole struct {
	RoleID string `json:"roleId"`
}

// ManagerRole returns the id of the guild's manager role, or "" if unset.
func (s *Store) ManagerRole(guild string) string {
	var mr managerRole
	if err := s.readJSON(s.managerRolePath(guild), &mr); err != nil {
		return ""
	}
	return mr.RoleID
}

// SetManagerRole sets the guild's manager role; an empty id removes it.
func (s *Store) SetManagerRole(guild, roleID string) error {
	if roleID == "" {
		err := os.Remove(s.managerRolePath(guild))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	return s.writeJSON(s.managerRolePath(guild), managerRole{RoleID: roleID})
}

// Alias implements prompt.AliasLookup.
func (s *Store) Alias(userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.aliases[userID]
	return a, ok
}

// SetAlias sets a user's alias; an empty alias removes it.
func (s *Store) SetAlias(userID, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	alias = strings.TrimSpace(alias)
	if alias == "" {
		delete(s.aliases, userID)
	} else {
		s.aliases[userID] = alias
	}
	return s.writeJSON(s.aliasPath(), s.aliases)
}

func (s *Store) guildDir(guild string) string {
	if guild == "" {
		guild = DirectGuild
	}
	return filepath.Join(s.dir, "guilds", safeName(guild))
}

func (s *Store) channelPath(guild, channel string) string {
	return filepath.Join(s.guildDir(guild), "channels", safeName(channel)+".json")
}

func (s *Store) characterPath(guild, name string) string {
	return filepath.Join(s.guildDir(guild), "characters", safeName(strings.ToLower(name))+".json")
}

func (s *Store) adventurePath(guild, channel string) string {
	return filepath.Join(s.guildDir(guild), "games", "textadventure", safeName(channel)+".json")
}

func (s *Store) managerRolePath(guild string) string {
	return filepath.Join(s.guildDir(guild), "manager_role.json")
}

func (s *Store) aliasPath() string {
	return filepath.Join(s.dir, "aliases.json")
}

// readJSON decodes path into v. A missing file is ErrNotFound; a corrupt
// one is logged and also reported as ErrNotFound.
func (s *Store) readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn("corrupt state file, using defaults", "path", path, "error", err)
		return ErrNotFound
	}
	return nil
}

// writeJSON replaces path atomically.
func (s *Store) writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Each writer gets its own temp file; documents are shared across channels.
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace state: %w", err)
	}
	return nil
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// safeName turns an id or name into a file name component.
func safeName(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	s = strings.ReplaceAll(s, "..", "_")
	if s == "" || s == "." {
		return "_"
	}
	return s
}
