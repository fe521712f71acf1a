// Package settings persists per-guild preferences in SQLite: the
// autoplay and autodisconnect toggles, playback speed, the user
// blacklist and the role whitelist. Reads never fail the caller; on
// error they log and fall back to defaults so playback keeps working
// without the database.
package settings

import (
	"database/sql"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"
	zlog "github.com/rs/zerolog/log"
)

// Defaults returned when a guild has no stored row.
const (
	DefaultAutoplay       = true
	DefaultAutodisconnect = true
	DefaultPlaybackSpeed  = 1.0
)

// ErrBadSpeed means a playback speed outside the supported range.
var ErrBadSpeed = errors.New("playback speed out of range")

// Store is a SQLite-backed guild settings store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the settings database and migrates
// the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening settings database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "connecting to settings database")
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS guild_settings (
			guild_id       TEXT PRIMARY KEY,
			autoplay       INTEGER NOT NULL DEFAULT 1,
			autodisconnect INTEGER NOT NULL DEFAULT 1,
			playback_speed REAL    NOT NULL DEFAULT 1.0
		)`,
		`CREATE TABLE IF NOT EXISTS blacklist (
			guild_id TEXT NOT NULL,
			user_id  TEXT NOT NULL,
			PRIMARY KEY (guild_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS role_whitelist (
			guild_id TEXT NOT NULL,
			role_id  TEXT NOT NULL,
			PRIMARY KEY (guild_id, role_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrap(err, "migrating settings schema")
		}
	}
	return nil
}

// Autoplay reports whether finished tracks should chain into the next
// one for this guild.
func (s *Store) Autoplay(guildID string) bool {
	var v bool
	err := s.db.QueryRow(`SELECT autoplay FROM guild_settings WHERE guild_id = ?`, guildID).Scan(&v)
	switch {
	case err == sql.ErrNoRows:
		return DefaultAutoplay
	case err != nil:
		zlog.Warn().Err(err).Str("guildID", guildID).Msg("settings: autoplay read failed, using default")
		return DefaultAutoplay
	}
	return v
}

// SetAutoplay persists the autoplay toggle.
func (s *Store) SetAutoplay(guildID string, enabled bool) error {
	return s.upsert(guildID, "autoplay", enabled)
}

// Autodisconnect reports whether the bot should leave voice when the
// queue drains.
func (s *Store) Autodisconnect(guildID string) bool {
	var v bool
	err := s.db.QueryRow(`SELECT autodisconnect FROM guild_settings WHERE guild_id = ?`, guildID).Scan(&v)
	switch {
	case err == sql.ErrNoRows:
		return DefaultAutodisconnect
	case err != nil:
		zlog.Warn().Err(err).Str("guildID", guildID).Msg("settings: autodisconnect read failed, using default")
		return DefaultAutodisconnect
	}
	return v
}

// SetAutodisconnect persists the autodisconnect toggle.
func (s *Store) SetAutodisconnect(guildID string, enabled bool) error {
	return s.upsert(guildID, "autodisconnect", enabled)
}

// PlaybackSpeed returns the guild's speed multiplier, 1.0 if unset.
func (s *Store) PlaybackSpeed(guildID string) float64 {
	var v float64
	err := s.db.QueryRow(`SELECT playback_speed FROM guild_settings WHERE guild_id = ?`, guildID).Scan(&v)
	switch {
	case err == sql.ErrNoRows:
		return DefaultPlaybackSpeed
	case err != nil:
		zlog.Warn().Err(err).Str("guildID", guildID).Msg("settings: playback speed read failed, using default")
		return DefaultPlaybackSpeed
	}
	if v <= 0 {
		return DefaultPlaybackSpeed
	}
	return v
}

// SetPlaybackSpeed persists the speed multiplier, 0.5 to 2.0.
func (s *Store) SetPlaybackSpeed(guildID string, speed float64) error {
	if speed < 0.5 || speed > 2.0 {
		return errors.Wrap(ErrBadSpeed, "speed must be between 0.5 and 2.0")
	}
	return s.upsert(guildID, "playback_speed", speed)
}

func (s *Store) upsert(guildID, column string, value any) error {
	// column comes from a fixed call-site set, never user input.
	query := `INSERT INTO guild_settings (guild_id, ` + column + `) VALUES (?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET ` + column + ` = excluded.` + column
	if _, err := s.db.Exec(query, guildID, value); err != nil {
		return errors.Wrapf(err, "updating %s", column)
	}
	return nil
}

// IsUserBlacklisted reports whether the user is blocked from uploading
// in this guild.
func (s *Store) IsUserBlacklisted(guildID, userID string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM blacklist WHERE guild_id = ? AND user_id = ?`, guildID, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "reading blacklist")
	}
	return true, nil
}

// BlacklistUser adds a user to the guild's blacklist. Idempotent.
func (s *Store) BlacklistUser(guildID, userID string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO blacklist (guild_id, user_id) VALUES (?, ?)`, guildID, userID)
	return errors.Wrap(err, "adding to blacklist")
}

// UnblacklistUser removes a user from the guild's blacklist.
func (s *Store) UnblacklistUser(guildID, userID string) error {
	_, err := s.db.Exec(`DELETE FROM blacklist WHERE guild_id = ? AND user_id = ?`, guildID, userID)
	return errors.Wrap(err, "removing from blacklist")
}

// BlacklistedUsers lists the blocked user IDs for a guild.
func (s *Store) BlacklistedUsers(guildID string) ([]string, error) {
	return s.idList(`SELECT user_id FROM blacklist WHERE guild_id = ? ORDER BY user_id`, guildID)
}

// WhitelistedRoles lists the roles allowed to upload. An empty list
// means every role may upload.
func (s *Store) WhitelistedRoles(guildID string) ([]string, error) {
	return s.idList(`SELECT role_id FROM role_whitelist WHERE guild_id = ? ORDER BY role_id`, guildID)
}

// WhitelistRole allows a role to upload in this guild. Idempotent.
func (s *Store) WhitelistRole(guildID, roleID string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO role_whitelist (guild_id, role_id) VALUES (?, ?)`, guildID, roleID)
	return errors.Wrap(err, "adding to role whitelist")
}

// UnwhitelistRole removes a role from the whitelist.
func (s *Store) UnwhitelistRole(guildID, roleID string) error {
	_, err := s.db.Exec(`DELETE FROM role_whitelist WHERE guild_id = ? AND role_id = ?`, guildID, roleID)
	return errors.Wrap(err, "removing from role whitelist")
}

func (s *Store) idList(query, guildID string) ([]string, error) {
	rows, err := s.db.Query(query, guildID)
	if err != nil {
		return nil, errors.Wrap(err, "querying settings")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scanning settings row")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "iterating settings rows")
}
