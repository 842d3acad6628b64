package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// Settings keys. Absent keys fall back to the defaults below.
const (
	// SettingVoteDelaySeconds is the human-intervention window between an
	// analysis recommendation and the actual cast.
	SettingVoteDelaySeconds = "vote_delay_seconds"
	// SettingPrompt is the operator instruction text prepended to every
	// analysis request.
	SettingPrompt = "prompt"
	// SettingMinimumKnownID is the sync fast-path cutoff: every proposal at
	// or below this ID is assumed already mirrored.
	SettingMinimumKnownID = "minimum_known_id"
	// SettingNeuronID caches the selected voting neuron of the configured
	// identity.
	SettingNeuronID = "neuron_id"
	// SettingTrustedProposerMax is the proposer-ID threshold at or below
	// which a proposer is flagged as a trusted authority in the prompt.
	SettingTrustedProposerMax = "trusted_proposer_max"
)

// settingDefaults documents the fallback for each known key. Keys not
// listed here (like the ad hoc neuron cache) default to empty.
var settingDefaults = map[string]string{
	SettingVoteDelaySeconds:   "3600",
	SettingPrompt:             "",
	SettingMinimumKnownID:     "",
	SettingNeuronID:           "",
	SettingTrustedProposerMax: "100",
}

// GetSetting returns the stored value for key, or its documented default
// when absent.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?;`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return settingDefaults[key], nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

// SetSetting stores the value for key. Writes are idempotent upserts.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO config (key, value, updated_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP;
		`, key, value)
		return err
	})
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// GetSettingUint64 parses the setting as an unsigned integer. An unset
// value yields (0, false, nil).
func (s *Store) GetSettingUint64(ctx context.Context, key string) (uint64, bool, error) {
	raw, err := s.GetSetting(ctx, key)
	if err != nil {
		return 0, false, err
	}
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("setting %q is not a number: %w", key, err)
	}
	return v, true, nil
}

// VoteDelaySeconds returns the configured scheduling delay.
func (s *Store) VoteDelaySeconds(ctx context.Context) (int64, error) {
	v, ok, err := s.GetSettingUint64(ctx, SettingVoteDelaySeconds)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 3600, nil
	}
	return int64(v), nil
}
