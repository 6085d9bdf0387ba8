// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/luxfi/finality"
)

const (
	envPrefix = "FINALITY"

	ConfigFileKey = "config"
	LogLevelKey   = "log-level"
	DBKey         = "db"

	SizeKey                      = "size"
	ThresholdKey                 = "threshold"
	StepDurationKey              = "step-duration"
	MaxResponseSizeKey           = "message-synchronization-max-response-size"
	MaxHashesPerPointKey         = "max-hashes-per-point"
	PrevoteBlocksMultipleKey     = "prevote-blocks-multiple"
	UnfinalizedBlocksDurationKey = "unfinalized-blocks-duration"
	VotingSetGroupingKey         = "voting-set-grouping"
	EnableRevoteOnBootKey        = "enable-revote-on-boot"
	EnableVotesBackupKey         = "enable-votes-backup"

	// VotersKey maps hex encoded voting keys to weights, only read from the config file.
	VotersKey = "voters"
)

func addGlobalFlags(flags *pflag.FlagSet) {
	flags.String(ConfigFileKey, "", "Config file to read, flags and FINALITY_ environment variables take precedence")
	flags.String(LogLevelKey, "info", "Log level")
}

func addFinalityFlags(flags *pflag.FlagSet) {
	defaults := finality.DefaultConfig()
	flags.Uint64(SizeKey, defaults.Size, "Denominator of the voting threshold")
	flags.Uint64(ThresholdKey, defaults.Threshold, "Numerator of the voting threshold")
	flags.Duration(StepDurationKey, defaults.StepDuration, "Time spent in each voting stage")
	flags.Uint64(MaxResponseSizeKey, defaults.MessageSynchronizationMaxResponseSize, "Maximum bytes of messages returned to a peer")
	flags.Uint32(MaxHashesPerPointKey, defaults.MaxHashesPerPoint, "Maximum hashes in a prevote")
	flags.Uint16(PrevoteBlocksMultipleKey, defaults.PrevoteBlocksMultiple, "Alignment of prevoted chains")
	flags.Uint64(UnfinalizedBlocksDurationKey, defaults.UnfinalizedBlocksDuration, "Unfinalized blocks tolerated before pulling proofs")
	flags.Uint64(VotingSetGroupingKey, defaults.VotingSetGrouping, "Blocks finalized by each voting set")
	flags.Bool(EnableRevoteOnBootKey, defaults.EnableRevoteOnBoot, "Resume voting after the last stored proof")
	flags.Bool(EnableVotesBackupKey, defaults.EnableVotesBackup, "Persist every message sent")
}

// newViper binds flags, the environment and the optional config file.
func newViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return nil, err
	}

	if configFile := v.GetString(ConfigFileKey); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}
	return v, nil
}

func parseConfig(v *viper.Viper) (finality.Config, error) {
	config := finality.DefaultConfig()
	if err := v.Unmarshal(&config); err != nil {
		return finality.Config{}, err
	}
	return config, config.Verify()
}

func parseVoters(v *viper.Viper) (map[finality.VotingKey]uint64, error) {
	raw := v.GetStringMap(VotersKey)
	voters := make(map[finality.VotingKey]uint64, len(raw))
	for encoded := range raw {
		keyBytes, err := hex.DecodeString(encoded)
		if err != nil || len(keyBytes) != len(finality.VotingKey{}) {
			return nil, fmt.Errorf("invalid voting key %q", encoded)
		}

		var key finality.VotingKey
		copy(key[:], keyBytes)
		voters[key] = v.GetUint64(VotersKey + "." + encoded)
	}
	return voters, nil
}

func newLogger(v *viper.Viper) (*finality.ZapLogger, error) {
	level, err := zapcore.ParseLevel(v.GetString(LogLevelKey))
	if err != nil {
		return nil, err
	}
	return finality.NewProductionLogger(level)
}
