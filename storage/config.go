// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package storage

import (
	"time"

	"github.com/spf13/viper"

	"github.com/ledger-labs/chaindb/fault"
)

// Config describes how to assemble a store stack. It is deliberately small:
// the store itself has no notion of configuration file formats or flags,
// those belong to whatever external collaborator calls Open.
type Config struct {
	Directory       string        `mapstructure:"directory"`
	ClearBeforeOpen bool          `mapstructure:"clear_before_open"`
	CacheMaxSize    int64         `mapstructure:"cache_max_size"`
	ReadCacheTTL    time.Duration `mapstructure:"read_cache_ttl"`
	ReadCacheSweep  time.Duration `mapstructure:"read_cache_sweep"`
	LRUEntries      int           `mapstructure:"lru_entries"`
}

// DefaultConfig returns the settings used when a caller supplies none.
func DefaultConfig(directory string) Config {
	return Config{
		Directory:      directory,
		CacheMaxSize:   4 * 1024 * 1024,
		ReadCacheTTL:   5 * time.Minute,
		ReadCacheSweep: 10 * time.Minute,
		LRUEntries:     4096,
	}
}

// LoadConfig reads a store Config section out of an already-configured
// viper instance, the way external tools (see cmd/kvctl) fold storage
// settings into their own configuration file.
func LoadConfig(v *viper.Viper, key string) (Config, error) {
	cfg := DefaultConfig("")
	sub := v.Sub(key)
	if sub == nil {
		return cfg, fault.ErrDatabaseIsNotSet
	}
	if err := sub.Unmarshal(&cfg); err != nil {
		return Config{}, fault.InvalidError(err.Error())
	}
	if cfg.Directory == "" {
		return Config{}, fault.ErrDatabaseIsNotSet
	}
	return cfg, nil
}

// Open assembles the standard production stack described in spec §4:
// LRUCache over ReadThroughCache over PersistentBackend, with a
// WriteThroughCache underneath the read cache so buffered writes are
// visible to it immediately.
func Open(cfg Config) (IDB, error) {
	pb, err := OpenPersistentBackend(cfg.Directory, cfg.ClearBeforeOpen)
	if err != nil {
		return nil, err
	}
	wtc := NewWriteThroughCache(pb, cfg.CacheMaxSize)
	rtc := NewReadThroughCache(wtc, cfg.ReadCacheTTL, cfg.ReadCacheSweep)
	lru, err := NewLRUCache[*ReadThroughCache](rtc, cfg.LRUEntries)
	if err != nil {
		pb.Close()
		return nil, err
	}
	return lru, nil
}
