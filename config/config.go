// SPDX-FileCopyrightText: Copyright (C) 2018-2023 Yawning Angel, David Stainton.
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config implements KryptonConfig: the immutable-after-construction
// configuration described in spec §3, loaded from TOML.
//
// Grounded on client2/config/config.go's Load/LoadFile/FixupAndValidate
// pattern: a flat struct with defaulted sub-sections, validated once after
// parsing rather than scattered nil checks through the rest of the code.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DatapathProtocol selects the dataplane transform.
type DatapathProtocol string

const (
	DatapathBridge DatapathProtocol = "BRIDGE"
	DatapathIPSec  DatapathProtocol = "IPSEC"
	DatapathIKE    DatapathProtocol = "IKE"
)

// IPGeoLevel controls how precise the exit location in PublicMetadata is.
type IPGeoLevel string

const (
	IPGeoCity    IPGeoLevel = "CITY"
	IPGeoCountry IPGeoLevel = "COUNTRY"
)

const (
	defaultRekeyDuration              = 24 * time.Hour
	defaultDatapathReattemptDelay     = 500 * time.Millisecond
	defaultMaxDatapathReattempts      = 4
	defaultDatapathConnectingTimeout  = 10 * time.Second
	defaultLogLevel                   = "INFO"
)

// Logging is the logging sub-configuration, in the style of
// client2/config.Logging.
type Logging struct {
	Disable bool
	File    string
	Level   string
}

func (l *Logging) fixupAndValidate() error {
	if l.Level == "" {
		l.Level = defaultLogLevel
	}
	switch strings.ToUpper(l.Level) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		return fmt.Errorf("config: Logging.Level %q is invalid", l.Level)
	}
	l.Level = strings.ToUpper(l.Level)
	return nil
}

// KryptonConfig is the top-level, immutable-after-construction client
// configuration described in spec §3.
type KryptonConfig struct {
	ZincURL             string
	BrassURL            string
	InitialDataURL      string
	UpdatePathInfoURL   string
	ServiceType         string
	ApnType             string
	DatapathProtocol    DatapathProtocol
	CopperHostnameSuffix []string
	IPGeoLevel          IPGeoLevel

	EnableBlindSigning     bool
	DynamicMTUEnabled      bool
	PublicMetadataEnabled  bool

	RekeyDuration time.Duration

	DatapathConnectingTimerEnabled  bool
	DatapathConnectingTimerDuration time.Duration

	DatapathReattemptDelay time.Duration
	MaxDatapathReattempts  int

	Logging *Logging
}

// FixupAndValidate applies defaults and validates required fields, in the
// style of client2/config.Config.FixupAndValidate.
func (c *KryptonConfig) FixupAndValidate() error {
	if c.ZincURL == "" {
		return errors.New("config: ZincURL is empty")
	}
	if c.BrassURL == "" {
		return errors.New("config: BrassURL is empty")
	}
	if c.PublicMetadataEnabled && c.InitialDataURL == "" {
		return errors.New("config: PublicMetadataEnabled requires InitialDataURL")
	}

	switch c.DatapathProtocol {
	case "":
		c.DatapathProtocol = DatapathIPSec
	case DatapathBridge, DatapathIPSec, DatapathIKE:
	default:
		return fmt.Errorf("config: DatapathProtocol %q is invalid", c.DatapathProtocol)
	}

	if c.IPGeoLevel == "" {
		c.IPGeoLevel = IPGeoCity
	}

	if c.RekeyDuration == 0 {
		c.RekeyDuration = defaultRekeyDuration
	}
	if c.DatapathReattemptDelay == 0 {
		c.DatapathReattemptDelay = defaultDatapathReattemptDelay
	}
	if c.MaxDatapathReattempts == 0 {
		c.MaxDatapathReattempts = defaultMaxDatapathReattempts
	}
	if c.DatapathConnectingTimerEnabled && c.DatapathConnectingTimerDuration == 0 {
		c.DatapathConnectingTimerDuration = defaultDatapathConnectingTimeout
	}

	if c.Logging == nil {
		c.Logging = &Logging{Level: defaultLogLevel}
	}
	if err := c.Logging.fixupAndValidate(); err != nil {
		return err
	}

	return nil
}

// Load parses and validates the provided TOML buffer.
func Load(b []byte) (*KryptonConfig, error) {
	cfg := new(KryptonConfig)
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the config file at path.
func LoadFile(path string) (*KryptonConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Load(b)
}
