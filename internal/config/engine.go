package config

import (
	"tenderzen/smart-import/internal/smartimport"
)

// ControllerConfig derives the per-session engine settings.
func (c *Config) ControllerConfig() smartimport.ControllerConfig {
	cc := smartimport.DefaultControllerConfig()
	if c.Import.PollInterval > 0 {
		cc.Poll.Interval = c.Import.PollInterval
	}
	if c.Import.PollTimeout != 0 {
		cc.Poll.Timeout = c.Import.PollTimeout
	}
	if c.Import.Language != "" {
		cc.Analysis.Language = c.Import.Language
	}
	if c.Storage.MaxFileSize > 0 {
		cc.PrimaryPolicy.MaxFileSize = c.Storage.MaxFileSize
		cc.AdditionalPolicy.MaxFileSize = c.Storage.MaxFileSize
	}
	return cc
}
