// Package config loads virtutil settings from the config file, VIRTUTIL_*
// environment variables and command-line flags.
package config

import (
	"github.com/virtutil/virtutil/pkg/virtutil/isql"
	"github.com/virtutil/virtutil/pkg/virtutil/loader"
)

// Default configuration values.
const (
	// AppName names the config, data and state directories.
	AppName = "virtutil"

	// EnvPrefix is prepended to environment variable names.
	EnvPrefix = "VIRTUTIL"

	// DefaultRetentionDays is how long history entries are kept.
	DefaultRetentionDays = 90

	DefaultHost     = isql.DefaultHost
	DefaultPort     = isql.DefaultPort
	DefaultUser     = isql.DefaultUser
	DefaultPassword = "dba"
	DefaultISQLPath = isql.DefaultISQLPath
	DefaultDocker   = isql.DefaultDocker

	DefaultBatchSize          = loader.DefaultBatchSize
	DefaultCheckpointInterval = loader.DefaultCheckpointInterval
	DefaultSchedulerInterval  = loader.DefaultSchedulerInterval
)

// DefaultComponents are the per-component log levels written by
// WriteDefault.
var DefaultComponents = map[string]string{
	"isql":   "info",
	"loader": "info",
	"docker": "info",
	"proc":   "warn",
}
