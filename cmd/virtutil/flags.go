package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/virtutil/virtutil/pkg/virtutil/config"
)

// flagKeys maps command-line flags to configuration keys. Only flags that
// were set on the command line override the file and environment.
var flagKeys = map[string]string{
	"host":                "connection.host",
	"port":                "connection.port",
	"user":                "connection.user",
	"password":            "connection.password",
	"isql-path":           "isql.path",
	"docker-container":    "docker.container",
	"docker-isql-path":    "docker.isql_path",
	"docker-path":         "docker.path",
	"checkpoint-interval": "load.checkpoint_interval",
	"scheduler-interval":  "load.scheduler_interval",
	"batch-size":          "load.batch_size",
}

// bindFlags binds the command's flags that have a configuration key.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || err != nil {
			return
		}
		if bindErr := v.BindPFlag(key, f); bindErr != nil {
			err = fmt.Errorf("binding flag --%s: %w", f.Name, bindErr)
		}
	})
	return err
}

// addConnectionFlags adds the isql login and routing flags. Defaults are
// shown for help only; the configured value wins unless the flag is set.
func addConnectionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("host", "H", config.DefaultHost, "server host")
	f.IntP("port", "P", config.DefaultPort, "isql port")
	f.StringP("user", "u", config.DefaultUser, "database user")
	f.StringP("password", "k", config.DefaultPassword, "database password")
	f.String("isql-path", config.DefaultISQLPath, "isql binary on the host")
	f.String("docker-container", "", "run isql inside this container with docker exec")
	f.String("docker-isql-path", config.DefaultISQLPath, "isql binary inside the container")
	f.String("docker-path", config.DefaultDocker, "docker binary")
}

// addTuningFlags adds the post-load engine settings.
func addTuningFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int("checkpoint-interval", config.DefaultCheckpointInterval, "checkpoint interval in minutes restored after loading")
	f.Int("scheduler-interval", config.DefaultSchedulerInterval, "scheduler interval in minutes restored after loading")
}

// secondsFlag converts a whole-seconds flag value.
func secondsFlag(n int) time.Duration {
	return time.Duration(n) * time.Second
}
