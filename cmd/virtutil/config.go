package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/virtutil/virtutil/pkg/virtutil/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage virtutil configuration settings.

Configuration is loaded from:
  1. --config, when given
  2. $XDG_CONFIG_HOME/virtutil/config.yaml
  3. ~/.config/virtutil/config.yaml

Environment variables override config file settings using the VIRTUTIL_ prefix:
  VIRTUTIL_CONNECTION_PASSWORD=secret
  VIRTUTIL_DOCKER_CONTAINER=virtuoso
  VIRTUTIL_LOAD_BATCH_SIZE=50`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration from all sources. The password is masked.`,
	RunE:  runConfigShow,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file",
	Long: `Open the configuration file in your default editor.

The editor is determined by:
  1. $VISUAL environment variable
  2. $EDITOR environment variable
  3. Falls back to 'vi'

If the config file doesn't exist, a default one will be created first.`,
	RunE: runConfigEdit,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	Long:  `Create a default configuration file if one doesn't exist.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// envOverrides are the variables listed by config show.
var envOverrides = []string{
	"connection.host", "connection.port", "connection.user", "connection.password",
	"isql.path", "docker.path", "docker.isql_path", "docker.container",
	"load.batch_size", "load.checkpoint_interval", "load.scheduler_interval",
	"history.enabled", "history.path", "history.retention_days",
	"logging.level", "logging.path", "logging.format",
}

// envName is the environment variable for a config key.
func envName(key string) string {
	return config.EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// runConfigShow displays the current configuration.
func runConfigShow(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	if file := v.ConfigFileUsed(); file != "" {
		fmt.Fprintf(w, "Config file: %s\n\n", file)
	} else {
		fmt.Fprintln(w, "Config file: (using defaults, no file found)")
		fmt.Fprintln(w)
	}
	printConfig(w, cfg)

	fmt.Fprintln(w, "\nEnvironment Overrides:")
	fmt.Fprintln(w, "----------------------")
	overridden := false
	for _, key := range envOverrides {
		name := envName(key)
		if val := os.Getenv(name); val != "" {
			if key == "connection.password" {
				val = "****"
			}
			fmt.Fprintf(w, "%s=%s\n", name, val)
			overridden = true
		}
	}
	if !overridden {
		fmt.Fprintln(w, "(none)")
	}
	return nil
}

func printConfig(w io.Writer, c *config.Config) {
	fmt.Fprintln(w, "Current Configuration:")
	fmt.Fprintln(w, "----------------------")
	fmt.Fprintf(w, "connection.host:           %s\n", c.Connection.Host)
	fmt.Fprintf(w, "connection.port:           %d\n", c.Connection.Port)
	fmt.Fprintf(w, "connection.user:           %s\n", c.Connection.User)
	fmt.Fprintf(w, "connection.password:       %s\n", strings.Repeat("*", min(len(c.Connection.Password), 4)))
	fmt.Fprintf(w, "isql.path:                 %s\n", c.ISQL.Path)
	fmt.Fprintf(w, "docker.path:               %s\n", c.Docker.Path)
	fmt.Fprintf(w, "docker.isql_path:          %s\n", c.Docker.ISQLPath)
	fmt.Fprintf(w, "docker.container:          %s\n", c.Docker.Container)
	fmt.Fprintf(w, "load.batch_size:           %d\n", c.Load.BatchSize)
	fmt.Fprintf(w, "load.checkpoint_interval:  %d\n", c.Load.CheckpointInterval)
	fmt.Fprintf(w, "load.scheduler_interval:   %d\n", c.Load.SchedulerInterval)
	fmt.Fprintf(w, "history.enabled:           %t\n", c.History.Enabled)
	fmt.Fprintf(w, "history.path:              %s\n", c.HistoryDir())
	fmt.Fprintf(w, "history.retention_days:    %d\n", c.History.RetentionDays)
	fmt.Fprintf(w, "logging.level:             %s\n", c.Logging.Level)
	fmt.Fprintf(w, "logging.format:            %s\n", c.Logging.Format)
}

// runConfigEdit opens the config file in an editor.
func runConfigEdit(cmd *cobra.Command, args []string) error {
	path, _, err := config.WriteDefault()
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}

	printVerbose("Opening %s with %s", path, editor)

	editorCmd := exec.Command(editor, path)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor command failed: %w", err)
	}
	return nil
}

// runConfigInit creates a default config file.
func runConfigInit(cmd *cobra.Command, args []string) error {
	path, written, err := config.WriteDefault()
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	out := cmd.OutOrStdout()
	if !written {
		printInfo(out, "Config file already exists: %s", path)
		printInfo(out, "Use 'virtutil config edit' to modify it.")
		return nil
	}
	printInfo(out, "Created default config file: %s", path)
	return nil
}

// runConfigPath shows the config file path.
func runConfigPath(cmd *cobra.Command, args []string) error {
	path, err := config.ConfigPath()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)

	if _, err := os.Stat(path); err == nil {
		printVerbose("File exists")
	} else if os.IsNotExist(err) {
		printVerbose("File does not exist (will use defaults)")
	}
	return nil
}
