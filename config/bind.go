package config

import "github.com/spf13/cobra"

// BindFlags binds the CLI surface from spec.md §6 onto cmd, seeded with c's
// current (post-load-from-file) values so flags override file settings.
func (c *Config) BindFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.ConfigPath, "config", c.ConfigPath, "Path to config file")
	cmd.Flags().StringVar(&c.Interface, "interface", c.Interface, "Capture interface (default: first non-loopback, non-virtual)")
	cmd.Flags().IntVar(&c.Port, "port", c.Port, "HTTP server listen port")
	cmd.Flags().BoolVar(&c.Promiscuous, "promiscuous", c.Promiscuous, "Enable promiscuous mode")
	cmd.Flags().IntVar(&c.BufferSizeMB, "buffer-size", c.BufferSizeMB, "Capture buffer size in MB")

	cmd.Flags().BoolVarP(&c.Instaflush, "instaflush", "i", c.Instaflush, "Flush logs immediately")
	cmd.Flags().BoolVar(&c.Syslog, "syslog", c.Syslog, "Enable syslog output")
}
