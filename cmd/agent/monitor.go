package agent

import "github.com/spf13/cobra"

// Monitor groups are only read from the configuration file.
func initMonitorFlags(root *cobra.Command) {
	f := root.PersistentFlags()

	f.Bool("monitor.memory.enable", defaultCfg.Monitor.Memory.Enable, "-> Register the builtin memory pool producers | 启用内存池采集")
	f.Duration("monitor.memory.interval", defaultCfg.Monitor.Memory.Interval, "-> Memory pool sampling interval | 内存池采样间隔")
}
