package agent

import "github.com/spf13/cobra"

func initErrorsFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	prefix := "errors."

	f.StringSlice(prefix+"backends", defaultCfg.Errors.Backends, "-> Error catcher backends [memory,log,store], first is primary | 错误收集后端")
	f.Int(prefix+"max-entries", defaultCfg.Errors.MaxEntries, "-> In-memory catcher capacity, 0 is unbounded | 内存容量")
	f.String(prefix+"store.url", defaultCfg.Errors.Store.URL, "-> NATS server of the error store | NATS 地址")
	f.String(prefix+"store.bucket", defaultCfg.Errors.Store.Bucket, "-> JetStream key-value bucket of the error store | KV 桶名")
	f.Duration(prefix+"store.timeout", defaultCfg.Errors.Store.Timeout, "-> Error store operation timeout | 存储操作超时")
}
