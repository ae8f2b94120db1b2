package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/return2faye/jkv/db"
	"github.com/return2faye/jkv/sstable"
)

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "jkv",
		Short:         "jkv is a CLI for the embedded LSM key-value store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var cfgFile string
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./jkv.yaml)")
	root.PersistentFlags().String("dir", "./jkv-data", "database directory")
	root.PersistentFlags().Int64("memtable-size", db.DefaultOptions().MemtableSizeBytes, "memtable flush threshold in bytes")
	root.PersistentFlags().Int("l0-threshold", db.DefaultOptions().L0Threshold, "L0 table count that triggers compaction")
	root.PersistentFlags().Int64("level-ratio", db.DefaultOptions().LevelRatio, "per-level size ratio")
	root.PersistentFlags().Int("block-size", db.DefaultOptions().BlockSize, "sstable data block size in bytes")
	root.PersistentFlags().String("block-compression", "none", "sstable data block compression: none or zstd")

	cobra.OnInitialize(func() {
		if cfgFile != "" {
			v.SetConfigFile(cfgFile)
		} else {
			v.SetConfigName("jkv")
			v.SetConfigType("yaml")
			v.AddConfigPath(".")
		}
		v.SetEnvPrefix("JKV")
		v.AutomaticEnv()
		_ = v.ReadInConfig() // absent config file is fine; flags/env still apply
	})

	bind := func(flag string) {
		_ = v.BindPFlag(flag, root.PersistentFlags().Lookup(flag))
	}
	for _, flag := range []string{"dir", "memtable-size", "l0-threshold", "level-ratio", "block-size", "block-compression"} {
		bind(flag)
	}

	root.AddCommand(
		newPutCmd(v),
		newGetCmd(v),
		newDeleteCmd(v),
		newRangeCmd(v),
		newFlushCmd(v),
		newCompactCmd(v),
	)
	return root
}

func openFromViper(v *viper.Viper) (*db.DB, error) {
	opts := db.Options{
		MemtableSizeBytes: v.GetInt64("memtable-size"),
		L0Threshold:       v.GetInt("l0-threshold"),
		LevelRatio:        v.GetInt64("level-ratio"),
		BlockSize:         v.GetInt("block-size"),
		BlockCompression:  blockCompressionFromFlag(v.GetString("block-compression")),
	}
	d, err := db.Open(v.GetString("dir"), opts)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", v.GetString("dir"), err)
	}
	return d, nil
}

func blockCompressionFromFlag(s string) byte {
	if s == "zstd" {
		return sstable.CompressionZstd
	}
	return sstable.CompressionNone
}
