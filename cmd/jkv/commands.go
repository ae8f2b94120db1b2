package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/return2faye/jkv/db"
)

func newPutCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "write a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openFromViper(v)
			if err != nil {
				return err
			}
			defer d.Close()
			return d.Put([]byte(args[0]), []byte(args[1]))
		},
	}
}

func newGetCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "read a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openFromViper(v)
			if err != nil {
				return err
			}
			defer d.Close()
			val, err := d.Get([]byte(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(val))
			return nil
		},
	}
}

func newDeleteCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openFromViper(v)
			if err != nil {
				return err
			}
			defer d.Close()
			return d.Delete([]byte(args[0]))
		},
	}
}

func newRangeCmd(v *viper.Viper) *cobra.Command {
	var reverse bool
	var prefix string
	cmd := &cobra.Command{
		Use:   "range [lo] [hi]",
		Short: "iterate keys in [lo, hi], or by --prefix",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openFromViper(v)
			if err != nil {
				return err
			}
			defer d.Close()

			var seq func(func(db.KV) bool)
			switch {
			case prefix != "":
				if reverse {
					seq = d.ReversePrefix([]byte(prefix))
				} else {
					seq = d.Prefix([]byte(prefix))
				}
			default:
				lo, hi := boundFromArg(args, 0), boundFromArg(args, 1)
				if reverse {
					seq = d.ReverseRange(lo, hi)
				} else {
					seq = d.Range(lo, hi)
				}
			}

			for kv := range seq {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", kv.Key, hexOrPlain(kv.Value))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reverse, "reverse", false, "iterate in descending order")
	cmd.Flags().StringVar(&prefix, "prefix", "", "iterate keys sharing this prefix instead of [lo, hi]")
	return cmd
}

func boundFromArg(args []string, i int) db.Bound {
	if i >= len(args) || args[i] == "" {
		return db.Bound{Kind: db.Unbounded}
	}
	return db.Bound{Kind: db.Included, Key: []byte(args[i])}
}

func hexOrPlain(b []byte) string {
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return hex.EncodeToString(b)
		}
	}
	return string(b)
}

func newFlushCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "flush pending memtable data to L0",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openFromViper(v)
			if err != nil {
				return err
			}
			defer d.Close()
			return d.Flush()
		},
	}
}

func newCompactCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "run compaction until no level needs one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openFromViper(v)
			if err != nil {
				return err
			}
			defer d.Close()
			return d.Compact()
		},
	}
}
