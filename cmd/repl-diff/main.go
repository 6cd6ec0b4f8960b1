// Command repl-diff compares a master and a replica: DEBUG DIGEST, DBSIZE,
// the replication offsets and INFO keyspace. It exits 1 when they differ.
//
//	repl-diff --ref localhost:6379 --sut localhost:6380
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var (
		refAddr, sutAddr string
		timeout          time.Duration
	)

	cmd := &cobra.Command{
		Use:           "repl-diff --ref host:port --sut host:port",
		Short:         "Compare the keyspace of a master and a replica",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			ref, err := snapshot(ctx, refAddr)
			if err != nil {
				return err
			}
			sut, err := snapshot(ctx, sutAddr)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Reference: %s (%s, offset %d)\n", ref.Addr, ref.Role, ref.Offset)
			fmt.Fprintf(out, "System:    %s (%s, offset %d)\n\n", sut.Addr, sut.Role, sut.Offset)

			diffs := compare(ref, sut)
			if len(diffs) == 0 {
				fmt.Fprintf(out, "OK: digest %s, %d keys\n", ref.Digest, ref.DBSize)
				return nil
			}
			sort.Strings(diffs)
			for _, d := range diffs {
				fmt.Fprintln(out, "DIFF:", d)
			}
			return fmt.Errorf("%d differences found", len(diffs))
		},
	}

	cmd.Flags().StringVar(&refAddr, "ref", "localhost:6379", "Reference endpoint (usually the master)")
	cmd.Flags().StringVar(&sutAddr, "sut", "localhost:6380", "System under test (usually the replica)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Overall timeout")
	return cmd
}

func snapshot(ctx context.Context, addr string) (*Snapshot, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Protocol: 2, DisableIdentity: true})
	defer client.Close()
	return collect(ctx, client)
}
