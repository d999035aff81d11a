// stromd runs a standalone gossip node: it joins the configured cluster,
// keeps membership fresh, and reconciles its change log with its peers.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stromd",
	Short: "Gossip node for cluster membership and change propagation",
	Long: `stromd runs one node of the gossip layer: a peer sampling service
that maintains a bounded partial view of the cluster, and an anti-entropy
service that reconciles the node's change log with its peers.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
