package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/invoices/backend/internal/domain/verifactu"
	"github.com/spf13/cobra"
)

func (c *cli) canonicalizeCmd() *cobra.Command {
	var hashOnly bool
	cmd := &cobra.Command{
		Use:   "canonicalize <file.json|->",
		Short: "Print the canonical form of a document and its chain hash",
		Long: `Reads a JSON document (from a file, or stdin when the argument is "-"),
re-emits it in canonical form and prints the SHA-256 hash used by the chain.
Running it on the canonical output yields the same bytes.`,
		Example: `  # Check a stored envelope body
  verifactuctl canonicalize invoice.json

  # Only print the hash
  cat invoice.json | verifactuctl canonicalize --hash-only -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			canonical, err := verifactu.Recanonicalize(raw)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !hashOnly {
				fmt.Fprintln(out, string(canonical))
			}
			fmt.Fprintln(out, verifactu.HashCanonical(canonical))
			return nil
		},
	}
	cmd.Flags().BoolVar(&hashOnly, "hash-only", false, "Print only the hash")
	return cmd
}

func (c *cli) rolloutBucketCmd() *cobra.Command {
	var percentage int
	cmd := &cobra.Command{
		Use:   "rollout-bucket <tax-id>...",
		Short: "Show the rollout bucket of tax IDs",
		Long: `Prints the stable bucket in [0, 100) each tax ID hashes to. With
--percentage, also prints whether the company would use the real transport.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rollout := verifactu.NewRolloutConfig(true, percentage, false)
			out := cmd.OutOrStdout()
			for _, taxID := range args {
				bucket := verifactu.RolloutBucket(taxID)
				if cmd.Flags().Changed("percentage") {
					fmt.Fprintf(out, "%s\t%d\treal=%t\n", strings.ToUpper(strings.TrimSpace(taxID)), bucket, rollout.ShouldUseRealTransmission(taxID))
					continue
				}
				fmt.Fprintf(out, "%s\t%d\n", strings.ToUpper(strings.TrimSpace(taxID)), bucket)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&percentage, "percentage", 0, "Rollout percentage to evaluate against")
	return cmd
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}
