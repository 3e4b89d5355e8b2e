package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/unclebandit/newsletter-backend/internal/bounce"
)

var (
	bounceProtocol   string
	purgeUnprocessed bool
	bounceTestMode   bool
	forceLock        bool
	rulesBatchSize   int
)

var bouncesCmd = &cobra.Command{
	Use:   "bounces",
	Short: "Process bounces and manage bounce rules",
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Fetch, classify and act on bounces",
	Long: `Reads every configured bounce mailbox, records and classifies the
messages, applies the bounce rules and escalates subscribers with
consecutive bounces.

In test mode nothing is deleted from the mailboxes.`,
	RunE: runProcess,
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage bounce rules",
}

var importRulesCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import bounce rules from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runImportRules,
}

func init() {
	processCmd.Flags().StringVar(&bounceProtocol, "protocol", "", "Mailbox protocol: pop, imap, mbox (default: $BOUNCE_PROTOCOL)")
	processCmd.Flags().BoolVar(&purgeUnprocessed, "purge-unprocessed", false, "Also delete messages that could not be attributed")
	processCmd.Flags().BoolVar(&bounceTestMode, "test", false, "Leave every message in its mailbox")
	processCmd.Flags().BoolVar(&forceLock, "force", false, "Take over the processing lock from another run")
	processCmd.Flags().IntVar(&rulesBatchSize, "rules-batch-size", 0, "Bounces per rule engine page (default: $BOUNCE_RULES_BATCH_SIZE)")

	rulesCmd.AddCommand(importRulesCmd)
	bouncesCmd.AddCommand(processCmd)
	bouncesCmd.AddCommand(rulesCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := getApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := a.ProcessOptions()
	if bounceProtocol != "" {
		opts.Protocol = bounceProtocol
	}
	if cmd.Flags().Changed("purge-unprocessed") {
		opts.PurgeUnprocessed = purgeUnprocessed
	}
	if rulesBatchSize > 0 {
		opts.RulesBatchSize = rulesBatchSize
	}
	opts.Test = bounceTestMode
	opts.Force = forceLock

	report, err := a.Bounces.ProcessBounces(ctx, opts)
	if err != nil {
		return err
	}
	return output(report)
}

func runImportRules(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := getApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rules, err := bounce.LoadRuleFile(args[0], a.Resolver)
	if err != nil {
		return err
	}
	n, err := bounce.ImportRules(ctx, a.Rules, rules)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d bounce rules from %s\n", n, args[0])
	return nil
}
