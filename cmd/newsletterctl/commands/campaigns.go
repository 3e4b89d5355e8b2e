package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/unclebandit/newsletter-backend/internal/queue"
	"github.com/unclebandit/newsletter-backend/internal/service"
)

var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "Deliver and schedule campaigns",
}

var deliverCmd = &cobra.Command{
	Use:   "deliver <campaign-id>",
	Short: "Deliver one campaign in this process",
	Long: `Sends a submitted campaign to its audience without going through the
queue. The campaign lock still applies.`,
	Args: cobra.ExactArgs(1),
	RunE: runDeliver,
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Queue every submitted campaign whose embargo has passed",
	Long: `Publishes a delivery job for every due campaign. With the in-memory
queue the jobs are delivered by this process before it exits.`,
	RunE: runSchedule,
}

func init() {
	campaignsCmd.AddCommand(deliverCmd)
	campaignsCmd.AddCommand(scheduleCmd)
}

func runDeliver(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid campaign id %q", args[0])
	}

	a, err := getApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Delivery.Deliver(ctx, id)
	if err != nil {
		return err
	}
	return output(report)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := getApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	mem, inMemory := a.Queue.(*queue.InMemoryQueue)
	if inMemory {
		if err := service.NewWorker(a.Delivery, a.Log).Start(mem); err != nil {
			return err
		}
	}

	n, err := a.Campaigns.EnqueueDue(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Queued %d campaigns\n", n)
	if inMemory {
		mem.Wait()
	}
	return nil
}
