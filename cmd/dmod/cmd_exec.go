package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/NOAA-OWP/DMOD-sub002/client"
	"github.com/NOAA-OWP/DMOD-sub002/job"
	"github.com/NOAA-OWP/DMOD-sub002/message"
)

func init() {
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(partitionCmd)

	partitionCmd.Flags().Int("count", 0, "number of partitions to produce")
	partitionCmd.Flags().String("hydrofabric-data-id", "", "DATA_ID of the hydrofabric dataset to partition")
	partitionCmd.Flags().String("hydrofabric-uid", "", "unique id of the hydrofabric")
	partitionCmd.Flags().String("description", "", "free-form description of the partition config")
	_ = partitionCmd.MarkFlagRequired("count")
	_ = partitionCmd.MarkFlagRequired("hydrofabric-data-id")
}

var execCmd = &cobra.Command{
	Use:   "exec <request-file>",
	Short: "Submit a model execution request from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var model job.ModelRequest
		if err := json.Unmarshal(raw, &model); err != nil {
			return fmt.Errorf("invalid model request in %s: %w", args[0], err)
		}
		return withManagement(cmd, func(ctx context.Context, stack *clientStack) error {
			resp := client.SubmitExternal[message.ModelExecResponse](ctx, stack.external, &message.ModelExecRequest{
				Model: model,
			})
			env := resp.Envelope()
			if !env.Success {
				return fmt.Errorf("request failed: %s: %s", env.Reason, env.Message)
			}
			payload, err := resp.Payload()
			if err != nil {
				return err
			}
			fmt.Printf("Job %s accepted", payload.JobID)
			if payload.OutputDataID != "" {
				fmt.Printf(", output dataset %s", payload.OutputDataID)
			}
			fmt.Println()
			return nil
		})
	},
}

var partitionCmd = &cobra.Command{
	Use:   "partition",
	Short: "Request an ngen partition configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		count, _ := flags.GetInt("count")
		hydrofabricDataID, _ := flags.GetString("hydrofabric-data-id")
		hydrofabricUID, _ := flags.GetString("hydrofabric-uid")
		description, _ := flags.GetString("description")

		return withManagement(cmd, func(ctx context.Context, stack *clientStack) error {
			resp := client.SubmitExternal[message.PartitionResponse](ctx, stack.external, &message.PartitionRequest{
				PartitionCount:    count,
				HydrofabricDataID: hydrofabricDataID,
				HydrofabricUID:    hydrofabricUID,
				Description:       description,
			})
			env := resp.Envelope()
			if !env.Success {
				return fmt.Errorf("request failed: %s: %s", env.Reason, env.Message)
			}
			payload, err := resp.Payload()
			if err != nil {
				return err
			}
			fmt.Printf("Partition config stored as dataset %s\n", payload.DataID)
			return nil
		})
	},
}
