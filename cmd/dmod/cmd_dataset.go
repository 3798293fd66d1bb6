package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/NOAA-OWP/DMOD-sub002/client"
	"github.com/NOAA-OWP/DMOD-sub002/datasets"
	"github.com/NOAA-OWP/DMOD-sub002/message"
)

// uploadChunkSize bounds the raw bytes per DATA_TRANSMISSION frame, before
// base64 expansion.
const uploadChunkSize = 1 << 20

func init() {
	rootCmd.AddCommand(datasetCmd)
	datasetCmd.AddCommand(datasetListCmd)
	datasetCmd.AddCommand(datasetCreateCmd)
	datasetCmd.AddCommand(datasetDeleteCmd)
	datasetCmd.AddCommand(datasetItemsCmd)
	datasetCmd.AddCommand(datasetUploadCmd)
	datasetCmd.AddCommand(datasetDownloadCmd)

	datasetCreateCmd.Flags().String("category", "", "dataset category (FORCING, HYDROFABRIC, CONFIG, OBSERVATION, OUTPUT)")
	datasetCreateCmd.Flags().String("format", "", "data format for the dataset domain")
	datasetCreateCmd.Flags().StringSlice("catchment", nil, "catchment id the dataset covers (repeatable)")
	datasetCreateCmd.Flags().String("data-id", "", "DATA_ID value to declare on the domain")
	datasetCreateCmd.Flags().String("begin", "", "start of the covered time range, RFC 3339")
	datasetCreateCmd.Flags().String("end", "", "end of the covered time range, RFC 3339")
	datasetCreateCmd.Flags().Bool("read-only", false, "mark the dataset read only after creation")
	_ = datasetCreateCmd.MarkFlagRequired("category")
	_ = datasetCreateCmd.MarkFlagRequired("format")

	datasetDownloadCmd.Flags().String("output", "", "write item content to this file instead of stdout")
}

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Manage datasets on the service",
}

var datasetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all datasets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManagement(cmd, func(ctx context.Context, stack *clientStack) error {
			resp := client.SubmitExternal[message.DatasetManagementResponse](ctx, stack.external, &message.DatasetManagementMessage{
				Action: message.ActionListAll,
			})
			payload, err := checkManagement(resp)
			if err != nil {
				return err
			}
			for _, name := range payload.Datasets {
				fmt.Println(name)
			}
			return nil
		})
	},
}

var datasetCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a dataset with a declared data domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		domain, category, readOnly, err := domainFromFlags(cmd)
		if err != nil {
			return err
		}
		return withManagement(cmd, func(ctx context.Context, stack *clientStack) error {
			resp := client.SubmitExternal[message.DatasetManagementResponse](ctx, stack.external, &message.DatasetManagementMessage{
				Action:      message.ActionCreate,
				DatasetName: args[0],
				Category:    category,
				Domain:      domain,
				ReadOnly:    readOnly,
			})
			payload, err := checkManagement(resp)
			if err != nil {
				return err
			}
			fmt.Printf("Created dataset %s\n", payload.DatasetName)
			return nil
		})
	},
}

var datasetDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a dataset and its stored items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManagement(cmd, func(ctx context.Context, stack *clientStack) error {
			resp := client.SubmitExternal[message.DatasetManagementResponse](ctx, stack.external, &message.DatasetManagementMessage{
				Action:      message.ActionDelete,
				DatasetName: args[0],
			})
			if _, err := checkManagement(resp); err != nil {
				return err
			}
			fmt.Printf("Deleted dataset %s\n", args[0])
			return nil
		})
	},
}

var datasetItemsCmd = &cobra.Command{
	Use:   "items <name>",
	Short: "List the items stored in a dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManagement(cmd, func(ctx context.Context, stack *clientStack) error {
			resp := client.SubmitExternal[message.DatasetManagementResponse](ctx, stack.external, &message.DatasetManagementMessage{
				Action:      message.ActionQuery,
				DatasetName: args[0],
			})
			payload, err := checkManagement(resp)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "ITEM\n")
			for _, item := range payload.Items {
				fmt.Fprintf(w, "%s\n", item)
			}
			return w.Flush()
		})
	},
}

var datasetUploadCmd = &cobra.Command{
	Use:   "upload <dataset> <file>",
	Short: "Upload a file into a dataset as a chunked transfer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		itemName := filepath.Base(args[1])
		return withManagement(cmd, func(ctx context.Context, stack *clientStack) error {
			resp := client.SubmitExternal[message.DatasetManagementResponse](ctx, stack.external, &message.DatasetManagementMessage{
				Action:      message.ActionAddData,
				DatasetName: args[0],
				ItemName:    itemName,
				PendingData: true,
			})
			payload, err := checkManagement(resp)
			if err != nil {
				return err
			}
			if payload.SeriesUUID == "" {
				return fmt.Errorf("service accepted the upload without opening a transfer series")
			}

			for offset := 0; ; offset += uploadChunkSize {
				end := offset + uploadChunkSize
				last := end >= len(data)
				if last {
					end = len(data)
				}
				chunk := client.SubmitExternal[message.DataTransmitResponse](ctx, stack.external, &message.DataTransmitMessage{
					SeriesUUID: payload.SeriesUUID,
					Data:       base64.StdEncoding.EncodeToString(data[offset:end]),
					IsLast:     last,
				})
				if env := chunk.Envelope(); !env.Success {
					return fmt.Errorf("transfer rejected: %s: %s", env.Reason, env.Message)
				}
				if last {
					break
				}
			}
			fmt.Printf("Uploaded %s to dataset %s (%d bytes)\n", itemName, args[0], len(data))
			return nil
		})
	},
}

var datasetDownloadCmd = &cobra.Command{
	Use:   "download <dataset> <item>",
	Short: "Download an item from a dataset",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		return withManagement(cmd, func(ctx context.Context, stack *clientStack) error {
			resp := client.SubmitExternal[message.DatasetManagementResponse](ctx, stack.external, &message.DatasetManagementMessage{
				Action:      message.ActionRequestData,
				DatasetName: args[0],
				ItemName:    args[1],
			})
			payload, err := checkManagement(resp)
			if err != nil {
				return err
			}
			data, err := base64.StdEncoding.DecodeString(payload.Data)
			if err != nil {
				return fmt.Errorf("malformed item content in reply: %w", err)
			}
			if output == "" {
				_, err = os.Stdout.Write(data)
				return err
			}
			return os.WriteFile(output, data, 0o644)
		})
	},
}

// withManagement runs fn with a built client stack and a request-scoped
// context, closing the transport afterwards.
func withManagement(cmd *cobra.Command, fn func(context.Context, *clientStack) error) error {
	stack, err := buildClients(cmd)
	if err != nil {
		return err
	}
	defer stack.transport.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), stack.timeout)
	defer cancel()
	return fn(ctx, stack)
}

// checkManagement turns a failed management envelope into a command error
// and extracts the payload of a successful one.
func checkManagement(resp *message.DatasetManagementResponse) (*message.DatasetManagementPayload, error) {
	env := resp.Envelope()
	if !env.Success {
		return nil, fmt.Errorf("request failed: %s: %s", env.Reason, env.Message)
	}
	payload, err := resp.Payload()
	if err != nil {
		return nil, err
	}
	if payload == nil {
		payload = &message.DatasetManagementPayload{}
	}
	return payload, nil
}

// domainFromFlags assembles the declared data domain for dataset create.
func domainFromFlags(cmd *cobra.Command) (*datasets.DataDomain, datasets.DataCategory, bool, error) {
	flags := cmd.Flags()
	categoryName, _ := flags.GetString("category")
	formatName, _ := flags.GetString("format")
	catchments, _ := flags.GetStringSlice("catchment")
	dataID, _ := flags.GetString("data-id")
	begin, _ := flags.GetString("begin")
	end, _ := flags.GetString("end")
	readOnly, _ := flags.GetBool("read-only")

	category, ok := datasets.ParseCategory(categoryName)
	if !ok {
		return nil, 0, false, fmt.Errorf("unknown category %q", categoryName)
	}
	format, ok := datasets.ParseFormat(formatName)
	if !ok {
		return nil, 0, false, fmt.Errorf("unknown data format %q", formatName)
	}

	domain := &datasets.DataDomain{Format: format}
	if len(catchments) > 0 {
		domain.DiscreteRestrictions = append(domain.DiscreteRestrictions, datasets.DiscreteRestriction{
			Variable: datasets.VariableCatchmentID,
			Values:   catchments,
		})
	}
	if dataID != "" {
		domain.DiscreteRestrictions = append(domain.DiscreteRestrictions, datasets.DiscreteRestriction{
			Variable: datasets.VariableDataID,
			Values:   []string{dataID},
		})
	}
	if begin != "" || end != "" {
		b, err := time.Parse(time.RFC3339, begin)
		if err != nil {
			return nil, 0, false, fmt.Errorf("invalid --begin: %w", err)
		}
		e, err := time.Parse(time.RFC3339, end)
		if err != nil {
			return nil, 0, false, fmt.Errorf("invalid --end: %w", err)
		}
		domain.ContinuousRestrictions = append(domain.ContinuousRestrictions, datasets.ContinuousRestriction{
			Variable: datasets.VariableTime,
			Begin:    b,
			End:      e,
		})
	}
	if err := domain.Validate(); err != nil {
		return nil, 0, false, err
	}
	return domain, category, readOnly, nil
}
