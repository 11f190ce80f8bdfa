package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show the backend status of an import",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	eng, err := newEngine(0)
	if err != nil {
		return err
	}
	defer eng.Close()

	resp, err := eng.client.GetStatus(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("status failed: %w", err)
	}

	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
