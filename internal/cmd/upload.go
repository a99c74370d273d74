package cmd

import (
	"context"

	"ai-qa-sync/internal/bootstrap"

	"github.com/spf13/cobra"
)

var uploadTrack bool

var uploadCmd = &cobra.Command{
	Use:   "upload <target> <file>",
	Short: "upload a document for ingestion",
	Example: `  $ qa upload demo notes.txt
  $ qa upload demo notes.txt --track`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(func(ctx context.Context, c *bootstrap.Container) error {
			return runUpload(ctx, c, args[0], args[1])
		})
	},
}

func init() {
	uploadCmd.Flags().BoolVarP(&uploadTrack, "track", "t", false, "follow the ingestion job until it finishes")
}

func runUpload(ctx context.Context, c *bootstrap.Container, targetId, path string) error {
	res, err := c.APIClient.UploadDocument(ctx, targetId, path)
	if err != nil {
		PrintError("upload failed: %v", err)
		return err
	}
	PrintSuccess("Uploaded %s to %s", res.Filename, res.TargetId)
	PrintInfo("Job id: %s", res.JobId)

	if !uploadTrack {
		PrintDim("  follow it with: qa track %s", res.JobId)
		return nil
	}
	return runTrack(ctx, c, res.JobId)
}
