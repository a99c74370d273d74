package cmd

import (
	"context"
	"fmt"

	"ai-qa-sync/internal/bootstrap"
	"ai-qa-sync/internal/entity"
	"ai-qa-sync/internal/service"

	"github.com/spf13/cobra"
)

var trackCmd = &cobra.Command{
	Use:   "track <job-id>",
	Short: "follow a document ingestion job until it finishes",
	Long: `Follow an ingestion job over the push channel. If the channel is lost the
job is polled instead until it completes, fails or the polling budget runs out.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(func(ctx context.Context, c *bootstrap.Container) error {
			return runTrack(ctx, c, args[0])
		})
	},
}

func runTrack(ctx context.Context, c *bootstrap.Container, jobId string) error {
	c.JobBoard.Register(jobId)
	unsubscribe := c.JobBoard.Subscribe(func(st entity.JobStatus) {
		if st.JobId == jobId {
			fmt.Println(progressLine(st))
		}
	})
	defer unsubscribe()

	h, err := c.Tracker.Track(ctx, jobId)
	if err != nil {
		PrintError("%v", err)
		return err
	}
	defer h.Stop()

	var last service.JobEvent
	for {
		ev, ok := h.Next(ctx)
		if !ok {
			break
		}
		last = ev
		c.JobBoard.Apply(ev.Status)
	}

	switch h.State() {
	case service.TrackerCompleted:
		PrintSuccess("Job %s completed", jobId)
		return nil
	case service.TrackerFailed:
		if last.Err != nil {
			PrintError("Job %s failed: %v", jobId, last.Err)
		} else {
			PrintError("Job %s failed: %s", jobId, last.Status.Message)
		}
		return fmt.Errorf("job failed")
	default:
		PrintWarning("Stopped following job %s", jobId)
		return nil
	}
}
