package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/cairnstack/cairn/cli/render"
	"github.com/cairnstack/cairn/journal"
)

// InspectCommand returns the inspect command: fetch and render the
// journal record for a content ID base.
func InspectCommand() *cli.Command {
	flags := []cli.Flag{ConfigFlag}
	flags = append(flags, storageFlags()...)
	flags = append(flags, ReadOnlyFlags()...)

	return &cli.Command{
		Name:      "inspect",
		Usage:     "Show the last batch outcome recorded for a content ID base",
		ArgsUsage: "<content-id-base>",
		Flags:     flags,
		Action:    inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("content-id-base required", 1)
	}
	base := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	_, blobs, err := buildStore(c.Context, resolveStorage(c, cfg))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	record, err := journal.Read(c.Context, blobs, base)
	if err != nil {
		return cli.Exit(fmt.Sprintf("no journal record for %s: %v", base, err), 1)
	}

	return r.Render(fmt.Sprintf("batch %s", record.BatchID), recordFields(record), record)
}

func recordFields(record *journal.Record) []render.Field {
	failureStyle := &render.SuccessStyle
	if record.FailureCount > 0 {
		failureStyle = &render.WarningStyle
	}

	return []render.Field{
		{Label: "principal", Value: record.Principal},
		{Label: "version", Value: record.Version},
		{Label: "envelopes", Value: fmt.Sprintf("%d", record.EnvelopeCount), Style: &render.SuccessStyle},
		{Label: "failures", Value: fmt.Sprintf("%d", record.FailureCount), Style: failureStyle},
		{Label: "deletions", Value: fmt.Sprintf("%d", record.DeletionCount)},
		{Label: "duration", Value: fmt.Sprintf("%dms", record.DurationMs)},
		{Label: "completed", Value: record.CompletedAt},
	}
}
