package cmd

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/urfave/cli/v2"

	"github.com/cairnstack/cairn/cli/render"
	"github.com/cairnstack/cairn/httpd"
	"github.com/cairnstack/cairn/ingest"
	"github.com/cairnstack/cairn/iox"
)

// PushCommand returns the push command: package a local directory of
// envelope files into a batch archive and submit it to a server.
func PushCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     "server",
			Usage:    "Base URL of the ingestion server (e.g. http://localhost:8640)",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "base",
			Usage: "Content ID base for reconciliation; omit to skip reconciliation",
		},
		&cli.StringSliceFlag{
			Name:  "keep",
			Usage: "Extra content ID to protect from reconciliation (repeatable)",
		},
		&cli.StringFlag{
			Name:  "principal",
			Usage: "Principal label sent with the batch",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Request timeout",
			Value: 5 * time.Minute,
		},
	}
	flags = append(flags, ReadOnlyFlags()...)

	return &cli.Command{
		Name:      "push",
		Usage:     "Package a directory of .json envelope files and submit it as a batch",
		ArgsUsage: "<directory>",
		Flags:     flags,
		Action:    pushAction,
	}
}

func pushAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("directory required", 1)
	}
	dir := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	body, count, err := packDirectory(dir, c.String("base"), c.StringSlice("keep"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if count == 0 {
		return cli.Exit(fmt.Sprintf("no .json envelope files found under %s", dir), 1)
	}

	report, err := submitBatch(c, body)
	if err != nil {
		return err
	}

	return r.Render(fmt.Sprintf("batch %s", report.BatchID), reportFields(report), report)
}

// packDirectory builds the gzip tar batch archive from a directory.
// Every regular *.json file becomes an envelope entry; the content ID is
// the file name without the extension, prefixed with base when given.
// Returns the archive and the number of envelope entries packed.
func packDirectory(dir, base string, keep []string) (*bytes.Buffer, int, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	if base != "" {
		cfg, err := json.Marshal(map[string]string{"contentIDBase": base})
		if err != nil {
			return nil, 0, err
		}
		if err := writeTarFile(tw, "metadata/config.json", cfg); err != nil {
			return nil, 0, err
		}
	}
	if len(keep) > 0 {
		directive, err := json.Marshal(map[string]any{"keep": keep})
		if err != nil {
			return nil, 0, err
		}
		if err := writeTarFile(tw, "metadata/keep.json", directive); err != nil {
			return nil, 0, err
		}
	}

	count := 0
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}

		contentID := strings.TrimSuffix(d.Name(), ".json")
		if base != "" {
			contentID = strings.TrimSuffix(base, "/") + "/" + contentID
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := writeTarFile(tw, url.PathEscape(contentID)+".json", data); err != nil {
			return err
		}
		count++
		return nil
	})
	if walkErr != nil {
		return nil, 0, fmt.Errorf("pack %s: %w", dir, walkErr)
	}

	if err := tw.Close(); err != nil {
		return nil, 0, err
	}
	if err := gz.Close(); err != nil {
		return nil, 0, err
	}
	return &buf, count, nil
}

func writeTarFile(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Typeflag: tar.TypeReg,
		Size:     int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

// submitBatch POSTs the archive and decodes the batch report.
func submitBatch(c *cli.Context, body *bytes.Buffer) (*ingest.BatchReport, error) {
	endpoint := strings.TrimSuffix(c.String("server"), "/") + "/v1/batches"
	req, err := http.NewRequestWithContext(c.Context, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/gzip")
	if principal := c.String("principal"); principal != "" {
		req.Header.Set(httpd.PrincipalHeader, principal)
	}

	client := &http.Client{Timeout: c.Duration("timeout")}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit batch: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, cli.Exit(fmt.Sprintf("server rejected batch (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload))), 1)
	}

	var report ingest.BatchReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode batch report: %w", err)
	}
	return &report, nil
}

// reportFields flattens a batch report into text output lines.
func reportFields(report *ingest.BatchReport) []render.Field {
	failureStyle := &render.SuccessStyle
	if report.FailureCount > 0 {
		failureStyle = &render.WarningStyle
	}

	fields := []render.Field{
		{Label: "principal", Value: report.Principal},
		{Label: "envelopes", Value: fmt.Sprintf("%d", report.EnvelopeCount), Style: &render.SuccessStyle},
		{Label: "failures", Value: fmt.Sprintf("%d", report.FailureCount), Style: failureStyle},
		{Label: "deletions", Value: fmt.Sprintf("%d", report.DeletionCount)},
		{Label: "duration", Value: fmt.Sprintf("%dms", report.DurationMs)},
	}
	if report.ReconciliationSkipped {
		fields = append(fields, render.Field{Label: "reconciliation", Value: "skipped", Style: &render.WarningStyle})
	} else {
		fields = append(fields, render.Field{Label: "reconciliation", Value: report.ContentIDBase})
	}
	return fields
}
