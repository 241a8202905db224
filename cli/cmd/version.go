package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/cairnstack/cairn/cli/render"
	"github.com/cairnstack/cairn/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// VersionCommand returns the version command.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  ReadOnlyFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}

		resp := VersionResponse{
			Version: types.Version,
			Commit:  commit,
		}

		return r.Render("cairn "+resp.Version, []render.Field{
			{Label: "version", Value: resp.Version},
			{Label: "commit", Value: resp.Commit},
		}, resp)
	}
}
