// Command workflowctl inspects exported workflow files offline.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"

	"github.com/genflow-studio/engine/internal/canvas"
	"github.com/genflow-studio/engine/internal/workflow"
	appErr "github.com/genflow-studio/engine/pkg/errors"
	"github.com/genflow-studio/engine/pkg/logger"
	"github.com/genflow-studio/engine/pkg/utils"
)

type cli struct {
	LogLevel string `help:"Log level." default:"warn" enum:"debug,info,warn,error"`

	Validate validateCmd `cmd:"" help:"Check that workflow files import cleanly."`
	Stats    statsCmd    `cmd:"" help:"Print node and edge counts of a workflow."`
	Upstream upstreamCmd `cmd:"" help:"Print the generation inputs a node would receive."`
}

type validateCmd struct {
	Files []string `arg:"" help:"Workflow files."`
}

func (c *validateCmd) Run(out io.Writer) error {
	failed := 0
	for _, path := range c.Files {
		imported, err := load(path)
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %s\n", path, appErr.MessageOf(err))
			continue
		}
		fmt.Fprintf(out, "ok   %s (%d nodes, %d edges)\n", path, len(imported.Graph.Nodes), len(imported.Graph.Edges))
		for _, w := range imported.Warnings {
			fmt.Fprintf(out, "     warning: %s\n", w)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d workflows invalid", failed, len(c.Files))
	}
	return nil
}

type statsCmd struct {
	File string `arg:"" type:"existingfile" help:"Workflow file."`
}

type stats struct {
	Nodes     map[canvas.NodeKind]int `json:"nodes"`
	Edges     int                     `json:"edges"`
	Empty     int                     `json:"emptyNodes"`
	MaxSuffix int                     `json:"maxSuffix"`
	Checksum  string                  `json:"checksum"`
	Warnings  []string                `json:"warnings,omitempty"`
}

func (c *statsCmd) Run(out io.Writer) error {
	data, err := os.ReadFile(c.File)
	if err != nil {
		return err
	}
	imported, err := workflow.Import(data)
	if err != nil {
		return err
	}
	s := stats{
		Nodes:     map[canvas.NodeKind]int{},
		Edges:     len(imported.Graph.Edges),
		MaxSuffix: imported.MaxSuffix,
		Checksum:  utils.ChecksumHex(data),
		Warnings:  imported.Warnings,
	}
	for _, n := range imported.Graph.Nodes {
		s.Nodes[n.Kind]++
		if n.Kind != canvas.KindGroup && !n.HasContent() {
			s.Empty++
		}
	}
	return printJSON(out, s)
}

type upstreamCmd struct {
	File        string `arg:"" type:"existingfile" help:"Workflow file."`
	Node        string `required:"" help:"Target node id."`
	IncludeSelf bool   `help:"Emit the target's own image first."`
	Full        bool   `help:"Print image payloads instead of their sizes."`
}

type upstreamImage struct {
	NodeID   string `json:"nodeId"`
	MimeType string `json:"mimeType"`
	Bytes    int    `json:"base64Bytes"`
}

func (c *upstreamCmd) Run(out io.Writer) error {
	imported, err := load(c.File)
	if err != nil {
		return err
	}
	if !imported.Graph.HasNode(c.Node) {
		return appErr.New(appErr.CodeNotFound, "node not found").WithMeta("node_id", c.Node)
	}
	up := canvas.ResolveUpstream(c.Node, imported.Graph, c.IncludeSelf)
	if c.Full {
		return printJSON(out, up)
	}
	images := make([]upstreamImage, 0, len(up.Images))
	for _, img := range up.Images {
		images = append(images, upstreamImage{NodeID: img.NodeID, MimeType: img.MimeType, Bytes: len(img.Data)})
	}
	return printJSON(out, map[string]any{"images": images, "texts": up.Texts})
}

func load(path string) (*workflow.Imported, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return workflow.Import(data)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("workflowctl"),
		kong.Description("Inspect exported canvas workflows."),
		kong.UsageOnError(),
		kong.BindTo(io.Writer(os.Stdout), (*io.Writer)(nil)),
	)
	// stdout carries the command output
	if _, err := logger.Init(c.LogLevel, "console", logger.WithOutput(os.Stderr)); err != nil {
		ctx.FatalIfErrorf(err)
	}
	defer logger.Sync()
	ctx.FatalIfErrorf(ctx.Run())
}
