package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/lukasbeuster/KerbSide/internal/config"
)

// CommandEngine runs the extraction engine as a subprocess. The binary is
// invoked once per requested output kind with the options JSON as an
// argument, the OSM XML on stdin and the GeoJSON document on stdout.
type CommandEngine struct {
	binary string
}

// NewCommandEngine creates an engine binding for the given binary path.
func NewCommandEngine(binary string) *CommandEngine {
	return &CommandEngine{binary: binary}
}

// Extract runs the engine for every requested output kind.
func (e *CommandEngine) Extract(ctx context.Context, osmXML []byte, opts Options, want config.Outputs) (*Result, error) {
	optsJSON, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode engine options: %w", err)
	}

	result := &Result{}

	if want.Network {
		result.Network, err = e.run(ctx, "plain", osmXML, optsJSON)
		if err != nil {
			return nil, err
		}
	}
	if want.Lanes {
		result.Lanes, err = e.run(ctx, "lane-polygons", osmXML, optsJSON)
		if err != nil {
			return nil, err
		}
	}
	if want.Intersections {
		result.Intersections, err = e.run(ctx, "intersection-markings", osmXML, optsJSON)
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (e *CommandEngine) run(ctx context.Context, kind string, osmXML, optsJSON []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, e.binary, kind, "--options", string(optsJSON))
	cmd.Stdin = bytes.NewReader(osmXML)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("engine %s: %w: %s", kind, err, stderr.String())
		}
		return nil, fmt.Errorf("engine %s: %w", kind, err)
	}

	return stdout.Bytes(), nil
}
