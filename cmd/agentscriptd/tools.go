package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// demoToolHandler is the session.ToolHandler agentscriptd wires in when
// it has no host application providing real tools (the "run" command and
// "serve"'s built-in sandbox). It understands a couple of harmless tools
// useful for smoke-testing a script against the pipeline; any other name
// is reported back to the script exactly as a host application would
// report a tool it doesn't recognize.
func demoToolHandler(ctx context.Context, name string, args json.RawMessage) (any, error) {
	switch name {
	case "echo":
		var payload any
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("echo: invalid args: %w", err)
		}
		return payload, nil
	case "now":
		return map[string]string{"iso": time.Now().UTC().Format(time.RFC3339)}, nil
	default:
		return nil, fmt.Errorf("no host tool named %q is registered", name)
	}
}
