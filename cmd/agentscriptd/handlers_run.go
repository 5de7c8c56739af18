package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentscript/internal/broker"
	"github.com/haasonsaas/agentscript/internal/channel"
	"github.com/haasonsaas/agentscript/internal/ids"
	"github.com/haasonsaas/agentscript/internal/observability"
	"github.com/haasonsaas/agentscript/internal/script/preset"
	"github.com/haasonsaas/agentscript/pkg/protocol"
)

// runScript loads the script, resolves the security level and preset from
// config plus the --level override, and runs it to completion against the
// command's stdout, one NDJSON line per event.
func runScript(cmd *cobra.Command, configPath, scriptPath, levelOverride string) error {
	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.DefaultLevel()
	if strings.TrimSpace(levelOverride) != "" {
		level = preset.Level(strings.ToUpper(strings.TrimSpace(levelOverride)))
	}

	code, err := readScript(scriptPath)
	if err != nil {
		return err
	}

	logger := observability.MustNewLogger(observability.LogConfig{Level: "warn"})
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{ServiceName: "agentscript-run"})
	defer func() { _ = shutdownTracer(cmd.Context()) }()
	recorder := observability.NewEventRecorder(observability.NewMemoryEventStore(0), logger)

	b := broker.New(1, tracer, recorder)
	defer b.Dispose()

	id := ids.NewSessionID()
	req := protocol.CreateSessionRequest{
		ProtocolVersion: protocol.Version,
		Code:            code,
	}

	sess, err := b.CreateSession(cmd.Context(), id, req, cfg.ToPreset(level), demoToolHandler)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	out := cmd.OutOrStdout()
	var (
		mu    sync.Mutex
		final protocol.FinalPayload
		done  = make(chan struct{})
	)

	unsubscribe := subscribeFromStart(sess, func(e protocol.Event) {
		line, err := channel.SerializeEvent(e)
		if err == nil {
			mu.Lock()
			fmt.Fprintln(out, string(line))
			mu.Unlock()
		}
		if e.Type == protocol.EventFinal {
			_ = json.Unmarshal(e.Payload, &final)
			close(done)
		}
	})
	defer unsubscribe()

	select {
	case <-done:
	case <-cmd.Context().Done():
		return cmd.Context().Err()
	}

	if !final.Ok {
		msg := "script failed"
		if final.Error != nil {
			msg = final.Error.Message
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}

// readScript reads the script source from path, or from stdin when path
// is empty.
func readScript(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read script from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read script file: %w", err)
	}
	return string(data), nil
}
