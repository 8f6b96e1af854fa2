// Command engram-hook is the short-lived pre-tool-use hook: it reads the
// invoking session's pre-computed recollection file and prints it back as
// host-readable additional context. It must never block or fail the host
// tool call, so every error path exits 0 silently.
package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/engram/pkg/config"
	"github.com/cuemby/engram/pkg/pidguard"
	"github.com/cuemby/engram/pkg/types"
)

const staleRecollectionWindow = 5 * time.Minute

type hookInput struct {
	SessionID string `json:"session_id"`
}

type hookOutput struct {
	HookSpecificOutput hookSpecificOutput `json:"hookSpecificOutput"`
}

type hookSpecificOutput struct {
	AdditionalContext string `json:"additionalContext"`
}

// injectionState is the hook's own sidecar file tracking the last
// recollection it already surfaced for a session, so a rapid sequence of
// tool calls doesn't re-inject the same bites every time.
type injectionState struct {
	LastInjectedMessageUUID string `json:"lastInjectedMessageUuid"`
}

func main() {
	os.Exit(run())
}

// run always returns 0 unless a caller-visible bug exists; every internal
// failure is swallowed per the hook-process exit contract.
func run() int {
	input, ok := readInput()
	if !ok {
		return 0
	}

	cfg, err := config.Load()
	if err != nil {
		return 0
	}

	recPath := filepath.Join(cfg.RecollectionsDir(), input.SessionID+".json")
	rec, ok := readRecollection(recPath)
	if !ok {
		return 0
	}

	if isStale(rec, cfg.PidPath()) {
		return 0
	}

	statePath := recPath + ".state"
	state := readInjectionState(statePath)
	if state.LastInjectedMessageUUID == rec.MessageUUID {
		return 0
	}

	printAdditionalContext(rec)
	writeInjectionState(statePath, injectionState{LastInjectedMessageUUID: rec.MessageUUID})
	return 0
}

func readInput() (hookInput, bool) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return hookInput{}, false
	}
	var in hookInput
	if err := json.Unmarshal(data, &in); err != nil || in.SessionID == "" {
		return hookInput{}, false
	}
	return in, true
}

func readRecollection(path string) (types.Recollection, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Recollection{}, false
	}
	var rec types.Recollection
	if err := json.Unmarshal(data, &rec); err != nil || len(rec.Bites) == 0 {
		return types.Recollection{}, false
	}
	return rec, true
}

// isStale applies the skip condition: a recollection older
// than 5 minutes is only trusted if the daemon that would have refreshed
// it is actually still alive.
func isStale(rec types.Recollection, pidPath string) bool {
	age := time.Since(time.UnixMilli(rec.Timestamp))
	if age <= staleRecollectionWindow {
		return false
	}
	_, alive, err := pidguard.IsLive(pidPath)
	return err != nil || !alive
}

func readInjectionState(path string) injectionState {
	data, err := os.ReadFile(path)
	if err != nil {
		return injectionState{}
	}
	var st injectionState
	if err := json.Unmarshal(data, &st); err != nil {
		return injectionState{}
	}
	return st
}

func writeInjectionState(path string, st injectionState) {
	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return
	}
	os.Rename(tmp, path)
}

func printAdditionalContext(rec types.Recollection) {
	var b strings.Builder
	b.WriteString("<untrusted-data-engram-memory>\n")
	for _, bite := range rec.Bites {
		b.WriteString("- ")
		b.WriteString(bite.Text)
		b.WriteString("\n")
	}
	b.WriteString("</untrusted-data-engram-memory>")

	out := hookOutput{HookSpecificOutput: hookSpecificOutput{AdditionalContext: b.String()}}
	line, err := json.Marshal(out)
	if err != nil {
		return
	}
	os.Stdout.Write(line)
	os.Stdout.Write([]byte("\n"))
}
