package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"slices"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const (
	defaultAPIURL = "http://127.0.0.1:8080"
	tokenEnv      = "CONDUCTOR_TOKEN"
	apiURLEnv     = "CONDUCTOR_API_URL"
	configEnv     = "CONDUCTOR_CONFIG"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage(os.Stderr)
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "process":
		return runProcessNoun(args)

	// Root aliases.
	case "start":
		return runStart(args)
	case "watch":
		return runWatch(args)
	case "dump":
		return runProcessDump(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `conductor - process dispatcher for execution engine clusters

Usage:
  conductor <noun> <action> [flags]

System Commands:
  system start              Run the dispatcher in the foreground
  system status             Show dispatcher health
  system watch              Live TUI of engines, queue and events

Config Commands:
  config check              Validate configuration
  config lock               Write integrity checksums for the config files
  config get <path>         Read one value from the resolved configuration
  config show               Print the resolved configuration (secrets masked)
  config token              Generate a scoped API token

Process Commands:
  process dispatch          Dispatch a process
  process terminate <epid>  Terminate a process
  process show <epid>       Show a process and its history
  process dump              Show resources, processes and the waiting queue
  process verify-webhook    Check the signature of a received webhook payload

Aliases:
  start, watch, dump, version

Use 'conductor <noun> help' for action flags.
`)
}

// --- NOUN DISPATCHERS ---

type action struct {
	run  func([]string) int
	help string
}

func runNoun(noun string, actions map[string]action, args []string) int {
	if len(args) < 1 {
		printNounHelp(os.Stderr, noun, actions)
		return 1
	}
	if isHelpToken(args[0]) {
		printNounHelp(os.Stdout, noun, actions)
		return 0
	}

	a, ok := actions[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown %s action: %s\n", noun, args[0])
		return 1
	}
	if hasHelpFlag(args[1:]) {
		fmt.Println(a.help)
		return 0
	}
	return a.run(args[1:])
}

func printNounHelp(w io.Writer, noun string, actions map[string]action) {
	fmt.Fprintf(w, "Usage: conductor %s <action> [flags]\n\nActions:\n", noun)
	for _, name := range sortedKeys(actions) {
		fmt.Fprintf(w, "  %s\n", actions[name].help)
	}
}

func runSystemNoun(args []string) int {
	return runNoun("system", map[string]action{
		"start":  {runStart, "start [--config PATH]    Run the dispatcher in the foreground"},
		"status": {runSystemStatus, "status [--api-url URL] [--json]    Show dispatcher health"},
		"watch":  {runWatch, "watch [--api-url URL] [--token TOKEN]    Live TUI"},
	}, args)
}

func runConfigNoun(args []string) int {
	return runNoun("config", map[string]action{
		"check": {runConfigCheck, "check [--config PATH] [--format human|json] [--strict]    Validate configuration"},
		"lock":  {runConfigLock, "lock [--config PATH] [--dry-run]    Write .checksums manifests"},
		"get":   {runConfigGet, "get <path> [--config PATH] [--json]    Read one resolved value"},
		"show":  {runConfigShow, "show [--config PATH] [--json]    Print resolved configuration"},
		"token": {runConfigToken, "token [--scopes a,b]    Generate a token entry for api.auth.tokens"},
	}, args)
}

func runProcessNoun(args []string) int {
	return runNoun("process", map[string]action{
		"dispatch":  {runProcessDispatch, "dispatch [--epid ID] [--spec JSON|@file] [--constraint k=v]... [--subscriber S]... [--immediate]"},
		"terminate": {runProcessTerminate, "terminate <epid>    Terminate a process"},
		"show":      {runProcessShow, "show <epid> [--json]    Show a process and its history"},
		"dump":      {runProcessDump, "dump [--json]    Show resources, processes and the waiting queue"},
		"verify-webhook": {runProcessVerifyWebhook,
			"verify-webhook --signature SIG [--body @file] [--secret S] [--config PATH]    Check a webhook payload signature"},
	}, args)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, a := range args {
		if a == "--help" || a == "-h" {
			return true
		}
	}
	return false
}

// --- VERSION ---

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		return printJSON(info)
	}

	fmt.Printf("conductor %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func sortedKeys[V any](m map[string]V) []string {
	var keys []string
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
