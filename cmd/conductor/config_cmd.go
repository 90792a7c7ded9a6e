package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/conductor/internal/config"
	"github.com/mattjoyce/conductor/internal/doctor"
	"github.com/mattjoyce/conductor/internal/tui/tokenmgr"
)

func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", envOr(configEnv, "config.yaml"), "Path to configuration file or directory")
}

// splitPositional lets positional arguments appear before or after flags.
func splitPositional(args []string) (positional, flags []string) {
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case strings.HasPrefix(a, "-"):
			flags = append(flags, a)
			if !strings.Contains(a, "=") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") && !isBoolFlag(a) {
				flags = append(flags, args[i+1])
				i++
			}
		default:
			positional = append(positional, a)
		}
	}
	return positional, flags
}

func isBoolFlag(name string) bool {
	switch strings.TrimLeft(name, "-") {
	case "json", "strict", "dry-run", "immediate", "v", "verbose":
		return true
	}
	return false
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := configFlag(fs)
	format := fs.String("format", "human", "Output format: human or json")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		result := &doctor.Result{Valid: false, Errors: []doctor.Issue{{Category: "load", Message: err.Error()}}}
		printDoctorResult(result, *format)
		return 1
	}

	result := doctor.New(cfg).Validate()
	printDoctorResult(result, *format)

	if !result.Valid || (*strict && len(result.Warnings) > 0) {
		return 1
	}
	return 0
}

func printDoctorResult(r *doctor.Result, format string) {
	if format == "json" {
		out, err := doctor.FormatJSON(r)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return
		}
		fmt.Println(out)
		return
	}
	fmt.Print(doctor.FormatHuman(r))
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := configFlag(fs)
	dryRun := fs.Bool("dry-run", false, "List files that would be hashed without writing")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.LoadUnverified(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	if *dryRun {
		for _, f := range cfg.SourceFiles {
			fmt.Printf("would hash %s\n", f)
		}
		return 0
	}

	written, err := config.Lock(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lock failed: %v\n", err)
		return 1
	}
	for _, w := range written {
		fmt.Printf("wrote %s\n", w)
	}
	return 0
}

func runConfigGet(args []string) int {
	positional, flags := splitPositional(args)
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	configPath := configFlag(fs)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: conductor config get <path> [--config PATH] [--json]")
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	v, err := cfg.Redacted().GetPath(positional[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if *jsonOut {
		return printJSON(v)
	}
	return printYAML(v)
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := configFlag(fs)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}
	if *jsonOut {
		v, err := cfg.Redacted().GetPath("")
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		return printJSON(v)
	}
	return printYAML(cfg.Redacted())
}

func printYAML(v any) int {
	data, err := yaml.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render YAML: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

// runConfigToken prints a new token entry. Without --scopes an interactive
// picker asks for them.
func runConfigToken(args []string) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	scopesFlag := fs.String("scopes", "", "Comma-separated scopes (skips the picker)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	var scopes []string
	if *scopesFlag != "" {
		known := make(map[string]bool, len(tokenmgr.Scopes))
		for _, s := range tokenmgr.Scopes {
			known[s.Scope] = true
		}
		for _, s := range strings.Split(*scopesFlag, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if !known[s] {
				fmt.Fprintf(os.Stderr, "Unknown scope: %s\n", s)
				return 1
			}
			scopes = append(scopes, s)
		}
	} else {
		picker := tokenmgr.NewPicker()
		if _, err := tea.NewProgram(picker).Run(); err != nil {
			fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			return 1
		}
		selected, ok := picker.Selected()
		if !ok {
			fmt.Fprintln(os.Stderr, "No scopes selected.")
			return 1
		}
		scopes = selected
	}
	if len(scopes) == 0 {
		fmt.Fprintln(os.Stderr, "No scopes selected.")
		return 1
	}

	token, err := tokenmgr.NewToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	snippet, err := tokenmgr.Snippet(token, scopes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	fmt.Println("# add under api.auth.tokens:")
	fmt.Print(snippet)
	return 0
}
