// Package main provides a CLI for validating and listing SOAR playbook,
// correlation rule and webhook action definitions.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"boundary-soar/internal/action"
	"boundary-soar/internal/correlation"
	"boundary-soar/internal/playbook"
)

var version = "dev"

// Definition kinds.
const (
	kindPlaybook = "playbook"
	kindRule     = "rule"
	kindAction   = "action"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "validate":
		os.Exit(runValidateCmd(os.Args[2:], os.Stdout))
	case "list":
		os.Exit(runListCmd(os.Args[2:], os.Stdout))
	case "-version", "--version", "-v":
		fmt.Printf("soar-playbooks %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "Usage: soar-playbooks <command> [flags] <path>...\n\n")
	fmt.Fprintf(w, "Commands:\n")
	fmt.Fprintf(w, "  validate  Validate definition files or directories\n")
	fmt.Fprintf(w, "  list      List definitions found in files or directories\n\n")
	fmt.Fprintf(w, "Flags:\n")
	fmt.Fprintf(w, "  -kind     playbook (default), rule or action\n")
	fmt.Fprintf(w, "  -actions  webhook action file used to check playbook action references\n")
	fmt.Fprintf(w, "  -version  Show version and exit\n")
}

func runValidateCmd(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	kind := fs.String("kind", kindPlaybook, "Definition kind: playbook, rule or action")
	actionsPath := fs.String("actions", "", "Webhook action file for reference checks")
	verbose := fs.Bool("verbose", false, "Show definition details")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintf(out, "Error: at least one path is required\n")
		return 1
	}

	var known map[string]bool
	if *actionsPath != "" {
		acts, err := action.LoadWebhooks(*actionsPath, 0)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return 1
		}
		known = make(map[string]bool, len(acts))
		for _, a := range acts {
			known[a.Name] = true
		}
	}

	v := validator{kind: *kind, known: known, verbose: *verbose, out: out}
	return v.run(fs.Args())
}

func runListCmd(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	kind := fs.String("kind", kindPlaybook, "Definition kind: playbook, rule or action")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	paths := fs.Args()
	if len(paths) == 0 {
		switch *kind {
		case kindRule:
			paths = []string{"configs/rules"}
		case kindAction:
			paths = []string{"configs/actions.yaml"}
		default:
			paths = []string{"configs/playbooks"}
		}
	}

	for _, path := range paths {
		files, err := collectYAMLFiles(path)
		if err != nil {
			fmt.Fprintf(out, "Error reading %s: %v\n", path, err)
			continue
		}
		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				continue
			}
			switch *kind {
			case kindRule:
				rules, err := correlation.ParseRules(data)
				if err != nil {
					continue
				}
				for _, r := range rules {
					fmt.Fprintf(out, "%-32s  %-10s  %-8s  %s\n", r.Name, r.TimeWindow, r.Severity, r.Action)
				}
			case kindAction:
				cfgs, err := action.ParseWebhooks(data)
				if err != nil {
					continue
				}
				for _, c := range cfgs {
					fmt.Fprintf(out, "%-32s  %s\n", c.Name, c.URL)
				}
			default:
				pbs, err := playbook.ParsePlaybooks(data)
				if err != nil {
					continue
				}
				for _, p := range pbs {
					fmt.Fprintf(out, "%-32s  prio=%-3d  steps=%-2d  %s\n", p.ID, p.Priority, len(p.Steps), p.Name)
				}
			}
		}
	}
	return 0
}

type validator struct {
	kind    string
	known   map[string]bool
	verbose bool
	out     io.Writer
}

func (v validator) run(paths []string) int {
	var total, valid, invalid int
	for _, path := range paths {
		files, err := collectYAMLFiles(path)
		if err != nil {
			fmt.Fprintf(v.out, "Error: %s: %v\n", path, err)
			invalid++
			continue
		}
		for _, f := range files {
			total++
			if v.file(f) {
				valid++
			} else {
				invalid++
			}
		}
	}

	fmt.Fprintf(v.out, "\nResults: %d files checked, %d valid, %d invalid\n", total, valid, invalid)
	if invalid > 0 {
		return 1
	}
	return 0
}

func (v validator) file(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(v.out, "  FAIL  %s: %v\n", path, err)
		return false
	}

	switch v.kind {
	case kindRule:
		rules, err := correlation.ParseRules(data)
		if err != nil {
			fmt.Fprintf(v.out, "  FAIL  %s: %v\n", path, err)
			return false
		}
		fmt.Fprintf(v.out, "  OK    %s (%d rule(s))\n", path, len(rules))
		if v.verbose {
			for _, r := range rules {
				fmt.Fprintf(v.out, "        - %s window=%s action=%s\n", r.Name, r.TimeWindow, r.Action)
				for _, c := range r.Conditions {
					fmt.Fprintf(v.out, "          %s\n", c)
				}
			}
		}
		return true

	case kindAction:
		cfgs, err := action.ParseWebhooks(data)
		if err == nil {
			for _, c := range cfgs {
				if _, err = action.NewWebhookAction(c, nil); err != nil {
					break
				}
			}
		}
		if err != nil {
			fmt.Fprintf(v.out, "  FAIL  %s: %v\n", path, err)
			return false
		}
		fmt.Fprintf(v.out, "  OK    %s (%d action(s))\n", path, len(cfgs))
		return true

	default:
		pbs, err := playbook.ParsePlaybooks(data)
		if err != nil {
			fmt.Fprintf(v.out, "  FAIL  %s: %v\n", path, err)
			return false
		}
		var missing []string
		if v.known != nil {
			for _, p := range pbs {
				for _, name := range p.ActionNames() {
					if !v.known[name] {
						missing = append(missing, p.ID+"/"+name)
					}
				}
			}
		}
		if len(missing) > 0 {
			fmt.Fprintf(v.out, "  FAIL  %s: unknown actions: %s\n", path, strings.Join(missing, ", "))
			return false
		}
		fmt.Fprintf(v.out, "  OK    %s (%d playbook(s))\n", path, len(pbs))
		if v.verbose {
			for _, p := range pbs {
				fmt.Fprintf(v.out, "        - [%s] %s (priority=%d, steps=%d)\n", p.ID, p.Name, p.Priority, len(p.Steps))
				if p.Escalation != nil {
					fmt.Fprintf(v.out, "          escalation: %s\n", strings.Join(p.Escalation.Actions, ", "))
				}
			}
		}
		return true
	}
}

// collectYAMLFiles returns path itself for a file, or every YAML file under
// a directory.
func collectYAMLFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(p))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}
