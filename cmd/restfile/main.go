package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/msageha/restfile/internal/daemon"
	"github.com/msageha/restfile/internal/httpapi"
	"github.com/msageha/restfile/internal/model"
	"github.com/msageha/restfile/internal/setup"
	"github.com/msageha/restfile/internal/status"
	"github.com/msageha/restfile/internal/uds"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	overrides, err := model.ParseEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "daemon":
		runDaemon(overrides, os.Args[2:])
	case "setup":
		runSetup(os.Args[2:])
	case "call":
		runCall(overrides, os.Args[2:])
	case "reload":
		runReload(overrides, os.Args[2:])
	case "state":
		runState(overrides, os.Args[2:])
	case "status":
		runStatus(overrides, os.Args[2:])
	case "stop":
		runStop(overrides, os.Args[2:])
	case "token":
		runToken(overrides, os.Args[2:])
	case "version":
		fmt.Printf("restfile %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runDaemon(overrides model.EnvOverrides, _ []string) {
	dir := mustFindDir(overrides)

	cfg, err := loadConfig(dir, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	d, err := daemon.New(dir, cfg, overrides)
	if err != nil {
		var verrs *model.ValidationErrors
		if errors.As(err, &verrs) {
			fmt.Fprint(os.Stderr, verrs.FormatStderr())
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "create daemon: %v\n", err)
		os.Exit(1)
	}

	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

func runSetup(args []string) {
	projectDir := "."
	if len(args) > 0 {
		projectDir = args[0]
	}
	base, err := setup.Run(projectDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Initialized %s\n", base)
}

func runCall(overrides model.EnvOverrides, args []string) {
	const usage = "usage: restfile call <command> --file <path> [--response-variable <name>]\n       restfile call --list"

	var params uds.CallParams
	list := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--list":
			list = true
		case "--file":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--file requires a value")
				os.Exit(1)
			}
			i++
			params.File = args[i]
		case "--response-variable":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--response-variable requires a value")
				os.Exit(1)
			}
			i++
			params.ResponseVariable = args[i]
		default:
			if strings.HasPrefix(args[i], "--") || params.Command != "" {
				fmt.Fprintf(os.Stderr, "unknown argument: %s\n%s\n", args[i], usage)
				os.Exit(1)
			}
			params.Command = args[i]
		}
	}

	client := newClient(mustFindDir(overrides))

	if list {
		var services []model.ServiceDescription
		if err := client.Do(uds.CommandServices, nil, &services); err != nil {
			exitWithError("call --list", err)
		}
		for _, s := range services {
			fmt.Printf("%-20s  %s\n", s.Name, s.Description)
		}
		return
	}

	if params.Command == "" || params.File == "" {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}
	abs, err := filepath.Abs(params.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve %s: %v\n", params.File, err)
		os.Exit(1)
	}
	params.File = abs

	var value *model.ServiceResponse
	if err := client.Do(uds.CommandCall, params, &value); err != nil {
		exitWithError("call", err)
	}
	if value != nil {
		printJSON(map[string]any{params.ResponseVariable: value})
	}
}

func runReload(overrides model.EnvOverrides, _ []string) {
	var summary model.ReloadSummary
	if err := newClient(mustFindDir(overrides)).Do(uds.CommandReload, nil, &summary); err != nil {
		exitWithError("reload", err)
	}
	printJSON(summary)
}

func runState(overrides model.EnvOverrides, args []string) {
	client := newClient(mustFindDir(overrides))
	if len(args) == 0 {
		var results []model.LastResult
		if err := client.Do(uds.CommandState, nil, &results); err != nil {
			exitWithError("state", err)
		}
		printJSON(results)
		return
	}
	var rec model.LastResult
	if err := client.Do(uds.CommandState, uds.StateParams{Command: args[0]}, &rec); err != nil {
		exitWithError("state", err)
	}
	printJSON(rec)
}

func runStatus(overrides model.EnvOverrides, args []string) {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: restfile status [--json]\n", a)
			os.Exit(1)
		}
	}

	if err := status.Run(mustFindDir(overrides), jsonOutput, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
}

func runStop(overrides model.EnvOverrides, _ []string) {
	if err := newClient(mustFindDir(overrides)).Do(uds.CommandShutdown, nil, nil); err != nil {
		exitWithError("stop", err)
	}
	fmt.Println("shutdown requested")
}

func runToken(overrides model.EnvOverrides, args []string) {
	subject := "host"
	ttl := time.Duration(0)
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--subject":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--subject requires a value")
				os.Exit(1)
			}
			i++
			subject = args[i]
		case "--ttl":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--ttl requires a value")
				os.Exit(1)
			}
			i++
			d, err := time.ParseDuration(args[i])
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid --ttl: %v\n", err)
				os.Exit(1)
			}
			ttl = d
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: restfile token [--subject <name>] [--ttl <duration>]\n", args[i])
			os.Exit(1)
		}
	}

	cfg, err := loadConfig(mustFindDir(overrides), overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.API.TokenSecret == "" {
		fmt.Fprintln(os.Stderr, "error: api.token_secret is not set (config.yaml or RESTFILE_TOKEN_SECRET)")
		os.Exit(1)
	}
	token, err := httpapi.MintToken(cfg.API.TokenSecret, subject, ttl, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func mustFindDir(overrides model.EnvOverrides) string {
	if overrides.Dir != "" {
		abs, err := filepath.Abs(overrides.Dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "resolve RESTFILE_DIR: %v\n", err)
			os.Exit(1)
		}
		return abs
	}
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "getwd: %v\n", err)
		os.Exit(1)
	}
	dir, err := setup.Find(cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return dir
}

func loadConfig(dir string, overrides model.EnvOverrides) (model.Config, error) {
	cfg, err := model.LoadConfig(filepath.Join(dir, model.ConfigFileName))
	if err != nil {
		return model.Config{}, err
	}
	overrides.Apply(&cfg)
	return cfg, nil
}

func newClient(dir string) *uds.Client {
	return uds.NewClient(filepath.Join(dir, uds.DefaultSocketName))
}

func exitWithError(op string, err error) {
	var detail *uds.ErrorDetail
	if errors.As(err, &detail) {
		fmt.Fprintf(os.Stderr, "%s failed [%s]: %s\n", op, detail.Code, detail.Message)
	} else {
		fmt.Fprintf(os.Stderr, "%s: %v\n", op, err)
	}
	os.Exit(1)
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `restfile %s - upload files to REST endpoints as configured commands

Usage: restfile <command> [options]

Project:
  setup [dir]        Initialize .restfile/ directory
  daemon             Run daemon process
  stop               Ask the daemon to shut down
  status [--json]    Show daemon status and last results

Commands (CLI → Daemon):
  call <command> --file <path> [--response-variable <name>]
                     Upload a file with a configured command
  call --list        List configured commands
  reload             Re-read config.yaml
  state [command]    Show last results

Utilities:
  token [--subject <name>] [--ttl <duration>]
                     Mint a bearer token for the REST API
  version            Show version
  help               Show this help

Environment:
  RESTFILE_DIR, RESTFILE_LOG_LEVEL, RESTFILE_API_LISTEN, RESTFILE_TOKEN_SECRET
  (also read from ./.env)

`, version)
}
