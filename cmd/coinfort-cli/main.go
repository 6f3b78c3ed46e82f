package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "account":
		return runAccountCommand(args[1:], stdout, stderr)
	case "tx":
		return runTxCommand(args[1:], stdout, stderr)
	case "admin":
		return runAdminCommand(args[1:], stdout, stderr)
	case "oracle":
		return runOracleCommand(args[1:], stdout, stderr)
	case "token":
		return runTokenCommand(args[1:], stdout, stderr)
	case "journal":
		return runJournalCommand(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

// applyGlobalFlags consumes --api before the command name.
func applyGlobalFlags(args []string) ([]string, error) {
	for len(args) > 0 {
		arg := args[0]
		switch {
		case arg == "--api" || arg == "-api":
			if len(args) < 2 {
				return nil, fmt.Errorf("%s requires a value", arg)
			}
			apiEndpoint = strings.TrimRight(strings.TrimSpace(args[1]), "/")
			args = args[2:]
		case strings.HasPrefix(arg, "--api="):
			apiEndpoint = strings.TrimRight(strings.TrimSpace(strings.TrimPrefix(arg, "--api=")), "/")
			args = args[1:]
		default:
			return args, nil
		}
	}
	return args, nil
}

func usage() string {
	return strings.Join([]string{
		"Usage: coinfort-cli [--api URL] <command> [subcommand] [flags]",
		"",
		"Commands:",
		"  account  open | get",
		"  tx       create | get | close | list",
		"  admin    approve | hold | tx-hold | manager | oracle | oracle-manager",
		"  oracle   satisfy | status",
		"  token    approve | transfer | balance | custody",
		"  journal  list recorded events",
		"",
		"The API endpoint defaults to $" + apiEndpointEnv + " or http://localhost:8646.",
		"Authenticated commands read the bearer token from $" + apiTokenEnv + " or prompt for it.",
	}, "\n")
}
