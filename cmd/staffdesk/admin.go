package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/upeohq/staffdesk/internal/adapter/postgres"
	"github.com/upeohq/staffdesk/internal/config"
)

// runAdmin dispatches admin subcommands (hash-token, list-requests).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "hash-token":
		return runAdminHashToken(args[1:])
	case "list-requests":
		return runAdminListRequests(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: staffdesk admin <command> [options]

Commands:
  hash-token       Hash an API bearer token for the auth.token_hash config key
  list-requests    List pending signup requests
  help             Show this help message

Examples:
  staffdesk admin hash-token
  staffdesk admin hash-token --token s3cret
  staffdesk admin list-requests
`)
}

func runAdminHashToken(args []string) error {
	fs := flag.NewFlagSet("hash-token", flag.ContinueOnError)
	token := fs.String("token", "", "token to hash (prompted if not provided)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	raw := *token
	if raw == "" {
		var err error
		raw, err = promptSecret("Token: ")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		confirm, err := promptSecret("Confirm token: ")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		if raw != confirm {
			return fmt.Errorf("tokens do not match")
		}
	}
	if raw == "" {
		return fmt.Errorf("token must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash token: %w", err)
	}

	fmt.Println(string(hash))
	return nil
}

func runAdminListRequests(args []string) error {
	fs := flag.NewFlagSet("list-requests", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	requests, err := postgres.NewStore(pool).ListPendingRequests(ctx)
	if err != nil {
		return fmt.Errorf("list requests: %w", err)
	}
	if len(requests) == 0 {
		fmt.Println("No pending requests.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tEMAIL\tBRANCH\tCREATED")
	for i := range requests {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			requests[i].ID, requests[i].Email, requests[i].Branch,
			requests[i].CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

// promptSecret reads a secret from the terminal without echoing.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
