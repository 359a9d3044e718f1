// Package cli implements the ledgerdesk admin subcommands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/ledgerdesk/ledgerdesk/internal/auth"
)

// UserRegistrar creates accounts.
type UserRegistrar interface {
	Register(ctx context.Context, input auth.RegisterInput) (*auth.User, error)
}

// JobRunner enqueues jobs and reads queue state.
type JobRunner interface {
	Trigger(ctx context.Context, name string, ownerID int64) (string, error)
	InspectQueue(ctx context.Context) (QueueStats, error)
}

// Env carries the dependencies subcommands may use.
type Env struct {
	Users UserRegistrar
	Jobs  JobRunner
	Out   io.Writer
}

// ErrUsage is returned for unknown or malformed subcommands.
var ErrUsage = errors.New("usage: ledgerdesk [serve | users create | jobs trigger | jobs stats]")

// Run dispatches args (without the program name) to a subcommand.
func Run(ctx context.Context, env Env, args []string) error {
	if len(args) < 2 {
		return ErrUsage
	}
	switch args[0] + " " + args[1] {
	case "users create":
		return createUser(ctx, env, args[2:])
	case "jobs trigger":
		return triggerJob(ctx, env, args[2:])
	case "jobs stats":
		return jobStats(ctx, env)
	}
	return ErrUsage
}

func createUser(ctx context.Context, env Env, args []string) error {
	if env.Users == nil {
		return errors.New("users: registrar not configured")
	}
	fs := flag.NewFlagSet("users create", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var input auth.RegisterInput
	fs.StringVar(&input.Email, "email", "", "login email")
	fs.StringVar(&input.Name, "name", "", "display name")
	fs.StringVar(&input.Password, "password", "", "initial password")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	user, err := env.Users.Register(ctx, input)
	if err != nil {
		return err
	}
	return writeJSON(env.Out, user)
}

func triggerJob(ctx context.Context, env Env, args []string) error {
	if env.Jobs == nil {
		return errors.New("jobs: runner not configured")
	}
	fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	name := fs.String("name", "", "task type")
	owner := fs.Int64("owner", 0, "owner id for reconcile (0 = all)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if *name == "" {
		return fmt.Errorf("%w: -name is required", ErrUsage)
	}
	id, err := env.Jobs.Trigger(ctx, *name, *owner)
	if err != nil {
		return err
	}
	return writeJSON(env.Out, map[string]string{"task": *name, "id": id})
}

func jobStats(ctx context.Context, env Env) error {
	if env.Jobs == nil {
		return errors.New("jobs: runner not configured")
	}
	stats, err := env.Jobs.InspectQueue(ctx)
	if err != nil {
		return err
	}
	return writeJSON(env.Out, stats)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
