// Command binform decomposes binary containers into pattern trees and
// rebuilds them byte for byte.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/danmuck/binform/internal/config"
	"github.com/danmuck/binform/internal/engine"
	"github.com/danmuck/binform/internal/logging"
)

var version = "dev"

// Exit codes shared by all commands. A compare mismatch exits with
// exitFailure.
const (
	exitOK      = 0
	exitFailure = 1
	exitParse   = 2
	exitGrammar = 3
)

// exitError carries a process exit code through cobra's error return.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFailure
}

func main() {
	logging.ConfigureRuntime()
	err := newRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "binform:", err)
	}
	os.Exit(exitCode(err))
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "binform",
		Short:         "Grammar-driven binary decomposition and reconstruction",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("config", "", "config file (default: ./"+config.DefaultPath+" when present)")

	cmd.AddCommand(
		newDecomposeCmd(),
		newReconstructCmd(),
		newCompareCmd(),
		newCertifyCmd(),
		newGrammarsCmd(),
		newConfigCmd(),
	)
	return cmd
}

// engineFromCmd loads the --config file, or the default path when it
// exists, and falls back to built-in defaults otherwise.
func engineFromCmd(cmd *cobra.Command) (*engine.Engine, error) {
	path, _ := cmd.Flags().GetString("config")
	explicit := path != ""
	if !explicit {
		path = config.DefaultPath
	}
	cfg := config.Default()
	if _, err := os.Stat(path); err == nil || explicit {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		log.Debug().Str("path", path).Msg("config loaded")
	}
	return engine.New(cfg, nil), nil
}
