package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fmueller/whisperapi/internal/cli"
	"github.com/fmueller/whisperapi/internal/transcription"
	"github.com/spf13/cobra"
)

func main() {
	cmd := cli.NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if shouldPrintUsageHint(err) {
			fmt.Fprintf(os.Stderr, "Run '%s --help' for usage.\n", helpHintTarget(cmd, os.Args[1:]))
		}
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for input the pipeline rejected and 1 for everything else.
func exitCode(err error) int {
	switch transcription.KindOf(err) {
	case transcription.KindInvalidFileType, transcription.KindInvalidLanguage,
		transcription.KindInvalidModel, transcription.KindNoFile:
		return 2
	default:
		return 1
	}
}

func shouldPrintUsageHint(err error) bool {
	if err == nil {
		return false
	}

	message := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"unknown shorthand flag",
		"accepts ",
		"accepts no arguments",
		"requires at least",
		"requires at most",
		"required flag",
	}

	for _, pattern := range patterns {
		if strings.Contains(message, pattern) {
			return true
		}
	}

	return false
}

func helpHintTarget(root *cobra.Command, args []string) string {
	if root == nil {
		return "whisperapi"
	}

	target := root.CommandPath()
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return target
	}

	found, _, err := root.Find(args)
	if err == nil && found != nil {
		return found.CommandPath()
	}

	return target
}
