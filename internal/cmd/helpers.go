package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/cameronsjo/rigging/internal/manifest"
	"github.com/cameronsjo/rigging/internal/ui"
)

// readYAMLFile decodes a YAML (or JSON) file into v. "-" reads stdin.
func readYAMLFile(cmd *cobra.Command, path string, v any) error {
	if path == "" {
		return fmt.Errorf("a file is required (-f)")
	}

	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// writeOutput encodes v to the command's stdout in the requested format.
func writeOutput(cmd *cobra.Command, v any, format string) error {
	f, err := manifest.ParseFormat(format)
	if err != nil {
		return err
	}
	data, err := manifest.Encode(v, f)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

// printMessages prints composition errors and warnings to stderr so that
// stdout stays a clean manifest.
func printMessages(cmd *cobra.Command, errs, warnings []manifest.Message) {
	w := cmd.ErrOrStderr()
	for _, m := range errs {
		ui.Red.Fprintf(w, "✗ %s\n", m.Message)
		printContext(w, m)
	}
	for _, m := range warnings {
		ui.Yellow.Fprintf(w, "⚠ %s\n", m.Message)
		printContext(w, m)
	}
}

func printContext(w io.Writer, m manifest.Message) {
	var parts []string
	if m.Code != "" {
		parts = append(parts, "code="+m.Code)
	}
	if m.Category != "" {
		parts = append(parts, "category="+string(m.Category))
	}
	if m.ProfileID != "" {
		parts = append(parts, "profile="+m.ProfileID)
	}
	if m.Path != "" {
		parts = append(parts, "path="+m.Path)
	}
	if len(parts) > 0 {
		ui.Faint.Fprintf(w, "    %s\n", strings.Join(parts, " "))
	}
}

// isTerminal checks if stdin is a TTY.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// promptYesNo asks the user a yes/no question.
// Returns error if stdin is not a TTY and cannot read input.
func promptYesNo(question string) (bool, error) {
	if !isTerminal() {
		return false, fmt.Errorf("cannot prompt for input: stdin is not a TTY. Use --yes flag to skip interactive prompts")
	}

	fmt.Printf("%s [y/N] ", question)

	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("read user input: %w", err)
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes", nil
}

// confirm asks before a destructive action on a terminal. Without a terminal
// the action proceeds, since there is nobody to ask.
func confirm(yes bool, question string) (bool, error) {
	if yes || !isTerminal() {
		return true, nil
	}
	return promptYesNo(question)
}
