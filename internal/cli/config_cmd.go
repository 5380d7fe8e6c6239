package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/soyeahso/livedesk/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit config.yaml",
		Long: `Read and edit config.yaml by dot path. List elements are addressed
with an index, e.g. organizations[0].mail.smtp.host.`,
	}
	cmd.AddCommand(
		newConfigGetCmd(),
		newConfigSetCmd(),
		newConfigUnsetCmd(),
		newConfigPathCmd(),
		newConfigValidateCmd(),
	)
	return cmd
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored at a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, raw, err := openKey(args[0])
			if err != nil {
				return err
			}
			val, ok := config.GetValueAtPath(raw, path)
			if !ok {
				return fmt.Errorf("key %q not found", args[0])
			}
			return printValue(cmd.OutOrStdout(), val)
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a value at a key",
		Long: `Store a value at a key. Booleans and numbers are typed; everything else
is a string. The edit is refused when the resulting config does not
validate, unless --force is given.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := parseValue(args[1])
			err := editKey(cmd.ErrOrStderr(), args[0], force, func(raw map[string]any, path []string) error {
				return config.SetValueAtPath(raw, path, value)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", args[0], value)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "save even if the result fails validation")
	return cmd
}

func newConfigUnsetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unset <key>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := editKey(cmd.ErrOrStderr(), args[0], true, func(raw map[string]any, path []string) error {
				if !config.UnsetValueAtPath(raw, path) {
					return fmt.Errorf("key %q not found", args[0])
				}
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unset %s\n", args[0])
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print where config.yaml lives",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), paths.Config)
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Report problems in config.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				printIssues(out, issues)
				return fmt.Errorf("%d validation issue(s)", len(issues))
			}
			fmt.Fprintf(out, "%s: ok (%d organization(s))\n", paths.Config, len(cfg.Organizations))
			return nil
		},
	}
}

// openKey parses key and loads the raw file it addresses.
func openKey(key string) ([]string, map[string]any, error) {
	path, err := config.ParseConfigPath(key)
	if err != nil {
		return nil, nil, err
	}
	raw, err := config.LoadRaw(paths.Config)
	if err != nil {
		return nil, nil, err
	}
	return path, raw, nil
}

var errEditInvalid = errors.New("edit would make the config invalid (use --force to save anyway)")

// editKey applies edit to the raw file and saves it. Unless force is set,
// the edit is dropped when the result no longer validates.
func editKey(stderr io.Writer, key string, force bool, edit func(map[string]any, []string) error) error {
	path, raw, err := openKey(key)
	if err != nil {
		return err
	}
	if err := edit(raw, path); err != nil {
		return err
	}

	if !force {
		cfg, err := config.DecodeRaw(raw)
		if err != nil {
			return err
		}
		if issues := config.Validate(&cfg); len(issues) > 0 {
			printIssues(stderr, issues)
			return errEditInvalid
		}
	}

	if err := os.MkdirAll(filepath.Dir(paths.Config), 0o700); err != nil {
		return err
	}
	return config.SaveRaw(paths.Config, raw)
}

func printIssues(w io.Writer, issues []config.ValidationIssue) {
	for _, issue := range issues {
		fmt.Fprintf(w, "  - %s\n", issue)
	}
}

func printValue(w io.Writer, v any) error {
	switch v.(type) {
	case map[string]any, []any:
		data, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		_, err := fmt.Fprintln(w, v)
		return err
	}
}

// parseValue types a command-line value: bools, then ints, then floats.
func parseValue(s string) any {
	if b, err := strconv.ParseBool(strings.ToLower(s)); err == nil && len(s) > 1 {
		return b
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
