package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-dashboard/internal/permissions"
	"github.com/odyssey-erp/odyssey-dashboard/internal/permissions/editor"
)

const (
	opToggle    = "toggle"
	opGrantAll  = "grant_all"
	opRevokeAll = "revoke_all"
)

// changeStep is one edit of a change file.
type changeStep struct {
	Op     string             `yaml:"op"`
	Role   string             `yaml:"role"`
	Module string             `yaml:"module"`
	Action permissions.Action `yaml:"action,omitempty"`
}

type changeFile struct {
	Steps []changeStep `yaml:"steps"`
}

type matrixEditor interface {
	Toggle(roleID, moduleID string, action permissions.Action) error
	GrantAll(moduleID, roleID string) error
	RevokeAll(moduleID, roleID string) error
}

func applySteps(ed matrixEditor, steps []changeStep) error {
	for i, step := range steps {
		var err error
		switch step.Op {
		case opToggle:
			if step.Action == "" {
				return fmt.Errorf("step %d: toggle requires an action", i+1)
			}
			err = ed.Toggle(step.Role, step.Module, step.Action)
		case opGrantAll:
			err = ed.GrantAll(step.Module, step.Role)
		case opRevokeAll:
			err = ed.RevokeAll(step.Module, step.Role)
		default:
			return fmt.Errorf("step %d: unknown op %q", i+1, step.Op)
		}
		if err != nil {
			return fmt.Errorf("step %d (%s %s/%s): %w", i+1, step.Op, step.Role, step.Module, err)
		}
	}
	return nil
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a list of matrix edits through the dashboard API",
	Long: `Apply a list of matrix edits through the dashboard API.

The matrix is loaded, every step is applied in order and the whole table is
saved in one request. Nothing is saved when a step fails.

Example change file:
  steps:
    - {op: grant_all, role: r-admin, module: inventory}
    - {op: toggle, role: r-viewer, module: reports, action: export}`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var changes changeFile
		if err := yaml.Unmarshal(raw, &changes); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		c, err := loginClient(cmd)
		if err != nil {
			return err
		}
		ed := editor.New(c, c)
		if err := ed.Load(cmd.Context()); err != nil {
			return err
		}
		if err := applySteps(ed, changes.Steps); err != nil {
			return err
		}
		if !ed.Dirty() {
			fmt.Fprintln(cmd.OutOrStdout(), "No changes to save")
			return nil
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		if dryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "Would save %d steps\n", len(changes.Steps))
			return nil
		}
		if err := ed.Save(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Applied %d steps\n", len(changes.Steps))
		return nil
	},
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "change file")
	applyCmd.Flags().Bool("dry-run", false, "apply steps locally without saving")
	_ = applyCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(applyCmd)
}
