package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"homeguard/internal/model"
	"homeguard/internal/rules"
	"homeguard/internal/storage"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage rules in the configured storage",
		Long:  "A rule has one condition (face, behavior, device or time), a sensitivity and the actions run when an event matches. Changes are picked up by a running server on its next refresh.",
	}
	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesShowCmd())
	cmd.AddCommand(rulesAddCmd())
	cmd.AddCommand(rulesSetEnabledCmd("enable", true))
	cmd.AddCommand(rulesSetEnabledCmd("disable", false))
	cmd.AddCommand(rulesRemoveCmd())
	cmd.AddCommand(rulesSeedCmd())
	return cmd
}

func rulesListCmd() *cobra.Command {
	var condType, actionType, name string
	var enabledOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRules(cmd.Context(), func(ctx context.Context, rs *rules.Store, _ storage.Store) error {
				filter := rules.Filter{
					ConditionType: model.ConditionType(condType),
					ActionType:    model.ActionType(actionType),
					Name:          name,
				}
				if enabledOnly {
					t := true
					filter.Enabled = &t
				}
				list := rs.List(filter)
				if viper.GetBool("json") {
					return printJSON(list)
				}
				renderRules(list)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&condType, "type", "", "condition type filter")
	cmd.Flags().StringVar(&actionType, "action", "", "action type filter")
	cmd.Flags().StringVar(&name, "name", "", "name substring filter")
	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "only enabled rules")
	return cmd
}

func renderRules(list []model.Rule) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Condition", "Sensitivity", "Actions", "Enabled"})
	for _, r := range list {
		cond := fmt.Sprintf("%s %s %s", r.Condition.Type, r.Condition.Operator, r.Condition.Value)
		tw.AppendRow(table.Row{r.ID, r.Name, cond, r.Sensitivity, actionSummary(r.Actions), r.Enabled})
	}
	tw.Render()
}

func actionSummary(actions []model.Action) string {
	if len(actions) == 0 {
		return "-"
	}
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, string(a.Type))
	}
	return strings.Join(names, ",")
}

func rulesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRules(cmd.Context(), func(ctx context.Context, rs *rules.Store, _ storage.Store) error {
				rule, err := rs.Get(args[0])
				if err != nil {
					return fmt.Errorf("rule %s: %w", args[0], err)
				}
				return printJSONOrTable(rule)
			})
		},
	}
}

func rulesAddCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add rules from a YAML or JSON file (one rule or a list)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return errors.New("--file required")
			}
			data, err := readInput(file)
			if err != nil {
				return err
			}
			list, err := decodeRules(data)
			if err != nil {
				return err
			}
			return withRules(cmd.Context(), func(ctx context.Context, rs *rules.Store, _ storage.Store) error {
				added := make([]string, 0, len(list))
				for _, r := range list {
					id, err := rs.Add(ctx, r)
					if err != nil {
						return fmt.Errorf("add %q: %w (added so far: %v)", r.ID, err, added)
					}
					added = append(added, id)
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"added": added})
				}
				fmt.Printf("added %d rule(s): %s\n", len(added), strings.Join(added, ", "))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "rule file, - for stdin")
	return cmd
}

func rulesSetEnabledCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRules(cmd.Context(), func(ctx context.Context, rs *rules.Store, _ storage.Store) error {
				rule, err := rs.SetEnabled(ctx, args[0], enabled)
				if err != nil {
					return fmt.Errorf("rule %s: %w", args[0], err)
				}
				if viper.GetBool("json") {
					return printJSON(rule)
				}
				fmt.Printf("rule %s enabled=%t\n", rule.ID, rule.Enabled)
				return nil
			})
		},
	}
}

func rulesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRules(cmd.Context(), func(ctx context.Context, rs *rules.Store, _ storage.Store) error {
				if err := rs.Remove(ctx, args[0]); err != nil {
					return fmt.Errorf("rule %s: %w", args[0], err)
				}
				fmt.Printf("rule %s removed\n", args[0])
				return nil
			})
		},
	}
}

func rulesSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Install the default rules into an empty store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRules(cmd.Context(), func(ctx context.Context, rs *rules.Store, _ storage.Store) error {
				n, err := rs.SeedDefaults(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("seeded %d rule(s)\n", n)
				return nil
			})
		},
	}
}

func templatesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "templates", Short: "Browse and apply rule templates"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			list := rules.Templates()
			if viper.GetBool("json") {
				return printJSON(list)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Key", "Name", "Condition", "Actions"})
			for _, t := range list {
				cond := fmt.Sprintf("%s %s %s", t.Condition.Type, t.Condition.Operator, t.Condition.Value)
				tw.AppendRow(table.Row{t.Key, t.Name, cond, actionSummary(t.Actions)})
			}
			tw.Render()
			return nil
		},
	})
	cmd.AddCommand(templatesApplyCmd())
	return cmd
}

func templatesApplyCmd() *cobra.Command {
	var id, sensitivity string
	cmd := &cobra.Command{
		Use:   "apply <key>",
		Short: "Add a rule built from a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRules(cmd.Context(), func(ctx context.Context, rs *rules.Store, _ storage.Store) error {
				rule, err := rs.ApplyTemplate(ctx, args[0], id, model.Sensitivity(sensitivity))
				if err != nil {
					return err
				}
				return printJSONOrTable(rule)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "rule id (generated when empty)")
	cmd.Flags().StringVar(&sensitivity, "sensitivity", "", "low, medium or high")
	return cmd
}

func alertsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "alerts", Short: "Read alert history from storage"}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List the most recent alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRules(cmd.Context(), func(ctx context.Context, _ *rules.Store, store storage.Store) error {
				items, err := store.ListAlerts(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Time", "Rule", "Severity", "Event", "Device"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.CreatedAt.Format("2006-01-02 15:04:05"), a.RuleID, a.Severity, a.EventID, a.DeviceID})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "number of alerts")
	cmd.AddCommand(list)
	return cmd
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// decodeRules accepts a single rule document or a sequence of rules, in YAML
// or JSON.
func decodeRules(data []byte) ([]model.Rule, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, errors.New("rule file is empty")
	}
	root := doc.Content[0]
	if root.Kind == yaml.SequenceNode {
		var list []model.Rule
		if err := root.Decode(&list); err != nil {
			return nil, fmt.Errorf("parse rules: %w", err)
		}
		return list, nil
	}
	var r model.Rule
	if err := root.Decode(&r); err != nil {
		return nil, fmt.Errorf("parse rule: %w", err)
	}
	return []model.Rule{r}, nil
}
