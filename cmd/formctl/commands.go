package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/liamcoop/formrules/derived"
	"github.com/liamcoop/formrules/forms"
)

var errInvalidSubmission = errors.New("submission is invalid")

func evalCmd() *cobra.Command {
	var configPath, valuesPath string
	var trace bool

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a derived-field config against values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			values, err := loadValues(valuesPath)
			if err != nil {
				return err
			}

			res, conds := derived.EvaluateWithTrace(cfg, values)
			out := cmd.OutOrStdout()

			if viper.GetBool("json") {
				payload := map[string]any{"result": res}
				if trace {
					payload["trace"] = conds
				}
				return printJSON(out, payload)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(out)
			tw.AppendHeader(table.Row{"Target", "Hit", "Value", "Error"})
			tw.AppendRow(table.Row{cfg.Then.TargetFieldID, res.Hit, formatValue(res.Value), res.Error})
			tw.Render()

			if trace {
				printTrace(out, conds)
			}
			if cause := derived.Cause(cfg, values); cause != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "cause: %v\n", cause)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "derived config file (YAML or JSON)")
	cmd.Flags().StringVar(&valuesPath, "values", "", "form values file (YAML or JSON)")
	cmd.Flags().BoolVar(&trace, "trace", false, "print the outcome of every condition")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func validateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a derived-field config document",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if err := derived.Validate(cfg); err != nil {
				return fmt.Errorf("%s: %w", configPath, err)
			}

			refs := derived.ReferencedFields(cfg)
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"valid":      true,
					"target":     cfg.Then.TargetFieldID,
					"references": refs,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid, writes %s, reads %s\n",
				configPath, cfg.Then.TargetFieldID, strings.Join(refs, ", "))
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "derived config file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func formCmd() *cobra.Command {
	form := &cobra.Command{Use: "form", Short: "Check and try out form definitions"}
	form.AddCommand(formCheckCmd())
	form.AddCommand(formSubmitCmd())
	return form
}

func formCheckCmd() *cobra.Command {
	var formPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a form definition and show its compiled field checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			form, err := loadForm(formPath)
			if err != nil {
				return err
			}
			if err := forms.ValidateForm(form); err != nil {
				return fmt.Errorf("%s: %w", formPath, err)
			}
			validator, err := forms.NewValidator(form)
			if err != nil {
				return fmt.Errorf("%s: %w", formPath, err)
			}

			checks := make(map[string][]string, len(form.Fields))
			for _, field := range form.Fields {
				checks[field.ID] = validator.Expressions(field.ID)
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), checks)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"Field", "Type", "Checks"})
			for _, field := range form.Fields {
				desc := strings.Join(checks[field.ID], "\n")
				if field.Type == forms.FieldDerived {
					desc = "derived from " + strings.Join(derived.ReferencedFields(*field.Derived), ", ")
				}
				tw.AppendRow(table.Row{field.ID, field.Type, desc})
			}
			tw.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&formPath, "form", "", "form definition file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("form")
	return cmd
}

func formSubmitCmd() *cobra.Command {
	var formPath, valuesPath string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit values to a form definition without a server",
		RunE: func(cmd *cobra.Command, args []string) error {
			form, err := loadForm(formPath)
			if err != nil {
				return err
			}
			values, err := loadValues(valuesPath)
			if err != nil {
				return err
			}

			m := forms.NewManager(forms.NewInMemoryStore())
			if err := m.CreateForm(form); err != nil {
				return fmt.Errorf("%s: %w", formPath, err)
			}
			sub, err := m.Submit(form.ID, values)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if viper.GetBool("json") {
				if err := printJSON(out, sub); err != nil {
					return err
				}
			} else {
				printSubmission(out, form, sub)
			}

			if !sub.Valid {
				return errInvalidSubmission
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&formPath, "form", "", "form definition file (YAML or JSON)")
	cmd.Flags().StringVar(&valuesPath, "values", "", "form values file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("form")
	return cmd
}

func printSubmission(out io.Writer, form *forms.Form, sub *forms.Submission) {
	errs := make(map[string][]string)
	for _, fe := range sub.FieldErrors {
		errs[fe.FieldID] = append(errs[fe.FieldID], fe.Message)
	}
	derivedErrs := make(map[string]string)
	for _, res := range sub.Derived {
		if res.Error != "" {
			derivedErrs[res.TargetFieldID] = res.Error
		}
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"Field", "Value", "Problems"})
	for _, field := range form.Fields {
		problems := errs[field.ID]
		if msg, ok := derivedErrs[field.ID]; ok {
			problems = append(problems, msg)
		}
		value, ok := sub.Values[field.ID]
		if !ok {
			value = ""
		}
		tw.AppendRow(table.Row{field.ID, value, strings.Join(problems, "; ")})
	}
	tw.Render()
}

func printTrace(out io.Writer, conds []derived.ConditionTrace) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"Condition", "Field", "Operator", "Matched"})
	for _, c := range conds {
		tw.AppendRow(table.Row{c.ConditionID, c.FieldID, c.Operator, c.Matched})
	}
	tw.Render()
}

func formatValue(v *float64) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%g", *v)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
