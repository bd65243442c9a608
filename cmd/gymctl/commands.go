package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/mbd888/gymops/internal/auth"
	"github.com/mbd888/gymops/internal/enrollment"
	"github.com/mbd888/gymops/internal/money"
	"github.com/mbd888/gymops/internal/order"
	"github.com/mbd888/gymops/internal/plan"
	"github.com/mbd888/gymops/internal/pricing"
	"github.com/mbd888/gymops/internal/settlement"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	catalogPath string
	jsonOutput  bool
}

type draftOptions struct {
	plans    []string
	discount string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "gymctl",
		Short:         "Front-desk pricing and operator tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultCatalog := os.Getenv("PLAN_CATALOG_PATH")
	if defaultCatalog == "" {
		defaultCatalog = "configs/plans.yaml"
	}
	root.PersistentFlags().StringVar(&opts.catalogPath, "catalog", defaultCatalog, "plan catalog seed file")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print JSON instead of a table")

	root.AddCommand(
		newVersionCmd(),
		newPlansCmd(opts),
		newQuoteCmd(opts),
		newToggleCmd(opts),
		newSettleCmd(opts),
		newKeysCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gymctl %s (%s)\n", Version, Commit)
		},
	}
}

func newPlansCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List the plan catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := loadBuilder(opts.catalogPath)
			if err != nil {
				return err
			}
			plans := b.Catalog().Plans()
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"plans": plans})
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPRICE\tUNIT\tAVAILABLE")
			for _, p := range plans {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\n", p.ID, p.Name, money.Format(p.BasePrice), p.UnitLabel, p.Available)
			}
			return tw.Flush()
		},
	}
}

func newQuoteCmd(opts *rootOptions) *cobra.Command {
	draft := &draftOptions{}
	cmd := &cobra.Command{
		Use:     "quote",
		Short:   "Price a selection of plans",
		Example: "  gymctl quote --plan 2 --plan 5x3 --discount student",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := loadBuilder(opts.catalogPath)
			if err != nil {
				return err
			}
			o, err := buildDraft(b, draft)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"order": o})
			}
			return printOrder(cmd.OutOrStdout(), o)
		},
	}
	addDraftFlags(cmd, draft)
	return cmd
}

func newToggleCmd(opts *rootOptions) *cobra.Command {
	draft := &draftOptions{}
	cmd := &cobra.Command{
		Use:     "toggle PLAN_ID",
		Short:   "Toggle a plan on a draft and show the result or the rejection",
		Example: "  gymctl toggle 2 --plan 1",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := plan.ParseID(args[0])
			if err != nil {
				return err
			}
			b, err := loadBuilder(opts.catalogPath)
			if err != nil {
				return err
			}
			o, err := buildDraft(b, draft)
			if err != nil {
				return err
			}

			next, err := b.Toggle(o, id)
			var rej *order.Rejection
			switch {
			case errors.As(err, &rej):
				if opts.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), map[string]any{"order": o, "rejection": rej})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rejected (%s): %s\n", rej.Code, rej.Reason)
				return printOrder(cmd.OutOrStdout(), o)
			case err != nil:
				return err
			}
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"order": next, "rejection": nil})
			}
			return printOrder(cmd.OutOrStdout(), next)
		},
	}
	addDraftFlags(cmd, draft)
	return cmd
}

func newSettleCmd(opts *rootOptions) *cobra.Command {
	draft := &draftOptions{}
	payment := enrollment.PaymentRequest{}
	cmd := &cobra.Command{
		Use:     "settle",
		Short:   "Allocate a payment across the lines of a priced selection",
		Example: "  gymctl settle --plan 2 --plan 5 --method cash --received 2500",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := loadBuilder(opts.catalogPath)
			if err != nil {
				return err
			}
			selections, err := parseSelections(draft.plans)
			if err != nil {
				return err
			}
			o, result, err := enrollment.Settle(b, pricing.DiscountType(draft.discount), selections, payment)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"order": o, "settlement": result})
			}
			if err := printOrder(cmd.OutOrStdout(), o); err != nil {
				return err
			}
			return printSettlement(cmd.OutOrStdout(), o, result)
		},
	}
	addDraftFlags(cmd, draft)
	cmd.Flags().StringVar(&payment.Method, "method", "cash", "payment method: cash or digital")
	cmd.Flags().StringVar(&payment.AmountReceived, "received", "", "amount received")
	cmd.Flags().StringVar(&payment.ReferenceNumber, "reference", "", "digital payment reference number")
	_ = cmd.MarkFlagRequired("received")
	return cmd
}

func newKeysCmd() *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Operator API key tooling",
	}
	var operator string
	generate := &cobra.Command{
		Use:   "new",
		Short: "Mint an operator key for OPERATOR_API_KEY",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, key, err := auth.NewManager(auth.NewMemoryStore()).GenerateKey(context.Background(), operator, "cli")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OPERATOR_NAME=%s\nOPERATOR_API_KEY=%s\n", key.Operator, raw)
			return nil
		},
	}
	generate.Flags().StringVar(&operator, "operator", "admin", "operator the key authenticates as")
	keys.AddCommand(generate)
	return keys
}

func addDraftFlags(cmd *cobra.Command, d *draftOptions) {
	cmd.Flags().StringArrayVar(&d.plans, "plan", nil, "plan id, optionally with quantity as IDxQTY (repeatable)")
	cmd.Flags().StringVar(&d.discount, "discount", string(pricing.DiscountNone), "discount type: none, student or senior")
}

func loadBuilder(path string) (*order.Builder, error) {
	plans, err := plan.LoadSeedFile(path)
	if err != nil {
		return nil, err
	}
	catalog, err := plan.NewCatalog(plans)
	if err != nil {
		return nil, err
	}
	return order.NewBuilder(catalog), nil
}

func buildDraft(b *order.Builder, d *draftOptions) (order.Order, error) {
	selections, err := parseSelections(d.plans)
	if err != nil {
		return order.Order{}, err
	}
	if len(selections) == 0 {
		return b.New("", pricing.DiscountType(d.discount)), nil
	}
	return enrollment.Price(b, "", pricing.DiscountType(d.discount), selections)
}

// parseSelections reads "2" or "5x3" (plan 5, quantity 3).
func parseSelections(raw []string) ([]order.Selection, error) {
	out := make([]order.Selection, 0, len(raw))
	for _, r := range raw {
		idPart, qtyPart, hasQty := strings.Cut(strings.ToLower(r), "x")
		id, err := plan.ParseID(idPart)
		if err != nil {
			return nil, err
		}
		sel := order.Selection{PlanID: id}
		if hasQty {
			qty, err := strconv.Atoi(strings.TrimSpace(qtyPart))
			if err != nil || qty < 1 {
				return nil, fmt.Errorf("invalid quantity in %q", r)
			}
			sel.Quantity = qty
		}
		out = append(out, sel)
	}
	return out, nil
}

func printOrder(w io.Writer, o order.Order) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLAN\tQTY\tUNIT PRICE\tTOTAL")
	for _, l := range o.Lines {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", l.PlanName, l.Quantity, money.Format(l.UnitPrice), money.Format(l.LineTotal))
	}
	fmt.Fprintf(tw, "\t\tdiscount\t%s\n", o.DiscountType)
	fmt.Fprintf(tw, "\t\tamount due\t%s\n", money.Format(o.AmountPaid()))
	return tw.Flush()
}

func printSettlement(w io.Writer, o order.Order, r settlement.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nPLAN\tRECEIVED\tCHANGE")
	for _, sl := range r.Lines {
		name := sl.PlanID.String()
		if l, ok := o.Line(sl.PlanID); ok {
			name = l.PlanName
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, money.Format(sl.AmountReceived), money.Format(sl.Change))
	}
	fmt.Fprintf(tw, "%s\treceived %s\tchange %s\n", r.Method, money.Format(r.TotalReceived), money.Format(r.ChangeGiven))
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
