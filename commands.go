package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mollie-ideal/config"
	"mollie-ideal/handlers"
	"mollie-ideal/logging"
	"mollie-ideal/models"
	"mollie-ideal/money"
	"mollie-ideal/store"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			repo, err := openRepository(cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repo.Migrate(); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Printf("Schema migrated (%s)\n", cfg.DBDriver)
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <transaction-id>",
		Short: "Query the gateway and apply the status of a stuck payment",
		Long: `Runs the same reconciliation as the report webhook for one transaction.
Use it when the gateway never delivered the report or every delivery failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := logging.InitLogger(cfg.ServiceName, ""); err != nil {
				return err
			}
			defer logging.Sync()

			a, err := newApp(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			disposition, err := a.reconciler.ReconcileReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printReconcileSummary(cmd.Context(), cmd.OutOrStdout(), a.repo, args[0], disposition)
		},
	}
}

// printReconcileSummary writes the disposition followed by the order's
// payment transactions and state history
func printReconcileSummary(ctx context.Context, w io.Writer, repo *store.Repository, transactionID string, disposition models.Disposition) error {
	record, err := repo.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return err
	}
	order, err := repo.LoadByOrderID(ctx, record.OrderID)
	if err != nil {
		return err
	}
	txns, err := repo.PaymentTransactions(ctx, record.OrderID)
	if err != nil {
		return err
	}
	history, err := repo.History(ctx, record.OrderID)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s: %s\n", transactionID, disposition)
	fmt.Fprintf(w, "order %s %s/%s total %s %s (%d cents)\n",
		order.IncrementID, order.State, order.Status, order.GrandTotal.StringFixed(2), order.Currency, money.Cents(order.GrandTotal))
	for _, txn := range txns {
		state := "open"
		if txn.Closed {
			state = "closed"
		}
		fmt.Fprintf(w, "  %-13s %s %s\n", txn.Type, txn.TransactionID, state)
	}
	for _, h := range history {
		fmt.Fprintf(w, "  %s/%s -> %s/%s: %s\n", h.FromState, h.FromStatus, h.ToState, h.ToStatus, h.Reason)
	}
	return nil
}

func orderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Manage orders awaiting payment",
	}

	var (
		customer string
		total    string
		currency string
		country  string
		items    []string
	)
	create := &cobra.Command{
		Use:   "create <order-id>",
		Short: "Create an order pending payment",
		Long: `Creates an order in state pending_payment. The total is read in the
configured AMOUNT_LOCALE, so "1.234,56" works with the comma locale.

Example:
  mollie-ideal order create 100000001 --customer cust-1 --total 19,99 --item SKU-1=2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			loc, err := money.LocaleByName(cfg.IDEAL.AmountLocale)
			if err != nil {
				return err
			}
			cents, err := money.ParseCents(total, loc)
			if err != nil {
				return err
			}
			grandTotal := money.FromCents(cents)

			order := &models.Order{
				IncrementID:    args[0],
				CustomerID:     customer,
				GrandTotal:     grandTotal,
				Currency:       strings.ToUpper(currency),
				BillingCountry: strings.ToUpper(country),
				State:          models.StatePendingPayment,
				Status:         models.StatusPendingPayment,
			}
			for _, item := range items {
				line, err := parseItem(item)
				if err != nil {
					return err
				}
				order.Items = append(order.Items, line)
			}
			if !models.IDEAL.Eligible(order.BillingCountry, order.Currency) {
				logging.Warn("Order is not eligible for iDEAL",
					zap.String("order_id", order.IncrementID),
					zap.String("country", order.BillingCountry),
					zap.String("currency", order.Currency),
				)
			}

			repo, err := openRepository(cfg)
			if err != nil {
				return err
			}
			defer repo.Close()
			if err := repo.CreateOrder(context.Background(), order); err != nil {
				return fmt.Errorf("create order %s: %w", order.IncrementID, err)
			}
			fmt.Printf("Order %s created: %s %s (%d cents)\n",
				order.IncrementID, order.GrandTotal.StringFixed(2), order.Currency, cents)
			return nil
		},
	}
	create.Flags().StringVar(&customer, "customer", "", "customer id owning the order")
	create.Flags().StringVar(&total, "total", "", "grand total in the configured amount locale")
	create.Flags().StringVar(&currency, "currency", "EUR", "order currency")
	create.Flags().StringVar(&country, "country", "NL", "billing country")
	create.Flags().StringArrayVar(&items, "item", nil, "order line as SKU=QTY, repeatable")
	_ = create.MarkFlagRequired("customer")
	_ = create.MarkFlagRequired("total")

	cmd.AddCommand(create)
	return cmd
}

func parseItem(s string) (models.OrderItem, error) {
	sku, qty, ok := strings.Cut(s, "=")
	if !ok {
		return models.OrderItem{SKU: s, QtyOrdered: 1}, nil
	}
	n, err := strconv.Atoi(qty)
	if err != nil || n <= 0 {
		return models.OrderItem{}, fmt.Errorf("invalid quantity in item %q", s)
	}
	return models.OrderItem{SKU: sku, QtyOrdered: n}, nil
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <customer-id>",
		Short: "Print a customer session token signed with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			token, err := handlers.SignCustomerToken(cfg.JWTSecret, args[0])
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}
