package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"motorent/internal/booking"
	"motorent/internal/domain"
	"motorent/internal/models"
)

func BookCmd() *cobra.Command {
	var (
		customer  models.Customer
		rng       rangeFlags
		unitID    int64
		raincoats int
		helmets   int
		yes       bool
	)
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Book a motorcycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			journal, err := a.openJournal()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			flow := booking.NewFlow(ctx, booking.Deps{
				Availability: a.avail,
				Prices:       a.client,
				Calculator:   a.calc,
				Bookings:     a.client,
				Receipts:     journal,
			}, a.logger)
			defer flow.Close()

			step := func(err error) error {
				if err == nil {
					return nil
				}
				return fmt.Errorf("%s: %s", booking.StateTitles[flow.State()], domain.UserMessage(err))
			}

			if err := step(flow.SetCustomer(customer)); err != nil {
				return err
			}
			if err := step(flow.Next(ctx)); err != nil {
				return err
			}

			r, err := rng.dateRange()
			if err != nil {
				return err
			}
			unit, err := findUnit(ctx, a, unitID, r)
			if err != nil {
				return err
			}
			if err := step(flow.SelectUnit(unit)); err != nil {
				return err
			}
			if err := step(flow.SetRange(r)); err != nil {
				return err
			}
			if err := step(flow.SetAddOns(models.AddOns{Raincoats: raincoats, Helmets: helmets})); err != nil {
				return err
			}
			if err := step(flow.Next(ctx)); err != nil {
				return err
			}

			draft := flow.Draft()
			fmt.Printf("%s\n%s, %s\n", unit.DisplayName(), draft.Customer.Name, draft.Customer.Phone)
			fmt.Println(r)
			if draft.Price != nil {
				printBreakdown(os.Stdout, *draft.Price)
			}

			if !yes && !confirm("Submit booking?") {
				fmt.Println("Cancelled.")
				return nil
			}

			b, err := flow.Submit(ctx)
			if err != nil {
				if domain.IsRetryable(err) {
					return fmt.Errorf("%s (run the same command again to retry safely)", domain.UserMessage(err))
				}
				return step(err)
			}
			fmt.Printf("Booking #%d created, status %s\n", b.ID, b.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&customer.Name, "name", "", "customer name")
	cmd.Flags().StringVar(&customer.Phone, "phone", "", "customer phone")
	cmd.Flags().StringVar(&customer.Address, "address", "", "customer address")
	cmd.Flags().StringVar(&customer.IDNumber, "id-number", "", "customer ID document number")
	cmd.Flags().StringVar(&customer.Email, "email", "", "customer email")
	rng.register(cmd)
	cmd.Flags().Int64Var(&unitID, "unit", 0, "motorcycle unit id")
	cmd.Flags().IntVar(&raincoats, "raincoats", 0, "number of raincoats")
	cmd.Flags().IntVar(&helmets, "helmets", 0, "number of extra helmets")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "submit without asking")
	_ = cmd.MarkFlagRequired("unit")
	return cmd
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
