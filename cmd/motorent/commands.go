package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"motorent/internal/availability"
	"motorent/internal/history"
	"motorent/internal/models"
	"motorent/internal/pricing"
	"motorent/internal/receipts"
	"motorent/internal/rentalapi"
)

type rangeFlags struct {
	startDate, endDate string
	startTime, endTime string
}

func (f *rangeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.startDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.endDate, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.startTime, "start-time", "", "pickup time (HH:MM)")
	cmd.Flags().StringVar(&f.endTime, "end-time", "", "return time (HH:MM)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
}

func (f *rangeFlags) dateRange() (models.DateRange, error) {
	r := models.DateRange{StartDate: f.startDate, EndDate: f.endDate, StartTime: f.startTime, EndTime: f.endTime}
	return r, r.Validate()
}

func QuoteCmd() *cobra.Command {
	var (
		rng       rangeFlags
		rate      int64
		unitID    int64
		raincoats int
		helmets   int
	)
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a rental; --unit asks the server, --rate prices locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := rng.dateRange()
			if err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if unitID > 0 {
				p, err := a.client.CalculatePrice(cmd.Context(), rentalapi.PriceRequest{
					UnitID:        unitID,
					StartDate:     r.StartDate,
					EndDate:       r.EndDate,
					StartTime:     r.StartTime,
					EndTime:       r.EndTime,
					RaincoatCount: raincoats,
					HelmetCount:   helmets,
				})
				if err == nil {
					printBreakdown(os.Stdout, *p)
					return nil
				}
				if rate <= 0 {
					return err
				}
				a.logger.Warn().Err(err).Msg("server quote failed, pricing locally")
			}

			if rate <= 0 {
				return fmt.Errorf("--rate or --unit is required")
			}
			p, err := a.calc.Compute(pricing.Input{DailyRate: rate, Range: r, Raincoats: raincoats, Helmets: helmets})
			if err != nil {
				return err
			}
			printBreakdown(os.Stdout, p)
			return nil
		},
	}
	rng.register(cmd)
	cmd.Flags().Int64Var(&rate, "rate", 0, "daily rate for local pricing")
	cmd.Flags().Int64Var(&unitID, "unit", 0, "unit id for a server quote")
	cmd.Flags().IntVar(&raincoats, "raincoats", 0, "number of raincoats")
	cmd.Flags().IntVar(&helmets, "helmets", 0, "number of extra helmets")
	return cmd
}

func AvailabilityCmd() *cobra.Command {
	var (
		rng     rangeFlags
		typ     string
		refresh bool
	)
	cmd := &cobra.Command{
		Use:   "availability",
		Short: "List motorcycles available for a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := rng.dateRange()
			if err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			typeID, err := a.resolveType(cmd.Context(), typ)
			if err != nil {
				return err
			}
			q := availability.QueryFor(r, typeID)

			var units []models.RentalUnit
			if refresh {
				units, err = a.avail.Refresh(cmd.Context(), q)
			} else {
				units, err = a.avail.Units(cmd.Context(), q)
			}
			if err != nil {
				return err
			}
			printUnits(os.Stdout, units, r, a.calc)
			return nil
		},
	}
	rng.register(cmd)
	cmd.Flags().StringVar(&typ, "type", "", "motorcycle type id or slug")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the cache")
	return cmd
}

func TypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List motorcycle types",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			types, err := a.client.ListTypes(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSLUG\tBRAND\tMODEL\tCC")
			for _, t := range types {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", t.ID, t.Slug, t.Brand, t.Model, t.Displacement)
			}
			return w.Flush()
		},
	}
}

func HistoryCmd() *cobra.Command {
	var (
		phone  string
		export string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the bookings made with a phone number",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			bookings, err := history.NewService(a.client, a.logger).Lookup(cmd.Context(), phone)
			if err != nil {
				return err
			}

			if export != "" {
				if err := history.ExportFile(export, bookings); err != nil {
					return err
				}
				fmt.Printf("Exported %d bookings to %s\n", len(bookings), export)
				return nil
			}

			if len(bookings) == 0 {
				fmt.Println("No bookings found.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUNIT\tFROM\tTO\tTOTAL\tSTATUS")
			for _, b := range bookings {
				unit := fmt.Sprint(b.UnitID)
				if b.Unit != nil {
					unit = b.Unit.DisplayName()
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n", b.ID, unit, b.StartDate, b.EndDate, b.TotalPrice, b.Status)
			}
			sum := history.Summarize(bookings)
			fmt.Fprintf(w, "\t\t\t\t%d\t%d bookings\n", sum.TotalSpent, sum.Bookings)
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&phone, "phone", "", "customer phone number")
	cmd.Flags().StringVar(&export, "export", "", "write an .xlsx file instead of printing")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

func ReceiptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipts",
		Short: "Inspect and maintain the local booking receipts journal",
	}

	var (
		status string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded create-booking attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(func(a *app, j *receipts.Journal) error {
				rs, err := j.List(cmd.Context(), receipts.Status(status), limit)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "KEY\tSTATUS\tBOOKING\tUPDATED\tREASON")
				for _, r := range rs {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", r.Key, r.Status, r.BookingID, r.UpdatedAt.Format(time.RFC3339), r.Reason)
				}
				return w.Flush()
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "pending, confirmed or failed")
	list.Flags().IntVar(&limit, "limit", 50, "maximum rows")

	backup := &cobra.Command{
		Use:   "backup",
		Short: "Back up the journal and delete expired backups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(func(a *app, j *receipts.Journal) error {
				path, err := j.Backup(cmd.Context(), a.cfg.Receipts.BackupPath)
				if err != nil {
					return err
				}
				removed := j.CleanupBackups(a.cfg.Receipts.BackupPath, a.cfg.Receipts.RetentionDays)
				fmt.Printf("Backup written to %s (%d expired removed)\n", path, removed)
				return nil
			})
		},
	}

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished receipts older than receipts.prune_after_days",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(func(a *app, j *receipts.Journal) error {
				n, err := j.Prune(cmd.Context(), a.cfg.ReceiptsPruneAfter())
				if err != nil {
					return err
				}
				fmt.Printf("Pruned %d receipts\n", n)
				return nil
			})
		},
	}

	cmd.AddCommand(list, backup, prune)
	return cmd
}

func withJournal(fn func(a *app, j *receipts.Journal) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	j, err := a.openJournal()
	if err != nil {
		return err
	}
	return fn(a, j)
}

func printBreakdown(w io.Writer, p models.PriceBreakdown) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "Base (%d days)\t%d\t\n", p.FullDays, p.BasePrice)
	if p.HourlyPenalty > 0 {
		fmt.Fprintf(tw, "Overdue %d h\t%d\t\n", p.ExtraHours, p.HourlyPenalty)
	}
	if p.ExtraDayCharge > 0 {
		fmt.Fprintf(tw, "Extra day (%d h)\t%d\t\n", p.ExtraHours, p.ExtraDayCharge)
	}
	if p.RaincoatCost > 0 {
		fmt.Fprintf(tw, "Raincoats\t%d\t\n", p.RaincoatCost)
	}
	if p.HelmetCost > 0 {
		fmt.Fprintf(tw, "Helmets\t%d\t\n", p.HelmetCost)
	}
	fmt.Fprintf(tw, "Total (%s)\t%d\t\n", p.Source, p.Total)
	_ = tw.Flush()
}

func printUnits(w io.Writer, units []models.RentalUnit, r models.DateRange, calc *pricing.Calculator) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Available %s\n", r)
	fmt.Fprintln(tw, "ID\tMOTORCYCLE\tCOLOR\tDAILY\tTOTAL")
	for i := range units {
		u := &units[i]
		if !u.IsAvailable() {
			continue
		}
		total := "-"
		if p, err := calc.Compute(pricing.Input{DailyRate: u.DailyRate, Range: r}); err == nil {
			total = fmt.Sprint(p.Total)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", u.ID, u.DisplayName(), u.Color, u.DailyRate, total)
	}
	_ = tw.Flush()
}

// findUnit returns unit id from the availability list for r.
func findUnit(ctx context.Context, a *app, unitID int64, r models.DateRange) (models.RentalUnit, error) {
	units, err := a.avail.Units(ctx, availability.QueryFor(r, 0))
	if err != nil {
		return models.RentalUnit{}, err
	}
	for _, u := range units {
		if u.ID == unitID {
			return u, nil
		}
	}
	return models.RentalUnit{}, fmt.Errorf("motorcycle %d is not offered for %s", unitID, r)
}
