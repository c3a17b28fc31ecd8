package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tqchen/yarn-ec2/internal/catalog"
	"github.com/tqchen/yarn-ec2/internal/config"
	"github.com/tqchen/yarn-ec2/internal/pricehistory"
	"github.com/tqchen/yarn-ec2/internal/strategy"
	"github.com/tqchen/yarn-ec2/pkg/types"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the bids the controller would place for a shortfall, without calling AWS",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		class := lo.Must(flags.GetString(config.InstanceClass))
		shortfall := lo.Must(flags.GetInt("shortfall"))
		if shortfall <= 0 {
			shortfall = lo.Must(flags.GetInt(config.DesiredCount))
		}
		if class == "" {
			return fmt.Errorf("--%s is required", config.InstanceClass)
		}

		registry, err := catalog.NewRegistry(catalog.NewLoader(lo.Must(flags.GetString(config.CatalogPath))))
		if err != nil {
			return err
		}

		const zone = "offline"
		prices := pricehistory.NewStore()
		if flags.Changed("spot-price") {
			p := types.PricePoint{
				InstanceClass:    class,
				AvailabilityZone: zone,
				Price:            lo.Must(flags.GetFloat64("spot-price")),
				ObservedAt:       time.Now(),
			}
			prices.Record(p.Key(), p)
		}

		logger := logrus.New()
		logger.SetOutput(cmd.ErrOrStderr())

		planner, err := strategy.NewPlanner(strategy.Config{
			MinRatio: lo.Must(flags.GetFloat64(config.MinRatio)),
			MaxRatio: lo.Must(flags.GetFloat64(config.MaxRatio)),
		}, registry, prices, logrus.NewEntry(logger))
		if err != nil {
			return err
		}

		band, err := planner.Band(class, zone)
		if err != nil {
			return err
		}
		actions, err := planner.Plan(shortfall, class, zone)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "instance class %s, list price %.4f, band [%.4f, %.4f]", class, band.ListPrice, band.Min, band.Max)
		if band.Raised {
			fmt.Fprint(out, " (floor raised above spot price)")
		}
		fmt.Fprintln(out)

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "#\tACTION")
		for i, action := range actions {
			fmt.Fprintf(w, "%d\t%s\n", i+1, action)
		}
		return w.Flush()
	},
}

func init() {
	planCmd.Flags().Int("shortfall", 0, "number of missing workers (defaults to --desired-count)")
	planCmd.Flags().Float64("spot-price", 0, "latest spot price; the band is not raised when unset")
}
