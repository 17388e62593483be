package cmd

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kilianp07/marstek/config"
	"github.com/kilianp07/marstek/core/battery"
	"github.com/kilianp07/marstek/core/modbus"
	"github.com/kilianp07/marstek/infra/logger"
)

var probeCmd = &cobra.Command{
	Use:   "probe [unit...]",
	Short: "Read the measurements of the configured batteries once",
	RunE:  runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	units, err := selectUnits(cfg, args)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "UNIT\tPOWER W\tSOC %\tENERGY kWh\tAC POWER W\tERROR")
	for _, u := range units {
		probeUnit(w, u)
	}
	return w.Flush()
}

func probeUnit(w io.Writer, uc config.UnitConfig) {
	cli, err := modbus.NewTCPClient(uc.ClientConfig(), logger.New("modbus"))
	if err != nil {
		fmt.Fprintf(w, "%s\t-\t-\t-\t-\t%v\n", uc.Name, err)
		return
	}
	defer cli.Close()
	u, err := battery.NewUnit(uc.Name, cli, logger.New("battery"))
	if err != nil {
		fmt.Fprintf(w, "%s\t-\t-\t-\t-\t%v\n", uc.Name, err)
		return
	}
	rerr := u.Refresh()
	s := u.Snapshot()
	msg := ""
	if rerr != nil {
		msg = rerr.Error()
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", s.Name,
		format(s.PowerW, 0), format(s.SoC, 1), format(s.EnergyKWh, 3), format(s.ACPowerW, 0), msg)
}

func format(v float64, prec int) string {
	if math.IsNaN(v) {
		return "?"
	}
	return fmt.Sprintf("%.*f", prec, v)
}

// selectUnits returns the configured units matching names, or all of them.
func selectUnits(cfg *config.Config, names []string) ([]config.UnitConfig, error) {
	if len(names) == 0 {
		return cfg.Modbus.Units, nil
	}
	byName := make(map[string]config.UnitConfig, len(cfg.Modbus.Units))
	for _, u := range cfg.Modbus.Units {
		byName[u.Name] = u
	}
	out := make([]config.UnitConfig, 0, len(names))
	for _, n := range names {
		u, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown unit %q", n)
		}
		out = append(out, u)
	}
	return out, nil
}
