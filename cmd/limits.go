package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/marstek/config"
	"github.com/kilianp07/marstek/core/battery"
	"github.com/kilianp07/marstek/core/modbus"
	"github.com/kilianp07/marstek/infra/logger"
)

var (
	limitCharge    int
	limitDischarge int
)

var limitsCmd = &cobra.Command{
	Use:   "limits [unit...]",
	Short: "Write the charge and discharge power ceilings of the batteries",
	RunE:  runLimits,
}

func init() {
	limitsCmd.Flags().IntVar(&limitCharge, "charge", -1, "charge power ceiling in W")
	limitsCmd.Flags().IntVar(&limitDischarge, "discharge", -1, "discharge power ceiling in W")
	rootCmd.AddCommand(limitsCmd)
}

func runLimits(cmd *cobra.Command, args []string) error {
	if limitCharge < 0 && limitDischarge < 0 {
		return errors.New("set --charge and/or --discharge")
	}
	if limitCharge > 65535 || limitDischarge > 65535 {
		return errors.New("ceilings must fit in 16 bits")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	units, err := selectUnits(cfg, args)
	if err != nil {
		return err
	}
	var errs error
	for _, uc := range units {
		if err := writeLimits(uc); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: limits written\n", uc.Name)
	}
	return errs
}

func writeLimits(uc config.UnitConfig) error {
	cli, err := modbus.NewTCPClient(uc.ClientConfig(), logger.New("modbus"))
	if err != nil {
		return err
	}
	defer cli.Close()
	u, err := battery.NewUnit(uc.Name, cli, logger.New("battery"))
	if err != nil {
		return err
	}
	if limitCharge >= 0 {
		if err := u.SetChargeLimit(uint16(limitCharge)); err != nil {
			return err
		}
	}
	if limitDischarge >= 0 {
		if err := u.SetDischargeLimit(uint16(limitDischarge)); err != nil {
			return err
		}
	}
	return nil
}
