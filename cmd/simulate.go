package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/marstek/infra/logger"
	"github.com/kilianp07/marstek/simulator"
)

var (
	simAddr     string
	simCount    int
	simSoC      float64
	simCapacity float64
	simTick     time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Serve simulated batteries over Modbus TCP",
	RunE:  runSimulate,
}

func init() {
	simulateCmd.Flags().StringVar(&simAddr, "listen", "127.0.0.1:5020", "address of the first battery; further ones use the next ports")
	simulateCmd.Flags().IntVar(&simCount, "count", 1, "number of batteries")
	simulateCmd.Flags().Float64Var(&simSoC, "soc", 50, "initial state of charge in percent")
	simulateCmd.Flags().Float64Var(&simCapacity, "capacity", 5.12, "capacity in kWh")
	simulateCmd.Flags().DurationVar(&simTick, "tick", time.Second, "model integration step")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if simCount < 1 {
		return fmt.Errorf("count must be positive")
	}
	host, portStr, err := net.SplitHostPort(simAddr)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("port: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := logger.New("simulate")

	for i := 0; i < simCount; i++ {
		bat := simulator.NewBattery(simSoC)
		bat.CapacityKWh = simCapacity
		sim := simulator.New(fmt.Sprintf("battery %d", i+1), bat)
		addr := net.JoinHostPort(host, strconv.Itoa(port+i))
		if err := sim.Listen(addr); err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		defer sim.Close()
		go sim.Run(ctx, simTick)
	}
	log.Infof("%d simulated batteries running, press Ctrl+C to stop", simCount)
	<-ctx.Done()
	return nil
}
