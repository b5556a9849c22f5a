package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/go-ble/ble"
	"github.com/spf13/cobra"

	"github.com/srg/gattwatch/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

This command will scan for BLE devices and display information about
discovered devices, including their names, addresses, RSSI values, and
advertised services.`,
	RunE: runScan,
}

var (
	scanDuration    time.Duration
	scanFormat      string
	scanServices    []string
	scanAllowList   []string
	scanBlockList   []string
	scanNoDuplicate bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Filter by service UUIDs")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	scanCmd.Flags().BoolVar(&scanNoDuplicate, "no-duplicates", true, "Filter duplicate advertisements")
	scanCmd.Flags().BoolP("verbose", "", false, "Enable debug logging")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}

	logger, err := configureLogger(cmd, "verbose", "")
	if err != nil {
		return err
	}

	// Validate service UUID filters up front
	serviceUUIDs := make([]ble.UUID, 0, len(scanServices))
	for _, s := range scanServices {
		u, err := ble.Parse(s)
		if err != nil {
			return fmt.Errorf("invalid service UUID %q: %w", s, err)
		}
		serviceUUIDs = append(serviceUUIDs, u)
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	s, err := scanner.NewScanner(logger)
	if err != nil {
		return fmt.Errorf("failed to create BLE scanner: %w", err)
	}

	opts := &scanner.ScanOptions{
		Duration:        scanDuration,
		DuplicateFilter: scanNoDuplicate,
		ServiceUUIDs:    serviceUUIDs,
		AllowList:       scanAllowList,
		BlockList:       scanBlockList,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := NewProgressPrinter("Scanning for BLE devices", scanDuration)
	progress.Start()

	devices, err := s.Scan(ctx, opts)
	progress.Stop()
	if err != nil {
		return err
	}

	if scanFormat == "json" {
		return printDevicesJSON(devices)
	}
	return printDevicesTable(devices)
}

func sortedDevices(devices map[string]*scanner.FoundDevice) []*scanner.FoundDevice {
	list := make([]*scanner.FoundDevice, 0, len(devices))
	for _, d := range devices {
		list = append(list, d)
	}
	// Named devices first, then by address for a stable listing
	sort.Slice(list, func(i, j int) bool {
		ni, nj := list[i].Name(), list[j].Name()
		if (ni == "") != (nj == "") {
			return ni != ""
		}
		if ni != nj {
			return ni < nj
		}
		return list[i].Address() < list[j].Address()
	})
	return list
}

func printDevicesTable(devices map[string]*scanner.FoundDevice) error {
	if len(devices) == 0 {
		fmt.Println("No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tCONNECTABLE\tSERVICES\tLAST SEEN")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, d := range sortedDevices(devices) {
		name := d.Name()
		if name == "" {
			name = "(unknown)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		services := strings.Join(d.Services(), ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}

		lastSeen := time.Since(d.LastSeen()).Truncate(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\t%s ago\n",
			name, d.Address(), d.RSSI(), d.Connectable(), services, lastSeen)
	}

	return w.Flush()
}

type deviceJSON struct {
	Name        string   `json:"name,omitempty"`
	Address     string   `json:"address"`
	RSSI        int      `json:"rssi"`
	Connectable bool     `json:"connectable"`
	Services    []string `json:"services,omitempty"`
	LastSeen    string   `json:"last_seen"`
}

func printDevicesJSON(devices map[string]*scanner.FoundDevice) error {
	list := make([]deviceJSON, 0, len(devices))
	for _, d := range sortedDevices(devices) {
		list = append(list, deviceJSON{
			Name:        d.Name(),
			Address:     d.Address(),
			RSSI:        d.RSSI(),
			Connectable: d.Connectable(),
			Services:    d.Services(),
			LastSeen:    d.LastSeen().Format(time.RFC3339),
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(list)
}
