package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"codeberg.org/wrenhale/gpuctl/client"
	"codeberg.org/wrenhale/gpuctl/internal/errors"
	"codeberg.org/wrenhale/gpuctl/schema"
)

var (
	flagDeviceID string
	flagState    bool
	flagSet      string
	flagClear    bool
	flagAuto     string
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the daemon is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Ping(); err != nil {
			return err
		}

		fmt.Println("pong")

		return nil
	},
}

var listGpusCmd = &cobra.Command{
	Use:   "list-gpus",
	Short: "List the GPUs managed by the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		entries, err := c.ListDevices()
		if err != nil {
			return err
		}

		for _, entry := range entries {
			fmt.Printf("%s (%s)\n", entry.ID, entry)
		}

		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show detailed information for one or all GPUs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ids, err := targetDevices(c)
		if err != nil {
			return err
		}

		for i, id := range ids {
			if i > 0 {
				fmt.Println()
			}
			if err := printDeviceInfo(c, id); err != nil {
				return err
			}
		}

		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show current sensor readings and clock speeds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := dialDaemon(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ids, err := targetDevices(c)
		if err != nil {
			return err
		}

		for _, id := range ids {
			stats, err := c.DeviceStats(id)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(stats, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
		}

		return nil
	},
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List, select and auto-switch settings profiles",
	Args:  cobra.NoArgs,
	RunE:  runProfiles,
}

func init() {
	infoCmd.Flags().StringVar(&flagDeviceID, "id", "", "limit output to one GPU")
	statsCmd.Flags().StringVar(&flagDeviceID, "id", "", "limit output to one GPU")
	profilesCmd.Flags().BoolVar(&flagState, "state", false, "include the process watcher state")
	profilesCmd.Flags().StringVar(&flagSet, "set", "", "switch to the named profile")
	profilesCmd.Flags().BoolVar(&flagClear, "clear", false, "clear the profile selection")
	profilesCmd.Flags().StringVar(&flagAuto, "auto", "", "enable or disable automatic switching (on/off)")

	rootCmd.AddCommand(pingCmd, listGpusCmd, infoCmd, statsCmd, profilesCmd)
}

// dialDaemon connects to the socket named by the configuration or
// the --socket flag.
func dialDaemon(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	initLogger(cfg)

	return client.Dial(cfg.Socket)
}

// targetDevices resolves the --id flag to a device list, defaulting
// to every GPU the daemon manages.
func targetDevices(c *client.Client) ([]string, error) {
	if flagDeviceID != "" {
		return []string{flagDeviceID}, nil
	}

	entries, err := c.ListDevices()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ID)
	}

	return ids, nil
}

func printDeviceInfo(c *client.Client, id string) error {
	info, err := c.DeviceInfo(id)
	if err != nil {
		return err
	}

	// Stats fill in the VRAM row; a daemon that cannot read them
	// still has static information worth printing.
	var stats *schema.DeviceStats
	if s, err := c.DeviceStats(id); err == nil {
		stats = &s
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	for _, element := range info.InfoElements(stats) {
		if element.Value == nil {
			continue
		}
		fmt.Fprintf(w, "%s:\t%s\n", element.Label, *element.Value)
	}

	return w.Flush()
}

func runProfiles(cmd *cobra.Command, _ []string) error {
	errFactory := errors.New()

	if flagSet != "" && flagClear {
		return errFactory.WithMessage(errors.ErrInvalidArgument, "--set and --clear are mutually exclusive")
	}

	c, err := dialDaemon(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	if flagAuto != "" {
		enabled, err := parseOnOff(flagAuto)
		if err != nil {
			return err
		}
		if err := c.SetAutoSwitch(enabled); err != nil {
			return err
		}
	}

	switch {
	case flagSet != "":
		name := flagSet
		if err := c.SetProfile(&name); err != nil {
			return err
		}
	case flagClear:
		if err := c.SetProfile(nil); err != nil {
			return err
		}
	}

	info, err := c.ListProfiles(flagState)
	if err != nil {
		return err
	}

	return printProfiles(info)
}

func printProfiles(info schema.ProfilesInfo) error {
	fmt.Printf("Auto switching: %s\n", onOff(info.AutoSwitch))

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	for _, entry := range info.Profiles {
		marker := " "
		if info.CurrentProfile != nil && *info.CurrentProfile == entry.Name {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s\t%s\n", marker, entry.Name, ruleSummary(entry.Rule))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if info.WatcherState != nil {
		fmt.Printf("Watched processes: %d\n", len(info.WatcherState.ProcessList))
		fmt.Printf("Gamemode games: %d\n", len(info.WatcherState.GamemodeGames))
	}

	return nil
}

// ruleSummary renders an activation rule on one line.
func ruleSummary(rule *schema.ProfileRule) string {
	if rule == nil {
		return "manual"
	}

	switch rule.Kind {
	case schema.RuleProcess:
		return processSummary("process", rule.Filter)
	case schema.RuleGamemode:
		return processSummary("gamemode", rule.Filter)
	default:
		return string(rule.Kind)
	}
}

func processSummary(kind string, filter *schema.ProcessProfileRule) string {
	if filter == nil {
		return kind
	}

	summary := fmt.Sprintf("%s %q", kind, filter.Name)
	if filter.Args != nil {
		summary += fmt.Sprintf(" (args contain %q)", *filter.Args)
	}

	return summary
}

func parseOnOff(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "on", "true":
		return true, nil
	case "off", "false":
		return false, nil
	default:
		return false, errors.New().WithMessage(errors.ErrInvalidArgument,
			fmt.Sprintf("expected on or off, got %q", value))
	}
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}

	return "off"
}
