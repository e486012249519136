package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/socktree/socktree/settings"
)

func init() {
	rootCmd.PersistentFlags().StringVar(&confFilePath, "conf", "", "path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "one of debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logTimeFlag, "log-time", false, "include timestamps in log lines")

	rootCmd.Flags().StringSliceVarP(&portsFlag, "port", "p", nil, "port or inclusive range, e.g. 80 or 8000-9000")
	rootCmd.Flags().StringSliceVarP(&addrsFlag, "address", "a", nil, "address or CIDR prefix")
	rootCmd.Flags().StringSliceVarP(&ifacesFlag, "iface", "i", nil, "interface name")
	rootCmd.Flags().StringSliceVar(&protosFlag, "proto", nil, "protocol: tcp, udp, udplite, raw, sctp or icmp")
	rootCmd.Flags().IntSliceVarP(&pidsFlag, "pid", "P", nil, "process id")
	rootCmd.Flags().StringSliceVarP(&cmdsFlag, "cmd", "c", nil, "command name substring")
	rootCmd.Flags().StringSliceVarP(&usersFlag, "user", "u", nil, "user name or id")
	rootCmd.Flags().BoolVarP(&selfFlag, "self", "s", false, "only the invoking user's sockets")
	rootCmd.Flags().StringVar(&colorFlag, "color", "", "color mode: auto, always or never")

	// Disable completion please!
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Add the different sub-commands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(interfacesCmd)
	rootCmd.AddCommand(routesCmd)
}

var (
	confFilePath string
	logLevelFlag string
	logTimeFlag  bool

	portsFlag  []string
	addrsFlag  []string
	ifacesFlag []string
	protosFlag []string
	pidsFlag   []int
	cmdsFlag   []string
	usersFlag  []string
	selfFlag   bool
	colorFlag  string

	builtCommit = "dev"

	rootCmd = &cobra.Command{
		Use:           "socktree",
		Short:         "Show listening sockets as a tree of owning processes.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := setup()
			if err != nil {
				return err
			}
			return run(conf)
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Get the built version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("built commit: %s\n", builtCommit)
		},
	}
)

// setup loads the configuration and installs the default logger. Flags
// win over the configuration file.
func setup() (*settings.Config, error) {
	conf, err := settings.ReadConf(confFilePath)
	if err != nil {
		return nil, err
	}
	if logLevelFlag != "" {
		conf.LogLevel = logLevelFlag
	}
	if colorFlag != "" {
		conf.Color = colorFlag
	}

	level, ok := logLevelMap[conf.LogLevel]
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", conf.LogLevel)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: logReplacements,
	}))
	slog.SetDefault(logger)

	slog.Debug("loaded configuration", "conf", conf)

	return conf, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
