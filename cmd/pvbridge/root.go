package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/pvbridge/internal/bridge"
	"github.com/danmuck/pvbridge/internal/logging"
	"github.com/danmuck/pvbridge/internal/protocol"
	"github.com/danmuck/pvbridge/internal/protocol/schema"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "pvbridge",
		Short: "Bridge process variables to a framed binary peer",
		Long: `pvbridge claims a fixed set of process variables from its host, connects
to one peer, and moves every variable change across a framed little-endian
protocol in both directions.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.ConfigureRuntime()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")

	root.AddCommand(newRunCmd(&configPath), newConfigCmd(&configPath), newVocabCmd())
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	var (
		role    string
		address string
		admin   string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bridge with the built-in soft host",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := bridge.DefaultServiceConfig()
			if path := strings.TrimSpace(*configPath); path != "" {
				loaded, err := loadServiceConfig(path)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if cmd.Flags().Changed("role") {
				cfg.Session.Role = sessionRole(role)
			}
			if cmd.Flags().Changed("address") {
				cfg.Session.Address = address
			}
			if cmd.Flags().Changed("admin") {
				cfg.AdminListenAddr = admin
			}
			return bridge.NewService(cfg).Run()
		},
	}
	cmd.Flags().StringVar(&role, "role", "client", "connection role: client or server")
	cmd.Flags().StringVar(&address, "address", "127.0.0.1:4884", "peer address to dial or listen on")
	cmd.Flags().StringVar(&admin, "admin", "", "admin HTTP listen address (disabled when empty)")
	return cmd
}

func newVocabCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vocab",
		Short: "Print the wire vocabularies and their size bounds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printVocab(cmd.OutOrStdout())
		},
	}
}

func printVocab(w io.Writer) error {
	for _, vocab := range []*protocol.Vocabulary{schema.Inbound, schema.Outbound} {
		if _, err := fmt.Fprintf(w, "%s (max %d bytes)\n", vocab.Name(), vocab.MaxMessageSize()); err != nil {
			return err
		}
		for _, v := range vocab.Variants() {
			shape := v.Shape.String()
			if v.Shape.Bounded() {
				shape = fmt.Sprintf("%s[%d]", strings.TrimSuffix(shape, "[]"), v.MaxLen)
			}
			if _, err := fmt.Fprintf(w, "  %3d  %-12s %-8s %d bytes\n", v.Tag, v.Name, shape, v.MaxSize()); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintf(w, "connection max_message_size %d\n", schema.MaxMessageSize)
	return err
}
