package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/bus"
	"github.com/tern-db/tern/httpd"
	"github.com/tern-db/tern/local"
)

// EndpointConfig is the yaml config accepted by `tern endpoint`.
type EndpointConfig struct {
	HTTP struct {
		// Addr is the listen address, e.g. ":8080". Empty disables the
		// HTTP endpoint.
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Bus struct {
		// Name is the bus name to claim. Empty disables the bus
		// endpoint.
		Name string `yaml:"name"`
		// Session selects the session bus; the system bus otherwise.
		Session bool `yaml:"session"`
	} `yaml:"bus"`
	ReadOnly bool `yaml:"readOnly"`
}

// NewEndpointCommand serves the store over HTTP and/or the bus.
func NewEndpointCommand(root *RootOptions) *cobra.Command {
	var (
		configFile string
		httpAddr   string
		busName    string
	)
	cmd := &cobra.Command{
		Use:   "endpoint",
		Short: "Serve the store over HTTP and/or D-Bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.validate(); err != nil {
				return err
			}
			var cfg EndpointConfig
			if configFile != "" {
				data, err := os.ReadFile(configFile)
				if err != nil {
					return err
				}
				if err := yaml.Unmarshal(data, &cfg); err != nil {
					return fmt.Errorf("parse %s: %w", configFile, err)
				}
			}
			if httpAddr != "" {
				cfg.HTTP.Addr = httpAddr
			}
			if busName != "" {
				cfg.Bus.Name = busName
			}
			if cfg.HTTP.Addr == "" && cfg.Bus.Name == "" {
				return fmt.Errorf("nothing to serve: set --http-addr, --bus-name or a config file")
			}

			flags := tern.FlagNone
			if cfg.ReadOnly {
				flags |= tern.FlagReadOnly
			}
			conn, err := local.New(cmd.Context(), flags, root.Store, root.Ontology)
			if err != nil {
				return err
			}
			defer conn.Close()

			if cfg.HTTP.Addr != "" {
				ep := httpd.NewEndpoint(conn)
				if err := ep.Start(cfg.HTTP.Addr); err != nil {
					return err
				}
				defer ep.Shutdown(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "serving SPARQL over HTTP on %s\n", cfg.HTTP.Addr)
			}

			if cfg.Bus.Name != "" {
				var busConn *dbus.Conn
				var err error
				if cfg.Bus.Session {
					busConn, err = dbus.ConnectSessionBus()
				} else {
					busConn, err = dbus.ConnectSystemBus()
				}
				if err != nil {
					return err
				}
				defer busConn.Close()
				ep, err := bus.NewEndpoint(busConn, cfg.Bus.Name, "", conn, nil)
				if err != nil {
					return err
				}
				defer ep.Close()
				fmt.Fprintf(cmd.OutOrStdout(), "serving SPARQL on bus name %s\n", cfg.Bus.Name)
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			select {
			case <-sig:
			case <-cmd.Context().Done():
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "endpoint config file (yaml)")
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address")
	cmd.Flags().StringVar(&busName, "bus-name", "", "bus name to claim")
	return cmd
}
