package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/edgefn/gemini-relay/internal/config"
	"github.com/edgefn/gemini-relay/internal/credstore"
	"github.com/edgefn/gemini-relay/internal/relayserver"
	"github.com/edgefn/gemini-relay/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "gmr",
		Short:         "gemini-relay keeps the Gemini API credential server-side and relays generate requests",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "gmr.yaml", "path to config yaml")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return relayserver.Run(cfgPath)
		},
	}

	check := &cobra.Command{
		Use:   "checkconfig",
		Short: "Validate config and credential resolution, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigCheck(cfgPath)
		},
	}

	ver := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Get())
		},
	}

	encrypt := &cobra.Command{
		Use:   "encrypt [plaintext]",
		Short: "Encrypt a credential value to ENC[v1:aesgcm:...] using GMR_MASTER_KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			enc, err := credstore.Encrypt(args[0])
			if err != nil {
				return err
			}
			fmt.Println(enc)
			return nil
		},
	}

	root.AddCommand(serve, check, ver, encrypt)
	return root
}

func runConfigCheck(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	fmt.Println("ok: config")
	fmt.Printf("    listen=%s model=%s base_url=%s\n", cfg.Server.Listen, cfg.Upstream.Model, cfg.Upstream.BaseURL)

	key, err := credstore.Resolve(cfg.Upstream.Key, cfg.Upstream.KeyFile)
	if err != nil {
		return fmt.Errorf("credential: %w", err)
	}
	if key == "" {
		fmt.Println("warning: upstream credential is not configured")
	} else {
		fmt.Printf("ok: credential (%s)\n", credstore.Mask(key))
	}
	return nil
}
