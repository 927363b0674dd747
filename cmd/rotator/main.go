package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"liuproxy_rotator/internal/app"
	"liuproxy_rotator/internal/shared/config"
	"liuproxy_rotator/internal/shared/logger"
	"liuproxy_rotator/internal/shared/types"
	manager "liuproxy_rotator/proxypool"
	"liuproxy_rotator/proxypool/fingerprint"
	"liuproxy_rotator/proxypool/scraper"
	"liuproxy_rotator/proxypool/transport"
	"liuproxy_rotator/proxypool/validator"
)

var (
	configDir string
	cfg       *types.Config
)

var rootCmd = &cobra.Command{
	Use:          "rotator",
	Short:        "A rotating pool of validated free HTTP proxies",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		iniPath := filepath.Join(configDir, "rotator.ini")

		var err error
		cfg, err = config.LoadIni(iniPath)
		if err != nil {
			return fmt.Errorf("failed to load config file '%s': %w", iniPath, err)
		}
		if err := logger.Init(cfg.LogConf); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy pool and the status API until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		server, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}
		return server.Run(ctx)
	},
}

var getCmd = &cobra.Command{
	Use:     "get [url]",
	Short:   "Fetch a URL once through the pool and print the body",
	Example: "rotator get https://api64.ipify.org?format=json --timeout 30s",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		m, err := manager.New(ctx, cfg.PoolConf)
		if err != nil {
			return err
		}
		defer func() {
			m.Close()
			m.Wait()
		}()

		resp, err := m.Get(ctx, args[0], nil, manager.WithTimeout(timeout))
		if err != nil {
			return err
		}
		logger.Info().
			Str("proxy", resp.Proxy.String()).
			Str("fingerprint", resp.Fingerprint).
			Int("status_code", resp.StatusCode).
			Msg("Fetched.")
		_, err = cmd.OutOrStdout().Write(resp.Body)
		return err
	},
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape the configured listing sources and print candidate proxies",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := scraper.FromNames(cfg.Sources(), cfg.ScrapeTimeout(), cfg.ScrapePerMinute)
		if err != nil {
			return err
		}
		addrs, err := s.Scrape(cmd.Context())
		if err != nil {
			return err
		}
		for _, a := range addrs {
			fmt.Fprintln(cmd.OutOrStdout(), a)
		}
		logger.Info().Int("count", len(addrs)).Str("sources", s.Name()).Msg("Scrape finished.")
		return nil
	},
}

var myIPCmd = &cobra.Command{
	Use:   "myip",
	Short: "Print the local public IP as seen by the IP check endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := transport.NewClient(transport.WithInsecureSkipVerify(cfg.InsecureSkipVerify))
		v := validator.NewValidator(client, cfg.IPCheckURL, cfg.ValidateTimeout(), fingerprint.Random())
		ip, ok := v.ResolvePublicIP(cmd.Context())
		if !ok {
			return manager.ErrInitialization
		}
		fmt.Fprintln(cmd.OutOrStdout(), ip)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "configdir", "configs", "Path to config directory")
	getCmd.Flags().Duration("timeout", 10*time.Second, "Pool wait and per-request timeout")

	rootCmd.AddCommand(serveCmd, getCmd, scrapeCmd, myIPCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
		os.Exit(1)
	}
}
