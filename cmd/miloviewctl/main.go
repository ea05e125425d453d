package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/miloview/miloview/internal/config"
)

var (
	configPath string
	daemonAddr string
)

func main() {
	root := &cobra.Command{
		Use:   "miloviewctl",
		Short: "Control a running miloviewd or work with its data files",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default ~/.miloview/config.toml)")
	root.PersistentFlags().StringVar(&daemonAddr, "addr", "", "daemon address (default from config http_addr)")

	root.AddCommand(initCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(resyncCmd())
	root.AddCommand(blockCmd())
	root.AddCommand(unblockCmd())
	root.AddCommand(blockedCmd())
	root.AddCommand(exportCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	return config.Load(path)
}

// daemonURL resolves the daemon base URL from --addr or the config.
func daemonURL(path string) (string, error) {
	addr := daemonAddr
	if addr == "" {
		cfg, err := loadConfig()
		if err != nil {
			return "", err
		}
		addr = cfg.HTTPAddr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return addr + path, nil
}

func apiGet(path string, out any) error {
	url, err := daemonURL(path)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("is miloviewd running? %w", err)
	}
	defer resp.Body.Close()
	return decodeAPIResponse(resp, out)
}

func apiPost(path string, body, out any) error {
	url, err := daemonURL(path)
	if err != nil {
		return err
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("is miloviewd running? %w", err)
	}
	defer resp.Body.Close()
	return decodeAPIResponse(resp, out)
}

func decodeAPIResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon: %s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = config.DefaultPath()
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			cfg := config.Default()
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			if err := cfg.EnsureDataDir(); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache and sync statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			var stats map[string]any
			if err := apiGet("/api/stats", &stats); err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
}

func resyncCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "resync",
		Short: "Trigger a full resync of the message cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := apiPost("/api/refresh", map[string]int{"days": days}, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "history window in days (0 = configured default)")
	return cmd
}
