package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mogumoto/diaryd/internal/chat"
	"github.com/mogumoto/diaryd/internal/command"
	"github.com/mogumoto/diaryd/internal/config"
	"github.com/mogumoto/diaryd/internal/diary"
	"github.com/mogumoto/diaryd/internal/gateway"
	"github.com/mogumoto/diaryd/internal/schedule"
)

var rootCmd = &cobra.Command{
	Use:   "diaryd",
	Short: "diaryd - chat diary bot",
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the full gateway (channels + daily schedule)",
	RunE:  runGateway,
}

var generateCmd = &cobra.Command{
	Use:   "generate [date]",
	Short: "Generate a diary from the archive for a date (default today)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runGenerate,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directories",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show diaryd status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(gatewayCmd, generateCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if modelKey(cfg) == "" {
		return fmt.Errorf("API key not set. Run 'diaryd onboard' or set DIARYD_API_KEY / OPENAI_API_KEY")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

// runGenerate is a one-shot manual run over everything in the archive,
// the same as the private-chat generate command.
func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if modelKey(cfg) == "" {
		return fmt.Errorf("API key not set. Run 'diaryd onboard' or set DIARYD_API_KEY / OPENAI_API_KEY")
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	date := time.Now().In(loc).Format("2006-01-02")
	if len(args) == 1 {
		parsed, err := command.ParseDate(args[0], loc)
		if err != nil {
			return err
		}
		date = parsed
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	defer func() { _ = gw.Shutdown() }()

	reply, err := gw.RunManual(cmd.Context(), date, chat.PrivateRef("cli"))
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.MkdirAll(config.DataDir(), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	fmt.Printf("Data directory: %s\n", config.DataDir())
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key and OneBot ws_url\n", cfgPath)
	fmt.Println("  2. Or set DIARYD_API_KEY / DIARYD_ONEBOT_WS_URL environment variables")
	fmt.Println("  3. Run 'diaryd gateway' to start")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Enabled: %v\n", cfg.Plugin.Enabled)
	fmt.Printf("Model: %s\n", modelDisplay(cfg))
	if key := modelKey(cfg); key != "" && len(key) > 8 {
		fmt.Printf("API Key: %s...%s\n", key[:4], key[len(key)-4:])
	} else if key != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("Schedule: %s %s (filter %s, %d targets, enabled=%v)\n",
		cfg.Schedule.ScheduleTime, cfg.Schedule.Timezone,
		cfg.Schedule.FilterMode, len(cfg.Schedule.TargetChats),
		schedule.Enabled(cfg.Schedule.FilterMode, cfg.TargetRefs()))
	fmt.Printf("OneBot: enabled=%v\n", cfg.OneBot.Enabled)
	fmt.Printf("Qzone: enabled=%v\n", cfg.Qzone.Enabled)
	fmt.Printf("Archive: %s\n", cfg.Archive.DBPath)

	store, err := diary.OpenStore(diaryDBPath(cfg))
	if err != nil {
		fmt.Printf("Diary store: error (%v)\n", err)
		return nil
	}
	defer store.Close()

	stats, err := store.Stats()
	if err != nil {
		fmt.Printf("Diary store: error (%v)\n", err)
		return nil
	}
	if stats.TotalRecords == 0 {
		fmt.Println("Diaries: none yet")
	} else {
		fmt.Printf("Diaries: %d entries over %d dates (%s to %s)\n",
			stats.TotalRecords, stats.DistinctDates, stats.FirstDate, stats.LastDate)
	}

	return nil
}

func diaryDBPath(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.Archive.DBPath), "diary.db")
}

func modelKey(cfg *config.Config) string {
	if cfg.Custom.UseCustomModel {
		return cfg.Custom.APIKey
	}
	return cfg.Provider.APIKey
}

func modelDisplay(cfg *config.Config) string {
	if cfg.Custom.UseCustomModel {
		return cfg.Custom.ModelName + " (custom)"
	}
	if cfg.Provider.Model == "" {
		return "not set"
	}
	return cfg.Provider.Model
}
