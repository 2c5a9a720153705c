package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"voicebot/internal/config"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your Voicebot installation",
		Long: `Verifies that Voicebot's configuration, channel credentials, backends,
and knowledge database are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("Voicebot Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'voicebot init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\nResults: %d passed, %d failed\n", passed, 1)
				return nil
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Channel credentials
			if cfg.WhatsApp.AccessToken == "" {
				printFail("WhatsApp token", "accessToken not set")
				failed++
			} else {
				printPass("WhatsApp token", "configured")
				passed++
			}
			if cfg.WhatsApp.PhoneNumberID == "" {
				printFail("WhatsApp sender", "phoneNumberId not set")
				failed++
			} else {
				printPass("WhatsApp sender", cfg.WhatsApp.PhoneNumberID)
				passed++
			}
			if cfg.WhatsApp.VerifyToken == "" {
				printWarn("Verify token", "not set; webhook verification will reject all handshakes")
				warned++
			} else {
				printPass("Verify token", "configured")
				passed++
			}
			if cfg.WhatsApp.AppSecret == "" {
				printWarn("App secret", "not set; webhook signatures will not be checked")
				warned++
			} else {
				printPass("App secret", "configured")
				passed++
			}

			// 4. Audio replies need a public base URL
			if cfg.Server.PublicBaseURL == "" {
				printWarn("Public base URL", "not set; audio replies cannot be delivered")
				warned++
			} else {
				printPass("Public base URL", cfg.Server.PublicBaseURL)
				passed++
			}

			// 5. Azure backends
			if cfg.Azure.Endpoint == "" || cfg.Azure.APIKey == "" {
				printFail("Azure OpenAI", "endpoint or apiKey not set")
				failed++
			} else {
				printPass("Azure OpenAI", cfg.Azure.Endpoint)
				passed++
			}
			for _, d := range []struct{ name, deployment string }{
				{"GPT deployment", cfg.Azure.GPTDeployment},
				{"STT deployment", cfg.Azure.STTDeployment},
				{"TTS deployment", cfg.Azure.TTSDeployment},
			} {
				if d.deployment == "" {
					printWarn(d.name, "not set")
					warned++
				} else {
					printPass(d.name, d.deployment)
					passed++
				}
			}

			// 6. Knowledge database writable
			if cfg.Knowledge.Enabled {
				if err := checkDatabase(cfg.Knowledge.DBPath); err != nil {
					printFail("Knowledge DB", err.Error())
					failed++
				} else {
					printPass("Knowledge DB", cfg.Knowledge.DBPath)
					passed++
				}
				if cfg.Knowledge.DataPath != "" {
					if _, err := os.Stat(cfg.Knowledge.DataPath); err != nil {
						printWarn("Knowledge data", fmt.Sprintf("manifest not found: %s", cfg.Knowledge.DataPath))
						warned++
					} else {
						printPass("Knowledge data", cfg.Knowledge.DataPath)
						passed++
					}
				}
			}

			// 7. Server port available
			if err := checkPort(cfg.Server.Port); err != nil {
				printWarn("Server port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
				warned++
			} else {
				printPass("Server port", fmt.Sprintf(":%d available", cfg.Server.Port))
				passed++
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running Voicebot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nVoicebot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! Voicebot is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
