package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	gopsnet "github.com/shirou/gopsutil/v4/net"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fleetwatch/fleetwatch/internal/logging"
	"github.com/fleetwatch/fleetwatch/internal/models"
)

var Version = "dev"

var (
	serverURL string
	interval  time.Duration
	stateDir  string
	vmName    string
	userEmail string
)

var rootCmd = &cobra.Command{
	Use:     "fleetwatch-agent",
	Short:   "Fleetwatch agent - reports host metrics to the registry",
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgent()
	},
}

func init() {
	rootCmd.Flags().StringVar(&serverURL, "server", "http://127.0.0.1:7655", "Fleetwatch server base URL")
	rootCmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "reporting interval")
	rootCmd.Flags().StringVar(&stateDir, "state-dir", defaultStateDir(), "directory holding the persisted agent id")
	rootCmd.Flags().StringVar(&vmName, "name", "", "display name (defaults to hostname)")
	rootCmd.Flags().StringVar(&userEmail, "user", "", "dashboard account the VM record belongs to")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAgent() error {
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "fleetwatch-agent"})

	agentID, err := loadOrCreateAgentID(stateDir)
	if err != nil {
		return fmt.Errorf("failed to establish agent identity: %w", err)
	}

	name := vmName
	if name == "" {
		if hostname, err := os.Hostname(); err == nil {
			name = hostname
		} else {
			name = agentID
		}
	}

	log.Info().Str("agentID", agentID).Str("name", name).Str("server", serverURL).Msg("Agent starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if err := report(ctx, client, agentID, name); err != nil {
				log.Warn().Err(err).Msg("Report failed, will retry")
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return nil
			}
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Agent stopped")
	return nil
}

// report samples host metrics and upserts this agent's VM record.
func report(ctx context.Context, client *http.Client, agentID, name string) error {
	snapshot, err := collect(ctx, agentID, name)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	url := strings.TrimRight(serverURL, "/") + "/api/vms/" + agentID
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("report request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	log.Debug().Float64("cpu", snapshot.CPU).Float64("memory", snapshot.Memory).Msg("Reported metrics")
	return nil
}

func collect(ctx context.Context, agentID, name string) (models.VMSnapshot, error) {
	snapshot := models.VMSnapshot{
		ID:          agentID,
		Name:        name,
		OS:          runtime.GOOS,
		Status:      "Running",
		LastUpdated: time.Now().UTC(),
		User:        userEmail,
	}

	// One-second sampling window for CPU, matching typical agent behavior.
	cpuPercents, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err != nil {
		return snapshot, fmt.Errorf("failed to sample cpu: %w", err)
	}
	if len(cpuPercents) > 0 {
		snapshot.CPU = cpuPercents[0]
	}

	vmStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return snapshot, fmt.Errorf("failed to sample memory: %w", err)
	}
	snapshot.Memory = vmStat.UsedPercent

	diskStat, err := disk.UsageWithContext(ctx, rootPath())
	if err != nil {
		log.Warn().Err(err).Msg("Failed to sample disk usage")
	} else {
		snapshot.Disk = diskStat.UsedPercent
	}

	counters, err := gopsnet.IOCountersWithContext(ctx, false)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to sample network counters")
	} else if len(counters) > 0 {
		snapshot.Network = models.NetworkCounters{
			BytesSent:   counters[0].BytesSent,
			BytesRecv:   counters[0].BytesRecv,
			PacketsSent: counters[0].PacketsSent,
			PacketsRecv: counters[0].PacketsRecv,
		}
	}

	return snapshot, nil
}

// loadOrCreateAgentID returns the persisted agent id, minting one on first
// run. The id is the VM's stable identity and must survive restarts.
func loadOrCreateAgentID(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}

	path := filepath.Join(dir, "agent_id")
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("failed to persist agent id: %w", err)
	}
	return id, nil
}

func defaultStateDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".fleetwatch")
	}
	return "."
}

func rootPath() string {
	if runtime.GOOS == "windows" {
		return "C:\\"
	}
	return "/"
}
