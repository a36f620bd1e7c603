package e2e

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const (
	TEST_RELAY_TIMEOUT = 15 * time.Second
	// 32 bytes, base64url without padding
	TEST_SYNC_KEY = "AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8"
)

// TestTwoDeviceSync runs a relay and two devices against a built binary:
// a habit marked on one device shows up on the other.
func TestTwoDeviceSync(t *testing.T) {
	cliPath := findBinary(t)

	tempDir := t.TempDir()
	port := freePort(t)
	relayURL := fmt.Sprintf("http://127.0.0.1:%d", port)

	baseEnv := isolatedEnv(tempDir)
	baseEnv = append(baseEnv,
		"HABITSYNC_RELAY_URL="+relayURL,
		"HABITSYNC_SYNC_KEY="+TEST_SYNC_KEY,
	)

	// 1. Relay
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	relayCmd := exec.CommandContext(ctx, cliPath, "relay", "serve", "--memory", "--listen", fmt.Sprintf("127.0.0.1:%d", port))
	relayCmd.Env = baseEnv
	relayCmd.Stdout = os.Stdout
	relayCmd.Stderr = os.Stderr
	if err := relayCmd.Start(); err != nil {
		t.Fatalf("Failed to start relay: %v", err)
	}
	defer func() {
		cancel()
		_ = relayCmd.Wait()
	}()
	waitForRelay(t, relayURL+"/healthz", TEST_RELAY_TIMEOUT)

	phone := filepath.Join(tempDir, "phone", "habitsync.db")
	laptop := filepath.Join(tempDir, "laptop", "habitsync.db")

	// 2. Phone creates and marks a habit, then syncs
	runCmd(t, cliPath, baseEnv, "--config", phone, "init")
	runCmd(t, cliPath, baseEnv, "--config", phone, "habit", "add", "Stretch", "--start", "2024-03-01")
	runCmd(t, cliPath, baseEnv, "--config", phone, "habit", "mark", "Stretch", "--date", "2024-03-05")
	runCmd(t, cliPath, baseEnv, "--config", phone, "sync")

	// 3. Laptop adds its own habit and syncs
	runCmd(t, cliPath, baseEnv, "--config", laptop, "init")
	runCmd(t, cliPath, baseEnv, "--config", laptop, "habit", "add", "Read", "--start", "2024-03-01")
	runCmd(t, cliPath, baseEnv, "--config", laptop, "sync")

	// 4. Phone picks up the laptop's habit
	runCmd(t, cliPath, baseEnv, "--config", phone, "sync")

	for _, device := range []string{phone, laptop} {
		out := runCmd(t, cliPath, baseEnv, "--config", device, "export")
		if !strings.Contains(out, "Stretch") || !strings.Contains(out, "Read") {
			t.Errorf("device %s did not converge:\n%s", device, out)
		}
	}

	// 5. The mark made on the phone is visible on the laptop
	out := runCmd(t, cliPath, baseEnv, "--config", laptop, "today", "--date", "2024-03-05")
	if !strings.Contains(out, "Stretch") {
		t.Errorf("expected Stretch in laptop agenda:\n%s", out)
	}

	runCmd(t, cliPath, baseEnv, "--config", laptop, "status")
}

func findBinary(t *testing.T) string {
	t.Helper()
	binDir := os.Getenv("HABITSYNC_BIN_DIR")
	if binDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			t.Fatalf("Failed to get cwd: %v", err)
		}
		binDir = filepath.Join(cwd, "..", "..", "bin")
	}
	binDir, _ = filepath.Abs(binDir)

	cliPath := filepath.Join(binDir, "habitsync")
	if _, err := os.Stat(cliPath); os.IsNotExist(err) {
		t.Skipf("CLI binary not found at %s. Build it first or set HABITSYNC_BIN_DIR.", cliPath)
	}
	return cliPath
}

// isolatedEnv points HOME and XDG dirs at tempDir so the test never reads
// the user's settings.
func isolatedEnv(tempDir string) []string {
	var env []string
	for _, e := range os.Environ() {
		if strings.HasPrefix(e, "HOME=") || strings.HasPrefix(e, "XDG_CONFIG_HOME=") || strings.HasPrefix(e, "HABITSYNC_") {
			continue
		}
		env = append(env, e)
	}
	return append(env,
		"HOME="+tempDir,
		"XDG_CONFIG_HOME="+tempDir,
	)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find a free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func waitForRelay(t *testing.T, url string, timeout time.Duration) {
	t.Helper()
	start := time.Now()
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		if time.Since(start) > timeout {
			t.Fatalf("Timed out waiting for relay at %s", url)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func runCmd(t *testing.T, path string, env []string, args ...string) string {
	t.Helper()
	cmd := exec.Command(path, args...)
	cmd.Env = env
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("Command %s %v failed: %v\nOutput: %s", path, args, err, out)
	}
	return string(out)
}
