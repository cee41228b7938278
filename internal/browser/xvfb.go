package browser

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// displaySocket returns the X11 socket path of a display such as ":99".
func displaySocket(display string) (string, error) {
	n := strings.TrimPrefix(display, ":")
	if i := strings.IndexByte(n, '.'); i >= 0 {
		n = n[:i]
	}
	if n == "" || strings.Trim(n, "0123456789") != "" {
		return "", fmt.Errorf("browser: bad display %q", display)
	}
	return "/tmp/.X11-unix/X" + n, nil
}

// startXvfb makes the headful display available. A display already served
// by another process is reused and left running on Close.
func (m *Manager) startXvfb() error {
	if m.xvfb != nil {
		return nil
	}
	sock, err := displaySocket(m.cfg.XvfbDisplay)
	if err != nil {
		return err
	}
	if _, err := os.Stat(sock); err == nil {
		m.cfg.Logger.Info("browser: reusing display", "display", m.cfg.XvfbDisplay)
		return nil
	}

	cmd := exec.Command("Xvfb", m.cfg.XvfbDisplay, "-screen", "0", "1920x1080x24", "-ac", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb: %w", err)
	}
	m.xvfb = cmd

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, err := os.Stat(sock); err == nil {
			break
		}
		if time.Now().After(deadline) {
			m.stopXvfb()
			return fmt.Errorf("xvfb: %s not ready after 3s", sock)
		}
		time.Sleep(50 * time.Millisecond)
	}
	m.cfg.Logger.Info("browser: xvfb started", "display", m.cfg.XvfbDisplay, "pid", cmd.Process.Pid)
	return nil
}

func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	if m.xvfb.Process != nil {
		m.xvfb.Process.Kill()
		m.xvfb.Wait()
	}
	m.cfg.Logger.Info("browser: xvfb stopped")
	m.xvfb = nil
}
