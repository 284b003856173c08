//go:build windows

package tools

import (
	"fmt"
	"os/exec"
)

func setProcAttributes(cmd *exec.Cmd) {}

// killProcessTree uses taskkill to take down the child and its descendants.
func killProcessTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	kill := exec.Command("taskkill", "/T", "/F", "/PID", fmt.Sprintf("%d", cmd.Process.Pid))
	if err := kill.Run(); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}
