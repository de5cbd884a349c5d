//go:build !unix

package runner

import "os/exec"

func setProcessGroup(_ *exec.Cmd) {}

// killProcessGroup only kills the direct child on platforms without
// process groups.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
