//go:build !unix

package runner

import "os/exec"

func configureProcessGroup(_ *exec.Cmd, _ bool) {}
