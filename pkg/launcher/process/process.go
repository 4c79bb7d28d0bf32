// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package process implements the $process launcher: it runs a local command
// with the worker URL appended to its arguments.
//
// Configuration keys:
//
//	command:     executable to run (required)
//	commandArgs: arguments placed before the URL; ${...} variables are replaced
package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/united-manufacturing-hub/browserfleet/pkg/launcher"
	"github.com/united-manufacturing-hub/browserfleet/pkg/standarderrors"
)

// Kind is the builtin template name of this launcher.
const Kind = "$process"

// killGrace is how long a stopped process may take to exit before it is killed.
const killGrace = 5 * time.Second

// Launcher runs one browser process.
type Launcher struct {
	cmd    *exec.Cmd
	events launcher.Events
	name   string
	mu     sync.Mutex
	killed bool
}

// New is the launcher.Constructor of $process.
func New() (launcher.Launcher, error) {
	return &Launcher{}, nil
}

// Start spawns the process. Failing to spawn it is reported through the
// events: a missing executable disables the factory.
func (l *Launcher) Start(params launcher.StartParams) error {
	command, _ := params.Config["command"].(string)
	if command == "" {
		return standarderrors.NewPermanentError(errors.New("missing 'command' in the $process configuration"))
	}

	args, err := stringList(params.Config["commandArgs"])
	if err != nil {
		return standarderrors.NewPermanentError(err)
	}

	args = append(params.Variables.ReplaceAll(args), params.Variables.URL())

	l.events = params.Events
	l.name = strings.TrimSuffix(filepath.Base(command), filepath.Ext(command))

	l.events.Log(zapcore.DebugLevel, fmt.Sprintf("Executing: %s %s", command, strings.Join(args, " ")))

	cmd := exec.Command(command, args...)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		l.onStartError(err)
		l.events.Exit()

		return nil
	}

	l.mu.Lock()
	l.cmd = cmd
	l.mu.Unlock()

	var output sync.WaitGroup
	output.Add(2)

	go l.pipeToLog(stdout, &output)
	go l.pipeToLog(stderr, &output)

	go func() {
		output.Wait()
		waitErr := cmd.Wait()

		l.mu.Lock()
		killed := l.killed
		l.cmd = nil
		l.mu.Unlock()

		if waitErr != nil && !killed {
			l.events.Log(zapcore.ErrorLevel, fmt.Sprintf("%s: %s", l.name, waitErr))
		}

		l.events.Exit()
	}()

	return nil
}

func (l *Launcher) onStartError(err error) {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		l.events.Log(zapcore.ErrorLevel, fmt.Sprintf("%s could not be found.", l.name))
		l.events.Disable()

		return
	}

	l.events.Log(zapcore.ErrorLevel, fmt.Sprintf("%s: %s", l.name, err))
}

func (l *Launcher) pipeToLog(r io.Reader, done *sync.WaitGroup) {
	defer done.Done()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		l.events.Log(zapcore.InfoLevel, fmt.Sprintf("[%s] %s", l.name, scanner.Text()))
	}
}

// Stop terminates the process group, and kills it if it is still running after a grace period.
func (l *Launcher) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cmd == nil || l.cmd.Process == nil {
		return nil
	}

	l.killed = true
	cmd := l.cmd

	time.AfterFunc(killGrace, func() {
		l.mu.Lock()
		running := l.cmd == cmd
		l.mu.Unlock()

		if running {
			_ = killProcessGroup(cmd)
		}
	})

	return terminateProcessGroup(cmd)
}

func stringList(value any) ([]string, error) {
	if value == nil {
		return nil, nil
	}

	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("'commandArgs' must be a list, got %T", value)
	}

	result := make([]string, 0, len(items))
	for _, item := range items {
		result = append(result, fmt.Sprint(item))
	}

	return result, nil
}
